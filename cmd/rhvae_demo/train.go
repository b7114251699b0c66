// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/autoencoders/internal/progress"
	"github.com/gomlx/autoencoders/internal/synthetic"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/rhvae"
	"github.com/gomlx/autoencoders/pkg/ml/centroids"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DType of the data and the model.
var DType = dtypes.Float32

// lossHistory collects the batch loss during training, for the loss curve.
type lossHistory struct {
	steps, losses []float64
}

func scalarToFloat64(t *tensors.Tensor) (float64, error) {
	switch t.DType() {
	case dtypes.Float32:
		return float64(tensors.ToScalar[float32](t)), nil
	case dtypes.Float64:
		return tensors.ToScalar[float64](t), nil
	}
	return 0, errors.Errorf("unexpected loss dtype %s", t.DType())
}

// run generates the data, selects the centroids, trains the model and writes the plots.
func run(backend backends.Backend, ctx *context.Context) error {
	runID := uuid.NewString()[:8]
	seed := context.GetParamOr(ctx, ParamSeed, 42)
	if err := ctx.SetRNGStateFromSeed(int64(seed)); err != nil {
		return errors.WithMessagef(err, "failed to seed the random number generator with %d", seed)
	}
	cfg, err := rhvae.ConfigFromContext(ctx, LatentDim)
	if err != nil {
		return err
	}
	klog.V(1).Infof("run %s: %s", runID, cfg)

	// Data and centroids.
	numExamples := context.GetParamOr(ctx, ParamNumExamples, 1024)
	moons, err := synthetic.Moons(backend, ctx, DType, numExamples, context.GetParamOr(ctx, ParamMoonsNoise, 0.05))
	if err != nil {
		return err
	}
	points, err := synthetic.ToPoints(moons)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)+1))
	centroidPoints, err := centroids.KMedoids(points, context.GetParamOr(ctx, ParamNumCentroids, 32), 100, rng)
	if err != nil {
		return errors.WithMessage(err, "failed to select centroids")
	}
	rhvae.SetCentroids(ctx, centroids.ToTensor32(centroidPoints))

	points32 := make([][]float32, len(points))
	for ii, point := range points {
		points32[ii] = []float32{float32(point[0]), float32(point[1])}
	}
	trainDS, err := datasets.InMemoryFromData(backend, "moons", []any{points32}, []any{points32})
	if err != nil {
		return errors.WithMessage(err, "failed to create dataset")
	}
	trainDS.Shuffle().Infinite(true).BatchSize(context.GetParamOr(ctx, ParamBatchSize, 64), true)

	// Checkpoints: they also hold the centroids and the stored metric cache.
	var checkpoint *checkpoints.Handler
	if *flagCheckpoint != "" {
		checkpoint, err = checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done()
		if err != nil {
			return errors.WithMessagef(err, "failed to create checkpoint in %q", *flagCheckpoint)
		}
	}

	model := rhvae.New(cfg)
	modelFn := func(ctx *context.Context, _ any, inputs []*Node) []*Node {
		return []*Node{model.Loss(ctx, inputs[0])}
	}
	// The model output is already the loss.
	lossFn := func(_, predictions []*Node) *Node { return predictions[0] }
	trainer := train.NewTrainer(backend, ctx, modelFn, lossFn,
		optimizers.FromContext(ctx),
		[]metrics.Interface{}, // trainMetrics
		[]metrics.Interface{}) // evalMetrics
	loop := train.NewLoop(trainer)

	updater, err := rhvae.NewMetricUpdater(backend, ctx, cfg)
	if err != nil {
		return err
	}
	defer updater.Finalize()
	numUpdates := 0
	updatePeriod := context.GetParamOr(ctx, ParamMetricUpdatePeriod, 0)
	if updatePeriod == 0 && !cfg.DifferentiableMetric {
		updatePeriod = 1
	}
	if !cfg.DifferentiableMetric {
		// The loss reads the stored cache, so it must exist before the first step.
		if err = updater.Update(); err != nil {
			return err
		}
		numUpdates++
	}
	if updatePeriod > 0 {
		loop.OnStep("metric cache", 10, func(loop *train.Loop, _ []*tensors.Tensor) error {
			if (loop.LoopStep+1)%updatePeriod != 0 {
				return nil
			}
			numUpdates++
			return updater.Update()
		})
	}

	history := &lossHistory{}
	train.NTimesDuringLoop(loop, 200, "loss history", 20, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		loss, err := scalarToFloat64(metrics[0])
		if err != nil {
			return err
		}
		history.steps = append(history.steps, float64(loop.LoopStep))
		history.losses = append(history.losses, loss)
		return nil
	})
	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
			func(_ *train.Loop, _ []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}
	if *flagVerbosity >= 1 {
		progress.Attach(loop, func() (string, string) {
			return "Metric cache refreshes", humanize.Comma(int64(numUpdates))
		})
	}

	// Train for the remaining steps.
	numTrainSteps := context.GetParamOr(ctx, ParamTrainSteps, 2000)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	start := time.Now()
	if globalStep < numTrainSteps {
		if _, err = loop.RunSteps(trainDS, numTrainSteps-globalStep); err != nil {
			return errors.WithMessagef(err, "training failed at step %d", loop.LoopStep)
		}
	} else {
		fmt.Printf("\t- target %s=%d already reached.\n", ParamTrainSteps, numTrainSteps)
	}
	if err = updater.Update(); err != nil {
		return err
	}
	numUpdates++
	if checkpoint != nil {
		if err = checkpoint.Save(); err != nil {
			return err
		}
	}
	if *flagVerbosity >= 1 {
		fmt.Printf("Run %s: %s parameters trained for %s steps in %s (median step %s), %s metric cache refreshes.\n",
			runID, humanize.Comma(int64(countTrainableParameters(ctx))), humanize.Comma(int64(numTrainSteps)),
			progress.FormatDuration(time.Since(start)), progress.FormatDuration(loop.MedianTrainStepDuration()),
			humanize.Comma(int64(numUpdates)))
	}
	return writePlots(backend, ctx, cfg, runID, moons, history)
}

func countTrainableParameters(ctx *context.Context) int {
	var count int
	for v := range ctx.IterVariables() {
		if v.Trainable {
			count += v.Shape().Size()
		}
	}
	return count
}
