// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// rhvae_demo trains a Riemannian Hamiltonian VAE on the two moons dataset and plots its 2D latent space,
// with the volume element of the learned metric as a heatmap.
//
// Hyperparameters are context parameters, set with -set="param1=value1;param2=value2". Run with -help to
// list them.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/encoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/rhvae"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/vae"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

// Demo hyperparameters, on top of the ones of the model packages.
const (
	ParamTrainSteps   = "train_steps"
	ParamBatchSize    = "batch_size"
	ParamNumExamples  = "num_examples"
	ParamMoonsNoise   = "moons_noise"
	ParamNumCentroids = "num_centroids"
	ParamSeed         = "seed"

	// ParamMetricUpdatePeriod is the number of steps between refreshes of the stored metric cache. 0 refreshes
	// it after every step if the loss uses the stored cache, and only at the end otherwise.
	ParamMetricUpdatePeriod = "metric_update_period"

	// LatentDim is fixed to 2, so the latent space can be plotted.
	LatentDim = 2
)

var (
	flagOutputDir  = flag.String("output", ".", "Directory where to write the plots.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If empty, no checkpoints are saved.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity: 0 prints only errors, 2 prints all hyperparameters.")
	flagPlotGrid   = flag.Int("plot_grid", 64, "Resolution of the metric volume heatmap.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	defaults := rhvae.DefaultConfig(LatentDim)
	ctx.SetParams(map[string]any{
		ParamTrainSteps:         2000,
		ParamBatchSize:          64,
		ParamNumExamples:        1024,
		ParamMoonsNoise:         0.05,
		ParamNumCentroids:       32,
		ParamSeed:               42,
		ParamMetricUpdatePeriod: 0,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
		activations.ParamActivation:  "tanh",

		encoders.ParamKind:            encoders.KindLogSigma.String(),
		encoders.ParamNumHiddenLayers: 2,
		encoders.ParamNumHiddenNodes:  32,
		decoders.ParamKind:            decoders.KindFixedSigma.String(),
		decoders.ParamNumHiddenLayers: 2,
		decoders.ParamNumHiddenNodes:  32,
		vae.ParamBeta:                 1.0,

		rhvae.ParamNumLeapfrogSteps:     defaults.NumLeapfrogSteps,
		rhvae.ParamLeapfrogStepSize:     defaults.StepSize,
		rhvae.ParamFixedPointSteps:      defaults.FixedPointSteps,
		rhvae.ParamBeta0:                defaults.Beta0,
		rhvae.ParamRegularization:       defaults.Regularization,
		rhvae.ParamTemperature:          defaults.Temperature,
		rhvae.ParamTempering:            "quadratic",
		rhvae.ParamDifferentiableMetric: defaults.DifferentiableMetric,
		rhvae.ParamMetricHiddenLayers:   defaults.MetricHiddenLayers,
		rhvae.ParamMetricHiddenNodes:    defaults.MetricHiddenNodes,
	})
	return ctx
}

func main() {
	klog.InitFlags(nil)
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()

	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		klog.Exitf("Failed to parse -set=%q: %+v", *settings, err)
	}
	if *flagVerbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	} else if *flagVerbosity >= 1 && len(paramsSet) > 0 {
		fmt.Println("Hyperparameters set:")
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	if err = os.MkdirAll(*flagOutputDir, 0o755); err != nil {
		klog.Exitf("Failed to create output directory %q: %v", *flagOutputDir, err)
	}

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	if err = run(backend, ctx); err != nil {
		klog.Fatalf("Training failed: %+v", err)
	}
}
