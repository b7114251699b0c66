// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/autoencoders/internal/latentplot"
	"github.com/gomlx/autoencoders/internal/synthetic"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/rhvae"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/vae"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// writePlots encodes the data with the trained model and writes the latent space map and the loss curve.
func writePlots(backend backends.Backend, ctx *context.Context, cfg *rhvae.Config, runID string,
	data *tensors.Tensor, history *lossHistory) error {
	latentT, err := context.ExecOnce(backend, ctx.Reuse(), func(ctx *context.Context, x *Node) *Node {
		return vae.EncodeMean(ctx, x, cfg.LatentDim)
	}, data)
	if err != nil {
		return errors.WithMessage(err, "failed to encode the data")
	}
	latent, err := synthetic.ToPoints(latentT)
	if err != nil {
		return err
	}
	host, err := rhvae.NewHostMetricCache(ctx)
	if err != nil {
		return err
	}
	box, err := latentplot.BoundingBox(append(latent, host.Latent...), 0.1)
	if err != nil {
		return err
	}
	grid, err := latentplot.NewVolumeGrid(host, cfg, box, *flagPlotGrid)
	if err != nil {
		return err
	}
	latentMap, err := latentplot.LatentMap(fmt.Sprintf("RHVAE latent space (run %s)", runID), latent, host.Latent, grid)
	if err != nil {
		return err
	}
	latentPath := filepath.Join(*flagOutputDir, fmt.Sprintf("rhvae_%s_latent.png", runID))
	if err = latentplot.Save(latentMap, latentPath); err != nil {
		return err
	}

	lossCurve, err := latentplot.LossCurve(history.steps, history.losses)
	if err != nil {
		return err
	}
	lossPath := filepath.Join(*flagOutputDir, fmt.Sprintf("rhvae_%s_loss.png", runID))
	if err = latentplot.Save(lossCurve, lossPath); err != nil {
		return err
	}
	klog.V(1).Infof("plots written to %s and %s", latentPath, lossPath)
	if *flagVerbosity >= 1 {
		fmt.Printf("Latent space: %s\nLoss curve:   %s\n", latentPath, lossPath)
	}
	return nil
}
