// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"github.com/gomlx/autoencoders/pkg/core/linalg"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

// MetricScope is the scope, under the model context, of the metric network variables.
const MetricScope = "metric"

// MetricNetwork maps latent points z, shaped [batch, D], to the diagonal (shaped [batch, D]) and the
// strictly lower-triangular elements (shaped [batch, D(D-1)/2], row-major) of a matrix L.
//
// For D == 1 there are no lower elements and lower is nil.
//
// The network is a single FNN whose output is split in the two parts.
func MetricNetwork(ctx *context.Context, cfg *Config, z *Node) (diag, lower *Node) {
	autoencoders.AssertMatrix("latent z", z, cfg.LatentDim)
	dim := cfg.LatentDim
	numLower := linalg.NumLowerTriangular(dim)
	out := fnn.New(ctx.In(MetricScope), z, dim+numLower).
		NumHiddenLayers(cfg.MetricHiddenLayers, cfg.MetricHiddenNodes).
		Activation(activations.TypeTanh).
		Done()
	diag = linalg.Columns(out, 0, dim)
	if numLower > 0 {
		lower = linalg.Columns(out, dim, dim+numLower)
	}
	return
}

// MetricNetworkMatrix returns the lower-triangular L, shaped [batch, D, D], produced by the metric network.
func MetricNetworkMatrix(ctx *context.Context, cfg *Config, z *Node) *Node {
	diag, lower := MetricNetwork(ctx, cfg, z)
	return linalg.AssembleLowerTriangular(diag, lower)
}
