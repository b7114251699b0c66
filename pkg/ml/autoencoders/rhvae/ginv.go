// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"

	"github.com/gomlx/autoencoders/internal/workerspool"
	"github.com/gomlx/autoencoders/pkg/core/linalg"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GInv returns the inverse metric at the latent points z (shaped [batch, D]):
//
//	G⁻¹(z) = Σᵢ exp(-‖z - cᵢ‖²/T²)·Mᵢ + λ·I
//
// where cᵢ and Mᵢ are the centroids and the quadratic forms of the cache. The result is shaped [batch, D, D]
// and is symmetric positive-definite for λ > 0.
//
// It is differentiable with respect to z and to the cache.
func GInv(cache *MetricCache, z *Node, cfg *Config) *Node {
	autoencoders.AssertMatrix("latent z", z, cfg.LatentDim)
	autoencoders.AssertMatrix("centroids latent", cache.Latent, cfg.LatentDim)
	batchSize, dim := z.Shape().Dimensions[0], cfg.LatentDim
	numCentroids := cache.NumCentroids()
	g := z.Graph()

	// Squared distances, shaped [batch, N].
	diff := Sub(
		BroadcastToDims(ExpandAxes(z, 1), batchSize, numCentroids, dim),
		BroadcastToDims(ExpandAxes(cache.Latent, 0), batchSize, numCentroids, dim))
	dist2 := ReduceSum(Square(diff), -1)
	weights := Exp(MulScalar(dist2, -1/(cfg.Temperature*cfg.Temperature)))

	gInv := Einsum("bn,nij->bij", weights, cache.Forms)
	lambda := Scalar(g, z.DType(), cfg.Regularization)
	return Add(gInv, linalg.ScaledIdentity(lambda, batchSize, dim))
}

// GInvFast computes G⁻¹(z) for one latent point, with plain loops over the centroids, outside any graph.
// It is meant for inference (e.g. plotting) and agrees with GInv up to floating-point error.
func GInvFast(host *HostMetricCache, z []float64, cfg *Config) *mat.SymDense {
	if len(z) != cfg.LatentDim {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "GInvFast: z has %d values, latent dimension is %d",
			len(z), cfg.LatentDim)
	}
	dim := cfg.LatentDim
	invT2 := 1 / (cfg.Temperature * cfg.Temperature)
	gInv := mat.NewSymDense(dim, nil)
	for ii, centroid := range host.Latent {
		dist := floats.Distance(z, centroid, 2)
		weight := math.Exp(-dist * dist * invT2)
		form := host.Forms[ii]
		for row := range dim {
			for col := row; col < dim; col++ {
				gInv.SetSym(row, col, gInv.At(row, col)+weight*form.At(row, col))
			}
		}
	}
	for ii := range dim {
		gInv.SetSym(ii, ii, gInv.At(ii, ii)+cfg.Regularization)
	}
	return gInv
}

// GInvFastBatch applies GInvFast to each latent point, in parallel.
func GInvFastBatch(host *HostMetricCache, z [][]float64, cfg *Config) []*mat.SymDense {
	results := make([]*mat.SymDense, len(z))
	err := workerspool.New().Run(len(z), func(ii int) error {
		// Panics are moved back to the calling goroutine.
		return exceptions.TryCatch[error](func() { results[ii] = GInvFast(host, z[ii], cfg) })
	})
	if err != nil {
		panic(err)
	}
	return results
}

// MetricVolume returns √det G(z) = 1/√det G⁻¹(z), the local volume element (magnification factor) of the
// learned metric at z.
func MetricVolume(host *HostMetricCache, z []float64, cfg *Config) (float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(GInvFast(host, z, cfg)); !ok {
		return 0, errors.Wrapf(autoencoders.ErrNumericalDegeneracy, "G⁻¹(%v) is not positive-definite", z)
	}
	return math.Exp(-0.5 * chol.LogDet()), nil
}
