// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"github.com/gomlx/autoencoders/pkg/core/linalg"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Fixed 2D metric with 3 centroids, used across tests.
var (
	testCentroids = [][]float64{{1, 0}, {-0.5, 0.8}, {0.2, -1}}
	testFactors   = [][][]float64{
		{{1, 0}, {0.3, 0.8}},
		{{0.5, 0}, {-0.2, 1.2}},
		{{0.9, 0}, {0.1, 0.4}},
	}
	testDecoderWeights = [][]float64{{0.7, -0.4, 0.1}, {0.2, 0.5, -0.9}}
	testTarget         = []float64{0.5, -0.3, 0.2}
)

func testConfig() *Config {
	cfg := DefaultConfig(2)
	cfg.Temperature = 0.8
	return cfg
}

// testMetricCache builds the cache from the fixed centroids and factors.
func testMetricCache(g *Graph) *MetricCache {
	l := Const(g, testFactors)
	return &MetricCache{
		Latent: Const(g, testCentroids),
		Forms:  linalg.OuterSelf(l),
	}
}

// testDecoder is a fixed smooth decoder: µ(z) = tanh(z·W).
func testDecoder(z *Node) decoders.Output {
	w := Const(z.Graph(), testDecoderWeights)
	return &decoders.FixedSigmaOutput{MeanNode: Tanh(Einsum("bd,dk->bk", z, w))}
}

// testHamiltonian returns the Hamiltonian for the fixed target repeated batchSize times.
func testHamiltonian(g *Graph, cfg *Config, batchSize int) HamiltonianFn {
	x := BroadcastToDims(ExpandAxes(Const(g, testTarget), 0), batchSize, len(testTarget))
	return NewHamiltonian(x, testDecoder, testMetricCache(g), cfg)
}
