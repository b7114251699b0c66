// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"
	"strings"
	"testing"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/encoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	testData = [][]float64{
		{0.1, 0.9, -0.3}, {1.2, -0.4, 0.5}, {-0.7, 0.2, 0.8}, {0.0, -1.1, 0.3},
	}
	testCentroidsData = [][]float64{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {-1, 0, 0}, {0, -1, 0}, {0.5, 0.5, 0.5},
	}
	testNoise = [][]float64{{0.2, -0.1}, {-1.0, 0.4}, {0.7, 0.7}, {0.0, -0.3}}
	testGamma = [][]float64{{-0.5, 0.3}, {0.9, 0.1}, {0.2, -1.3}, {0.4, 0.0}}
)

// newTestModel returns a small model with the centroids set in a new context.
func newTestModel(seed int64) (*context.Context, *Model) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		context.ParamInitialSeed:        seed,
		encoders.ParamNumHiddenLayers: 1,
		encoders.ParamNumHiddenNodes:  8,
		decoders.ParamNumHiddenLayers: 1,
		decoders.ParamNumHiddenNodes:  8,
	})
	cfg := must.M1(ConfigFromContext(ctx, 2))
	cfg.MetricHiddenNodes = 8
	SetCentroids(ctx, tensors.FromValue(testCentroidsData))
	return ctx, New(cfg)
}

func requireFinite(t *testing.T, values []float64, msg string) {
	t.Helper()
	for ii, value := range values {
		require.Falsef(t, math.IsNaN(value) || math.IsInf(value, 0), "%s: element %d is %g", msg, ii, value)
	}
}

func TestLossIsFinite(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	x := tensors.FromValue(testData)
	for modelSeed := range int64(10) {
		ctx, model := newTestModel(modelSeed)
		lossExec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			return model.Loss(ctx, x)
		})
		for noiseSeed := range int64(10) {
			require.NoError(t, ctx.SetRNGStateFromSeed(1000*modelSeed + noiseSeed))
			loss := tensors.ToScalar[float64](lossExec.MustExec1(x))
			requireFinite(t, []float64{loss}, "loss")
		}
		lossExec.Finalize()
	}
}

func TestLossGradients(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, model := newTestModel(7)
	var names []string
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, x *Node) []*Node {
		g := x.Graph()
		loss := model.Loss(ctx, x)
		var params []*Node
		names = names[:0]
		for v := range ctx.IterVariables() {
			if v.Trainable {
				params = append(params, v.ValueGraph(g))
				names = append(names, v.ScopeAndName())
			}
		}
		return append([]*Node{loss}, Gradient(loss, params...)...)
	}, tensors.FromValue(testData))
	requireFinite(t, []float64{tensors.ToScalar[float64](outputs[0])}, "loss")

	var metricGradNorm float64
	for ii, grad := range outputs[1:] {
		values := tensors.MustCopyFlatData[float64](grad)
		requireFinite(t, values, names[ii])
		if strings.Contains(names[ii], "/"+MetricScope+"/") {
			for _, value := range values {
				metricGradNorm += value * value
			}
		}
	}
	// The metric network is only trained through G⁻¹ in the Hamiltonian and the momentum log-priors.
	assert.Greater(t, metricGradNorm, 0.0)
}

func TestBatchEqualsPerRow(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, model := newTestModel(3)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x, noise, gamma *Node) []*Node {
		out := model.ForwardWithNoise(ctx, x, noise, gamma)
		return []*Node{out.PhaseSpace.ZFinal, out.PhaseSpace.RhoFinal, out.Decoder.Mean(), ELBO(out, x, model.Config)}
	})
	defer exec.Finalize()

	batch := exec.MustExec(tensors.FromValue(testData), tensors.FromValue(testNoise), tensors.FromValue(testGamma))
	batchValues := make([][]float64, len(batch))
	for ii, output := range batch {
		batchValues[ii] = tensors.MustCopyFlatData[float64](output)
	}
	for row := range testData {
		single := exec.MustExec(
			tensors.FromValue(testData[row:row+1]),
			tensors.FromValue(testNoise[row:row+1]),
			tensors.FromValue(testGamma[row:row+1]))
		for ii, output := range single {
			values := tensors.MustCopyFlatData[float64](output)
			width := len(values)
			requireAllClose(t, batchValues[ii][row*width:(row+1)*width], values, 1e-9, "batch vs single row")
		}
	}
}

func TestUpdateMetric(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, model := newTestModel(11)
	cfg := model.Config
	require.NoError(t, UpdateMetric(backend, ctx, cfg))
	host, err := NewHostMetricCache(ctx)
	require.NoError(t, err)
	require.Len(t, host.Latent, len(testCentroidsData))

	// The stored cache equals a freshly built one, and G⁻¹ from it matches the fast path.
	z := [][]float64{{0.1, 0.2}, {-1, 1}}
	outputs := context.MustExecOnceN(backend, ctx.Checked(false), func(ctx *context.Context, g *Graph) []*Node {
		fresh := BuildMetricCache(ctx, cfg, CentroidsData(ctx, g))
		stored := CachedMetric(ctx, g)
		return []*Node{fresh.Forms, stored.Forms, GInv(stored, Const(g, z), cfg)}
	})
	requireAllClose(t, tensors.MustCopyFlatData[float64](outputs[0]), tensors.MustCopyFlatData[float64](outputs[1]), 1e-12,
		"fresh vs stored quadratic forms")
	for ii, gInv := range rowsOf(outputs[2]) {
		require.True(t, mat.EqualApprox(gInv, GInvFast(host, z[ii], cfg), 1e-10))
	}

	// With the stored cache, the loss doesn't rebuild it.
	cachedCfg := *cfg
	cachedCfg.DifferentiableMetric = false
	cachedModel := New(&cachedCfg)
	loss := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return cachedModel.Loss(ctx, x)
	}, tensors.FromValue(testData))
	requireFinite(t, []float64{tensors.ToScalar[float64](loss)}, "loss with stored metric")
}

func TestMetricUpdaterReuse(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, model := newTestModel(13)
	updater, err := NewMetricUpdater(backend, ctx, model.Config)
	require.NoError(t, err)
	defer updater.Finalize()
	require.NoError(t, updater.Update())
	before := must.M1(NewHostMetricCache(ctx))

	// Moving the centroids data is picked up by the next update of the same compiled computation.
	shifted := make([][]float64, len(testCentroidsData))
	for ii, row := range testCentroidsData {
		shifted[ii] = []float64{row[0] + 1, row[1] - 1, row[2]}
	}
	SetCentroids(ctx, tensors.FromValue(shifted))
	require.NoError(t, updater.Update())
	after := must.M1(NewHostMetricCache(ctx))
	require.Len(t, after.Latent, len(before.Latent))
	changed := false
	for ii := range before.Latent {
		for jj := range before.Latent[ii] {
			if math.Abs(before.Latent[ii][jj]-after.Latent[ii][jj]) > 1e-9 {
				changed = true
			}
		}
	}
	assert.True(t, changed, "metric cache not refreshed")
}

func TestReconstruct(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx, model := newTestModel(5)
	reconstruction := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return model.Reconstruct(ctx, x)
	}, tensors.FromValue(testData))
	require.Equal(t, []int{len(testData), 3}, reconstruction.Shape().Dimensions)
	requireFinite(t, tensors.MustCopyFlatData[float64](reconstruction), "reconstruction")
}
