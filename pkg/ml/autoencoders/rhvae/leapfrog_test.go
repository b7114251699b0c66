// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"
	"testing"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	testZ   = [][]float64{{0.3, -0.4}, {-1.2, 0.5}, {0.0, 0.0}}
	testRho = [][]float64{{0.5, 0.1}, {-0.3, 0.8}, {1.0, -1.0}}
)

func requireAllClose(t *testing.T, want, got []float64, delta float64, msg string) {
	t.Helper()
	require.Len(t, got, len(want))
	for ii := range want {
		require.InDeltaf(t, want[ii], got[ii], delta, "%s: element %d differs: want %v, got %v", msg, ii, want, got)
	}
}

func TestLeapfrogReversibility(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	cfg.FixedPointSteps = 10
	const eps = 0.01
	ctx := context.New()
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		h := testHamiltonian(g, cfg, len(testZ))
		z0, rho0 := Const(g, testZ), Const(g, testRho)
		stepSize := StepSize(cfg.WithStepSize(eps), z0)
		z1, rho1 := LeapfrogStep(h, z0, rho0, stepSize, cfg.FixedPointSteps)
		zBack, rhoBack := LeapfrogStep(h, z1, rho1, Neg(stepSize), cfg.FixedPointSteps)
		return []*Node{z1, zBack, rhoBack}
	})
	z1 := tensors.MustCopyFlatData[float64](outputs[0])
	zBack := tensors.MustCopyFlatData[float64](outputs[1])
	rhoBack := tensors.MustCopyFlatData[float64](outputs[2])
	flatZ := append(append(append([]float64{}, testZ[0]...), testZ[1]...), testZ[2]...)
	flatRho := append(append(append([]float64{}, testRho[0]...), testRho[1]...), testRho[2]...)

	// The step must have moved the position.
	moved := 0.0
	for ii := range z1 {
		moved = math.Max(moved, math.Abs(z1[ii]-flatZ[ii]))
	}
	require.Greater(t, moved, 1e-4)
	requireAllClose(t, flatZ, zBack, 1e-6, "position after forward and backward steps")
	requireAllClose(t, flatRho, rhoBack, 1e-6, "momentum after forward and backward steps")
}

func TestLeapfrogEnergyConservation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	ctx := context.New()
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		h := testHamiltonian(g, cfg, len(testZ))
		z0, rho0 := Const(g, testZ), Const(g, testRho)
		z1, rho1 := LeapfrogStep(h, z0, rho0, StepSize(cfg.WithStepSize(1e-4), z0), cfg.FixedPointSteps)
		return []*Node{h(z0, rho0), h(z1, rho1)}
	})
	before := tensors.MustCopyFlatData[float64](outputs[0])
	after := tensors.MustCopyFlatData[float64](outputs[1])
	for ii := range before {
		assert.False(t, math.IsNaN(before[ii]))
		assert.InDeltaf(t, before[ii], after[ii], 1e-2, "|ΔH| too large for example %d", ii)
	}
}

func TestStepSizePerDimension(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	ctx := context.New()
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		h := testHamiltonian(g, cfg, len(testZ))
		z0, rho0 := Const(g, testZ), Const(g, testRho)
		zIso, rhoIso := LeapfrogStep(h, z0, rho0, StepSize(cfg.WithStepSize(0.05), z0), cfg.FixedPointSteps)
		zVec, rhoVec := LeapfrogStep(h, z0, rho0, StepSize(cfg.WithStepSize(0.05, 0.05), z0), cfg.FixedPointSteps)
		zAniso, _ := LeapfrogStep(h, z0, rho0, StepSize(cfg.WithStepSize(0.05, 0), z0), cfg.FixedPointSteps)
		return []*Node{zIso, rhoIso, zVec, rhoVec, zAniso}
	})
	requireAllClose(t, tensors.MustCopyFlatData[float64](outputs[0]), tensors.MustCopyFlatData[float64](outputs[2]), 1e-12,
		"isotropic step as scalar or vector")
	requireAllClose(t, tensors.MustCopyFlatData[float64](outputs[1]), tensors.MustCopyFlatData[float64](outputs[3]), 1e-12,
		"isotropic step as scalar or vector")
	// A zero step on the second dimension leaves it untouched.
	zAniso := tensors.MustCopyFlatData[float64](outputs[4])
	for ii, row := range testZ {
		assert.Equal(t, row[1], zAniso[ii*2+1])
	}
}

func TestHamiltonianGradient(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	ctx := context.New()

	// ∂H/∂ρ = G⁻¹(z)·ρ, since only the kinetic energy depends on ρ.
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		h := testHamiltonian(g, cfg, len(testZ))
		z, rho := Const(g, testZ), Const(g, testRho)
		gInv := GInv(testMetricCache(g), z, cfg)
		return []*Node{
			HamiltonianGradient(h, z, rho, Momentum),
			Einsum("bij,bj->bi", gInv, rho),
			HamiltonianGradient(h, z, rho, Position),
		}
	})
	requireAllClose(t, tensors.MustCopyFlatData[float64](outputs[1]), tensors.MustCopyFlatData[float64](outputs[0]), 1e-9,
		"∂H/∂ρ")
	require.Equal(t, []int{len(testZ), 2}, outputs[2].Shape().Dimensions)

	g := NewGraph(backend, "TestHamiltonianGradientInvalid")
	h := testHamiltonian(g, cfg, 1)
	z := Const(g, [][]float64{{0, 0}})
	err := exceptions.TryCatch[error](func() { HamiltonianGradient(h, z, z, Variable(2)) })
	require.True(t, errors.Is(err, autoencoders.ErrInvalidArgument), "got %v", err)
	require.Equal(t, "invalid", Variable(2).String())
}

func TestTemperedIntegrate(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testConfig()
	cfg.Tempering = NullTempering
	cfg.Beta0 = 0.25
	ctx := context.New()
	outputs := context.MustExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		h := testHamiltonian(g, cfg, len(testZ))
		ps := TemperedIntegrate(h, Const(g, testZ), Const(g, testRho), cfg)
		return []*Node{ps.ZInit, ps.RhoInit, ps.ZFinal, ps.RhoFinal}
	})
	// ρ₀ = γ₀/√β₀ = 2·γ₀.
	rho0 := tensors.MustCopyFlatData[float64](outputs[1])
	for ii, row := range testRho {
		for jj, value := range row {
			assert.InDelta(t, 2*value, rho0[ii*2+jj], 1e-12)
		}
	}
	for _, output := range outputs[2:] {
		for _, value := range tensors.MustCopyFlatData[float64](output) {
			require.False(t, math.IsNaN(value) || math.IsInf(value, 0))
		}
	}
}
