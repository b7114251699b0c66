// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// StepSize returns ϵ as a node broadcast to the shape of z ([batch, D]), from cfg.StepSize.
func StepSize(cfg *Config, z *Node) *Node {
	batchSize, dim := z.Shape().Dimensions[0], z.Shape().Dimensions[1]
	if len(cfg.StepSize) == 1 {
		return BroadcastToDims(Scalar(z.Graph(), z.DType(), cfg.StepSize[0]), batchSize, dim)
	}
	if len(cfg.StepSize) != dim {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "step size has %d values, latent dimension is %d",
			len(cfg.StepSize), dim)
	}
	eps := ConvertDType(Const(z.Graph(), cfg.StepSize), z.DType())
	return BroadcastToDims(ExpandAxes(eps, 0), batchSize, dim)
}

// LeapfrogStep runs one generalized leapfrog step of duration ϵ (stepSize, shaped like z) for the
// non-separable Hamiltonian h:
//
//	ρ(t+ϵ/2) = ρ(t) - (ϵ/2)·∂H/∂z(z(t), ρ(t+ϵ/2))                              (implicit)
//	z(t+ϵ)   = z(t) + (ϵ/2)·[∂H/∂ρ(z(t), ρ(t+ϵ/2)) + ∂H/∂ρ(z(t+ϵ), ρ(t+ϵ/2))] (implicit)
//	ρ(t+ϵ)   = ρ(t+ϵ/2) - (ϵ/2)·∂H/∂z(z(t+ϵ), ρ(t+ϵ/2))
//
// The implicit equations are solved with exactly fixedPointSteps fixed-point iterations each, starting from
// the values at time t. Convergence is not checked.
//
// Rows (examples) are independent of each other.
func LeapfrogStep(h HamiltonianFn, z, rho, stepSize *Node, fixedPointSteps int) (zNext, rhoNext *Node) {
	autoencoders.AssertSameShape("latent z", z, "momentum ρ", rho)
	autoencoders.AssertSameShape("latent z", z, "step size ϵ", stepSize)
	halfStep := MulScalar(stepSize, 0.5)

	rhoHalf := rho
	for range fixedPointSteps {
		rhoHalf = Sub(rho, Mul(halfStep, HamiltonianGradient(h, z, rhoHalf, Position)))
	}

	gradRhoStart := HamiltonianGradient(h, z, rhoHalf, Momentum)
	zNext = z
	for range fixedPointSteps {
		zNext = Add(z, Mul(halfStep, Add(gradRhoStart, HamiltonianGradient(h, zNext, rhoHalf, Momentum))))
	}

	rhoNext = Sub(rhoHalf, Mul(halfStep, HamiltonianGradient(h, zNext, rhoHalf, Position)))
	return
}

// PhaseSpace is the trajectory summary of a tempered Hamiltonian integration: the initial and final latent
// points and momenta, all shaped [batch, D].
type PhaseSpace struct {
	ZInit, RhoInit   *Node
	ZFinal, RhoFinal *Node
}

// TemperedIntegrate runs cfg.NumLeapfrogSteps leapfrog steps from z0, with initial momentum ρ₀ = γ₀/√β₀,
// where gamma0 ~ N(0, I) is given by the caller. After each step k the momentum is rescaled by
// √(βₖ₋₁/βₖ) following cfg.Tempering.
func TemperedIntegrate(h HamiltonianFn, z0, gamma0 *Node, cfg *Config) *PhaseSpace {
	autoencoders.AssertSameShape("latent z₀", z0, "momentum seed γ₀", gamma0)
	numSteps := cfg.NumLeapfrogSteps
	rho0 := MulScalar(gamma0, 1/math.Sqrt(cfg.Beta0))
	stepSize := StepSize(cfg, z0)

	z, rho := z0, rho0
	for k := 1; k <= numSteps; k++ {
		z, rho = LeapfrogStep(h, z, rho, stepSize, cfg.FixedPointSteps)
		if scale := MomentumScale(cfg.Tempering, cfg.Beta0, k, numSteps); scale != 1 {
			rho = MulScalar(rho, scale)
		}
	}
	return &PhaseSpace{ZInit: z0, RhoInit: rho0, ZFinal: z, RhoFinal: rho}
}
