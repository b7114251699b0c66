// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"github.com/gomlx/autoencoders/pkg/core/linalg"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Variable selects with respect to which phase-space variable HamiltonianGradient differentiates.
type Variable int

const (
	// Position is the latent point z.
	Position Variable = iota

	// Momentum is ρ.
	Momentum
)

// String implements fmt.Stringer.
func (v Variable) String() string {
	switch v {
	case Position:
		return "position"
	case Momentum:
		return "momentum"
	default:
		return "invalid"
	}
}

// HamiltonianFn evaluates H(x, z, ρ) per example for a fixed x, with z and ρ shaped [batch, D].
// The result is shaped [batch].
type HamiltonianFn func(z, rho *Node) *Node

// DecoderFn builds the decoder output for the latent points z.
type DecoderFn func(z *Node) decoders.Output

// KineticEnergy returns K(z, ρ) = ½(D·log(2π) - log det G⁻¹(z)) + ½ ρᵗ·G⁻¹(z)·ρ, shaped [batch],
// given gInv = G⁻¹(z) shaped [batch, D, D].
func KineticEnergy(gInv, rho *Node) *Node {
	dim := rho.Shape().Dimensions[rho.Rank()-1]
	logNorm := MulScalar(Neg(linalg.LogDetSPD(gInv)), 0.5)
	logNorm = AddScalar(logNorm, 0.5*float64(dim)*autoencoders.Log2Pi)
	return Add(logNorm, MulScalar(linalg.QuadraticForm(gInv, rho), 0.5))
}

// RiemannianLogPrior returns log N(ρ; 0, G(z)) = -K(z, ρ), shaped [batch], given gInv = G⁻¹(z).
func RiemannianLogPrior(gInv, rho *Node) *Node {
	return Neg(KineticEnergy(gInv, rho))
}

// NewHamiltonian returns H(x, z, ρ) = U(z|x) + K(z, ρ) for the fixed target x, where
//
//	U(z|x) = -log p(x|z) - log p(z)
//
// with the decoder log-likelihood given by decoder, the standard Gaussian prior p(z), and G⁻¹ interpolated
// from the cache.
func NewHamiltonian(x *Node, decoder DecoderFn, cache *MetricCache, cfg *Config) HamiltonianFn {
	return func(z, rho *Node) *Node {
		autoencoders.AssertMatrix("latent z", z, cfg.LatentDim)
		autoencoders.AssertSameShape("latent z", z, "momentum ρ", rho)
		potential := Neg(Add(decoder(z).LogLikelihood(x), autoencoders.GaussianLogPrior(z)))
		return Add(potential, KineticEnergy(GInv(cache, z, cfg), rho))
	}
}

// HamiltonianGradient returns ∂H/∂z or ∂H/∂ρ (shaped [batch, D]), holding the other variable fixed.
//
// The partial derivative is taken on fresh copies of z and ρ, so dependencies of ρ on z (or vice-versa)
// built earlier in the graph are not followed. The result is itself differentiable, so gradients of a loss
// with respect to the model weights can flow through it.
//
// It panics with autoencoders.ErrInvalidArgument if variable is not Position or Momentum.
func HamiltonianGradient(h HamiltonianFn, z, rho *Node, variable Variable) *Node {
	if variable != Position && variable != Momentum {
		autoencoders.Panicf(autoencoders.ErrInvalidArgument,
			"can only differentiate the Hamiltonian with respect to position or momentum, got Variable(%d)", int(variable))
	}
	zLeaf, rhoLeaf := Identity(z), Identity(rho)
	total := ReduceAllSum(h(zLeaf, rhoLeaf))
	if variable == Position {
		return Gradient(total, zLeaf)[0]
	}
	return Gradient(total, rhoLeaf)[0]
}
