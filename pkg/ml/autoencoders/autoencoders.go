// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autoencoders holds what is shared among the autoencoder model variants: the error taxonomy,
// shape assertions used while building graphs and the Gaussian prior.
//
// The models themselves live in the sub-packages:
//
//   - encoders: Gaussian posterior parameterizations (log-σ and σ).
//   - decoders: Gaussian output parameterizations (fixed-σ, log-σ and σ) and their log-likelihoods.
//   - vae: the plain VAE and β-VAE.
//   - rhvae: the Riemannian Hamiltonian VAE, with a learned latent metric and a generalized leapfrog
//     integrator.
//
// Graph building functions follow the GoMLX convention of panicking on errors. The panics carry an
// error wrapping one of the sentinel errors below, so after recovering (see exceptions.TryCatch, or any
// of the Exec methods that return an error) one can use errors.Is to check the cause.
package autoencoders

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
)

var (
	// ErrDimensionMismatch is the cause of failures due to inputs whose shapes disagree with the declared
	// latent or data dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument is the cause of failures due to invalid configuration values, like a non-positive
	// β₀ or an unknown differentiation variable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNumericalDegeneracy is the cause of failures due to configurations that would make the metric
	// lose positive-definiteness, like a regularization λ <= 0.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

// Log2Pi is log(2π), used in all the Gaussian densities.
var Log2Pi = math.Log(2 * math.Pi)

// Panicf panics with an error that wraps cause, formatted with the given message.
func Panicf(cause error, format string, args ...any) {
	panic(errors.Wrapf(cause, format, args...))
}

// AssertMatrix panics with ErrDimensionMismatch if x is not shaped [<batch>, dim].
// The name is used in the error message.
func AssertMatrix(name string, x *Node, dim int) {
	if x.Rank() != 2 {
		Panicf(ErrDimensionMismatch, "%s must be shaped [batch, %d], got %s", name, dim, x.Shape())
	}
	if dim > 0 && x.Shape().Dimensions[1] != dim {
		Panicf(ErrDimensionMismatch, "%s must be shaped [batch, %d], got %s", name, dim, x.Shape())
	}
}

// AssertSameShape panics with ErrDimensionMismatch if the shapes of a and b differ.
func AssertSameShape(nameA string, a *Node, nameB string, b *Node) {
	if !a.Shape().Equal(b.Shape()) {
		Panicf(ErrDimensionMismatch, "%s (%s) and %s (%s) must have the same shape", nameA, a.Shape(), nameB, b.Shape())
	}
}

// GaussianLogPrior returns the log-density of a standard spherical Gaussian, per example:
//
//	log p(z) = -½‖z‖² - (D/2)·log(2π)
//
// z is shaped [batch, D] and the result is shaped [batch].
func GaussianLogPrior(z *Node) *Node {
	dim := z.Shape().Dimensions[z.Rank()-1]
	logP := MulScalar(ReduceSum(Square(z), -1), -0.5)
	return AddScalar(logP, -0.5*float64(dim)*Log2Pi)
}

// PositiveScale maps the unconstrained output of a network to a positive scale σ with softplus,
// log(1+exp(x)), which stays finite for large x.
func PositiveScale(x *Node) *Node {
	return Softplus(x)
}
