// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/pkg/errors"
)

// Schedule returns the inverse temperature βₖ at step k of numSteps, starting from β₀ = beta0.
//
// Schedules must return beta0 at k=0. Increasing schedules return 1 at k=numSteps.
type Schedule func(beta0 float64, k, numSteps int) float64

// QuadraticTempering increases β from β₀ at k=0 to 1 at k=numSteps along
//
//	βₖ = ((1 - 1/√β₀)·(k/K)² + 1/√β₀)⁻²
//
// The end points are returned exactly.
func QuadraticTempering(beta0 float64, k, numSteps int) float64 {
	if k <= 0 {
		return beta0
	}
	if k >= numSteps {
		return 1
	}
	invSqrtBeta0 := 1 / math.Sqrt(beta0)
	frac := float64(k) / float64(numSteps)
	betaK := (1-invSqrtBeta0)*frac*frac + invSqrtBeta0
	return 1 / (betaK * betaK)
}

// LinearTempering increases β linearly from β₀ at k=0 to 1 at k=numSteps.
func LinearTempering(beta0 float64, k, numSteps int) float64 {
	if k <= 0 {
		return beta0
	}
	if k >= numSteps {
		return 1
	}
	return beta0 + (1-beta0)*float64(k)/float64(numSteps)
}

// NullTempering keeps β = β₀ for all steps, so momentum is never rescaled.
func NullTempering(beta0 float64, _, _ int) float64 {
	return beta0
}

// ScheduleFromName returns the schedule for "quadratic", "linear" or "none".
func ScheduleFromName(name string) (Schedule, error) {
	switch name {
	case "quadratic", "":
		return QuadraticTempering, nil
	case "linear":
		return LinearTempering, nil
	case "none", "null":
		return NullTempering, nil
	}
	return nil, errors.Wrapf(autoencoders.ErrInvalidArgument,
		"unknown tempering schedule %q, valid values are \"quadratic\", \"linear\" or \"none\"", name)
}

// ValidateSchedule checks that β₀ ∈ (0, 1] and numSteps >= 1.
func ValidateSchedule(beta0 float64, numSteps int) error {
	if !(beta0 > 0 && beta0 <= 1) {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "β₀ must be in (0, 1], got %g", beta0)
	}
	if numSteps < 1 {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "number of leapfrog steps must be >= 1, got %d", numSteps)
	}
	return nil
}

// MomentumScale returns the factor √(βₖ₋₁/βₖ) applied to the momentum after leapfrog step k.
func MomentumScale(schedule Schedule, beta0 float64, k, numSteps int) float64 {
	return math.Sqrt(schedule(beta0, k-1, numSteps) / schedule(beta0, k, numSteps))
}
