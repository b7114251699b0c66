// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"
	"testing"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperingEndpoints(t *testing.T) {
	for _, beta0 := range []float64{1e-4, 0.1, 0.3, 0.5, 0.77, 1.0} {
		for _, numSteps := range []int{1, 2, 3, 10} {
			for name, schedule := range map[string]Schedule{"quadratic": QuadraticTempering, "linear": LinearTempering} {
				require.Equalf(t, beta0, schedule(beta0, 0, numSteps), "%s(β₀=%g, 0, %d)", name, beta0, numSteps)
				require.Equalf(t, 1.0, schedule(beta0, numSteps, numSteps), "%s(β₀=%g, K, %d)", name, beta0, numSteps)
			}
			require.Equal(t, beta0, NullTempering(beta0, numSteps, numSteps))
		}
	}
}

func TestQuadraticTemperingIsMonotonic(t *testing.T) {
	beta0, numSteps := 0.3, 10
	previous := QuadraticTempering(beta0, 0, numSteps)
	for k := 1; k <= numSteps; k++ {
		beta := QuadraticTempering(beta0, k, numSteps)
		assert.Greaterf(t, beta, previous, "β must increase at step %d", k)
		previous = beta
	}

	// Value in the middle: ((1-1/√β₀)/4 + 1/√β₀)⁻².
	inv := 1 / math.Sqrt(beta0)
	want := math.Pow((1-inv)/4+inv, -2)
	assert.InDelta(t, want, QuadraticTempering(beta0, 5, numSteps), 1e-12)
}

func TestMomentumScale(t *testing.T) {
	assert.Equal(t, 1.0, MomentumScale(NullTempering, 0.3, 2, 3))
	// Last step goes from β_{K-1} to 1.
	betaPrev := QuadraticTempering(0.3, 2, 3)
	assert.InDelta(t, math.Sqrt(betaPrev), MomentumScale(QuadraticTempering, 0.3, 3, 3), 1e-12)
	// Product of all scales is √β₀.
	product := 1.0
	for k := 1; k <= 3; k++ {
		product *= MomentumScale(QuadraticTempering, 0.3, k, 3)
	}
	assert.InDelta(t, math.Sqrt(0.3), product, 1e-12)
}

func TestScheduleValidation(t *testing.T) {
	require.NoError(t, ValidateSchedule(1.0, 1))
	for _, beta0 := range []float64{0, -0.5, 1.01, math.NaN()} {
		err := ValidateSchedule(beta0, 3)
		require.Errorf(t, err, "β₀=%g should be invalid", beta0)
		require.True(t, errors.Is(err, autoencoders.ErrInvalidArgument))
	}
	err := ValidateSchedule(0.3, 0)
	require.True(t, errors.Is(err, autoencoders.ErrInvalidArgument))

	_, err = ScheduleFromName("cubic")
	require.True(t, errors.Is(err, autoencoders.ErrInvalidArgument))
	schedule, err := ScheduleFromName("none")
	require.NoError(t, err)
	require.Equal(t, 0.3, schedule(0.3, 3, 3))
}
