// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package synthetic

import (
	"math"
	"testing"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestMoons(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	require.NoError(t, ctx.SetRNGStateFromSeed(42))
	moons, err := Moons(backend, ctx, dtypes.Float64, 200, 0)
	require.NoError(t, err)
	require.Equal(t, []int{200, 2}, moons.Shape().Dimensions)

	points, err := ToPoints(moons)
	require.NoError(t, err)
	var outer, inner int
	for _, point := range points {
		x, y := point[0], point[1]
		switch {
		case math.Abs(x*x+y*y-1) < 1e-9:
			outer++
		case math.Abs((x-1)*(x-1)+(y-0.5)*(y-0.5)-1) < 1e-9:
			inner++
		default:
			t.Fatalf("point %v is in neither moon", point)
		}
	}
	assert.Greater(t, outer, 50)
	assert.Greater(t, inner, 50)
}

func TestBlobs(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	require.NoError(t, ctx.SetRNGStateFromSeed(7))
	centers := [][]float64{{-10, 0, 0}, {10, 0, 0}}
	blobs := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		return Blobs(ctx, g, dtypes.Float32, 100, centers, 0.1)
	})
	require.Equal(t, dtypes.Float32, blobs.DType())
	points, err := ToPoints(blobs)
	require.NoError(t, err)
	require.Len(t, points, 100)
	for _, point := range points {
		require.Len(t, point, 3)
		assert.InDelta(t, 10, math.Abs(point[0]), 1)
	}

	g := NewGraph(backend, "TestBlobsMismatch")
	err = exceptions.TryCatch[error](func() { Blobs(ctx, g, dtypes.Float32, 10, [][]float64{{0, 0}, {1}}, 0.1) })
	require.True(t, errors.Is(err, autoencoders.ErrDimensionMismatch), "got %v", err)
}

func TestToPointsErrors(t *testing.T) {
	_, err := ToPoints(tensors.FromValue([]float64{1, 2}))
	require.True(t, errors.Is(err, autoencoders.ErrDimensionMismatch))
	_, err = ToPoints(tensors.FromValue([][]int32{{1, 2}}))
	require.True(t, errors.Is(err, autoencoders.ErrInvalidArgument))
}
