// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package synthetic generates toy datasets to train and visualize autoencoders.
//
// The generators are graph functions that use the context random number generator, so a dataset is
// reproducible with context.Context.SetRNGStateFromSeed.
package synthetic

import (
	"math"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// MakeMoons returns n points sampled from two interleaved half circles, shaped [n, 2], with Gaussian noise of
// standard deviation noise added to each coordinate.
//
// Modeled after scikit-learn make_moons function.
func MakeMoons(ctx *context.Context, g *Graph, dtype dtypes.DType, n int, noise float64) *Node {
	angles := ctx.RandomUniform(g, shapes.Make(dtype, n))
	angles = MulScalar(angles, math.Pi)
	outerMoonX := Cos(angles)
	outerMoonY := Sin(angles)
	innerMoonX := OneMinus(outerMoonX)
	innerMoonY := AddScalar(OneMinus(outerMoonY), -0.5)

	coinFlip := ctx.RandomUniform(g, shapes.Make(dtype, n))
	coinFlip = GreaterThan(AddScalar(coinFlip, -0.5), ScalarZero(g, dtype))
	xs := Where(coinFlip, innerMoonX, outerMoonX)
	ys := Where(coinFlip, innerMoonY, outerMoonY)
	points := Stack([]*Node{xs, ys}, -1)
	if noise > 0 {
		points = Add(points, MulScalar(ctx.RandomNormal(g, points.Shape()), noise))
	}
	return points
}

// Blobs returns n points shaped [n, dim], each sampled from an isotropic Gaussian around one of the centers
// (chosen uniformly), with standard deviation stddev.
func Blobs(ctx *context.Context, g *Graph, dtype dtypes.DType, n int, centers [][]float64, stddev float64) *Node {
	if len(centers) == 0 {
		autoencoders.Panicf(autoencoders.ErrInvalidArgument, "Blobs requires at least one center")
	}
	dim := len(centers[0])
	for ii, center := range centers {
		if len(center) != dim {
			autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "center #%d has dimension %d, center #0 has %d",
				ii, len(center), dim)
		}
	}
	centersNode := ConvertDType(Const(g, centers), dtype)

	// One-hot selection of a center per point.
	choice := ctx.RandomUniform(g, shapes.Make(dtype, n, 1))
	choice = ConvertDType(MulScalar(choice, float64(len(centers))), dtypes.Int32)
	choice = MinScalar(choice, float64(len(centers)-1))
	oneHot := OneHot(Reshape(choice, n), len(centers), dtype)

	means := Einsum("nc,cd->nd", oneHot, centersNode)
	return Add(means, MulScalar(ctx.RandomNormal(g, shapes.Make(dtype, n, dim)), stddev))
}

// Moons executes MakeMoons and returns the dataset as a tensor shaped [n, 2].
func Moons(backend backends.Backend, ctx *context.Context, dtype dtypes.DType, n int, noise float64) (*tensors.Tensor, error) {
	points, err := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		return MakeMoons(ctx, g, dtype, n, noise)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to generate moons dataset")
	}
	return points, nil
}

// ToPoints converts a float tensor shaped [n, dim] to one slice per point.
func ToPoints(t *tensors.Tensor) ([][]float64, error) {
	if t.Rank() != 2 {
		return nil, errors.Wrapf(autoencoders.ErrDimensionMismatch, "expected a tensor shaped [n, dim], got %s", t.Shape())
	}
	var flat []float64
	switch t.DType() {
	case dtypes.Float64:
		flat = tensors.MustCopyFlatData[float64](t)
	case dtypes.Float32:
		for _, v := range tensors.MustCopyFlatData[float32](t) {
			flat = append(flat, float64(v))
		}
	default:
		return nil, errors.Wrapf(autoencoders.ErrInvalidArgument, "dtype %s not supported", t.DType())
	}
	n, dim := t.Shape().Dimensions[0], t.Shape().Dimensions[1]
	points := make([][]float64, n)
	for ii := range points {
		points[ii] = flat[ii*dim : (ii+1)*dim]
	}
	return points, nil
}
