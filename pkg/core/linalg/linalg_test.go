// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linalg

import (
	"math"
	"testing"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestLowerTriangularIndex(t *testing.T) {
	require.Equal(t, 0, NumLowerTriangular(1))
	require.Equal(t, 3, NumLowerTriangular(3))
	require.Equal(t, 6, NumLowerTriangular(4))
	// Row-major enumeration of the strictly lower triangle.
	want := 0
	for row := 1; row < 5; row++ {
		for col := range row {
			require.Equal(t, want, LowerTriangularIndex(row, col))
			want++
		}
	}
}

func TestAssembleLowerTriangular(t *testing.T) {
	graphtest.RunTestGraphFn(t, "AssembleLowerTriangular", func(g *Graph) (inputs, outputs []*Node) {
		diag := Const(g, [][]float64{{1, 2, 3}, {-1, -2, -3}})
		lower := Const(g, [][]float64{{4, 5, 6}, {0, 0, 7}})
		inputs = []*Node{diag, lower}
		outputs = []*Node{AssembleLowerTriangular(diag, lower)}
		return
	}, []any{
		[][][]float64{
			{{1, 0, 0}, {4, 2, 0}, {5, 6, 3}},
			{{-1, 0, 0}, {0, -2, 0}, {0, 7, -3}},
		},
	}, 1e-9)

	graphtest.RunTestGraphFn(t, "AssembleLowerTriangular(dim=1)", func(g *Graph) (inputs, outputs []*Node) {
		diag := Const(g, [][]float64{{2}, {3}})
		inputs = []*Node{diag}
		outputs = []*Node{AssembleLowerTriangular(diag, nil)}
		return
	}, []any{
		[][][]float64{{{2}}, {{3}}},
	}, 1e-9)
}

func TestAssembleLowerTriangularMismatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestAssembleLowerTriangularMismatch")
	diag := Const(g, [][]float32{{1, 2, 3}})
	lower := Const(g, [][]float32{{4, 5}})
	err := exceptions.TryCatch[error](func() { AssembleLowerTriangular(diag, lower) })
	require.Error(t, err)
	require.True(t, errors.Is(err, autoencoders.ErrDimensionMismatch), "got %v", err)
}

func TestOuterSelfAndLogDet(t *testing.T) {
	graphtest.RunTestGraphFn(t, "OuterSelf+Cholesky+LogDetSPD", func(g *Graph) (inputs, outputs []*Node) {
		diag := Const(g, [][]float64{{1, 2, 3}})
		lower := Const(g, [][]float64{{4, 5, 6}})
		l := AssembleLowerTriangular(diag, lower)
		m := OuterSelf(l)
		inputs = []*Node{diag, lower}
		outputs = []*Node{m, Cholesky(m), LogDetSPD(m)}
		return
	}, []any{
		[][][]float64{{{1, 4, 5}, {4, 20, 32}, {5, 32, 70}}},
		[][][]float64{{{1, 0, 0}, {4, 2, 0}, {5, 6, 3}}},
		[]float64{2 * math.Log(6)},
	}, 1e-6)
}

func TestQuadraticForm(t *testing.T) {
	graphtest.RunTestGraphFn(t, "QuadraticForm", func(g *Graph) (inputs, outputs []*Node) {
		a := Const(g, [][][]float64{{{2, 1}, {1, 3}}, {{1, 0}, {0, 1}}})
		v := Const(g, [][]float64{{1, 2}, {3, 4}})
		inputs = []*Node{a, v}
		outputs = []*Node{QuadraticForm(a, v), MatVec(a, v)}
		return
	}, []any{
		[]float64{18, 25},
		[][]float64{{4, 7}, {3, 4}},
	}, 1e-9)
}

func TestFillGradient(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Fill gradient", func(g *Graph) (inputs, outputs []*Node) {
		value := Const(g, 0.5)
		x := Const(g, [][]float64{{1, 2, 3}, {4, 5, 6}})
		filled := Fill(value, 2, 3)
		loss := ReduceAllSum(Mul(filled, x))
		inputs = []*Node{value, x}
		outputs = []*Node{filled, Gradient(loss, value)[0]}
		return
	}, []any{
		[][]float64{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}},
		21.0,
	}, 1e-9)

	graphtest.RunTestGraphFn(t, "ScaledIdentity logdet gradient", func(g *Graph) (inputs, outputs []*Node) {
		s := Const(g, 2.0)
		logDet := LogDetSPD(ScaledIdentity(s, 1, 3))
		inputs = []*Node{s}
		outputs = []*Node{logDet, Gradient(ReduceAllSum(logDet), s)[0]}
		return
	}, []any{
		[]float64{3 * math.Log(2)},
		1.5, // d/ds 3·log(s) = 3/s
	}, 1e-6)
}

func TestElementAndColumns(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Element+Columns", func(g *Graph) (inputs, outputs []*Node) {
		a := Const(g, [][][]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
		x := Const(g, [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}})
		inputs = []*Node{a, x}
		outputs = []*Node{Element(a, 1, 0), Columns(x, 1, 3)}
		return
	}, []any{
		[]float64{3, 7},
		[][]float64{{2, 3}, {6, 7}},
	}, 1e-9)

	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestColumnsOutOfRange")
	x := Const(g, [][]float32{{1, 2, 3}})
	err := exceptions.TryCatch[error](func() { Columns(x, 2, 4) })
	require.True(t, errors.Is(err, autoencoders.ErrDimensionMismatch), "got %v", err)
}

func TestLogDetSecondOrderGradient(t *testing.T) {
	// L = [[a, 0], [b, c]], log det(L·Lᵗ) = 2·log(a) + 2·log(c).
	graphtest.RunTestGraphFn(t, "LogDetSPD gradient of gradient", func(g *Graph) (inputs, outputs []*Node) {
		diag := Const(g, [][]float64{{1, 2}})
		lower := Const(g, [][]float64{{3}})
		logDet := LogDetSPD(OuterSelf(AssembleLowerTriangular(diag, lower)))
		grad := Gradient(ReduceAllSum(logDet), diag)[0]
		inputs = []*Node{diag, lower}
		outputs = []*Node{grad, Gradient(ReduceAllSum(grad), diag)[0]}
		return
	}, []any{
		[][]float64{{2, 1}},
		[][]float64{{-2, -0.5}},
	}, 1e-6)

	graphtest.RunTestGraphFn(t, "Columns gradient of gradient", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float64{{1, 2, 3}})
		cols := Columns(x, 1, 3)
		y := ReduceAllSum(Mul(Square(cols), cols))
		grad := Gradient(y, x)[0]
		inputs = []*Node{x}
		outputs = []*Node{grad, Gradient(ReduceAllSum(grad), x)[0]}
		return
	}, []any{
		[][]float64{{0, 12, 27}},
		[][]float64{{0, 12, 18}},
	}, 1e-6)
}
