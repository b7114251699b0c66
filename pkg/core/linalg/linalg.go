// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package linalg implements batched linear algebra on small dense matrices as computation graph ops.
//
// All functions here work on batches of square matrices shaped `[batch, dim, dim]` (or vectors shaped
// `[batch, dim]`), and are built only from differentiable primitive ops, so they can be used freely inside
// gradients -- including gradients of gradients. Individual elements are read and written with contractions
// against one-hot constants: the gradient of Slice is a Pad, which has no gradient itself.
//
// The matrices are expected to be small (the latent dimension of an autoencoder): the Cholesky
// decomposition is unrolled at graph building time and uses O(dim³) nodes.
package linalg

import (
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// NumLowerTriangular returns the number of elements strictly below the diagonal of a dim x dim matrix.
func NumLowerTriangular(dim int) int {
	return dim * (dim - 1) / 2
}

// LowerTriangularIndex returns the linear offset of the element (row, col), with row > col, in a
// row-major enumeration of the strictly lower triangle. It is 0-based.
//
// E.g.: for a 3x3 matrix, (1,0) -> 0, (2,0) -> 1, (2,1) -> 2.
func LowerTriangularIndex(row, col int) int {
	return row*(row-1)/2 + col
}

// Eye returns the constant identity matrix of the given dimension and dtype.
func Eye(g *Graph, dtype dtypes.DType, dim int) *Node {
	eye := make([][]float64, dim)
	for ii := range eye {
		eye[ii] = make([]float64, dim)
		eye[ii][ii] = 1
	}
	return ConvertDType(Const(g, eye), dtype)
}

// Fill returns a tensor shaped dims where every element is the scalar value.
//
// The reverse-mode gradient is set explicitly: the adjoint of the filled tensor is passed through
// unchanged to the broadcast, which sums it back into the shape of value. The dims themselves are
// constant with respect to differentiation.
func Fill(value *Node, dims ...int) *Node {
	if !value.IsScalar() {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "linalg.Fill requires a scalar value, got %s", value.Shape())
	}
	filled := BroadcastToDims(value, dims...)
	return IdentityWithCustomGradient(filled, func(_, v *Node) *Node {
		return v
	})
}

// ScaledIdentity returns a batch of identity matrices scaled by the scalar value, shaped [batch, dim, dim].
// The scalar is broadcast with Fill, so gradients with respect to value are the sum over the diagonals.
func ScaledIdentity(value *Node, batchSize, dim int) *Node {
	g := value.Graph()
	eye := ExpandAxes(Eye(g, value.DType(), dim), 0)
	return Mul(Fill(value, batchSize, dim, dim), eye)
}

// AssembleLowerTriangular assembles a batch of lower-triangular matrices from their diagonal and their strictly
// lower-triangular elements:
//
//   - diag is shaped [batch, dim].
//   - lower is shaped [batch, dim*(dim-1)/2], enumerated row-major (see LowerTriangularIndex).
//
// The result L is shaped [batch, dim, dim], with L[b, i, i] = diag[b, i], L[b, i, j] = lower[b, idx(i, j)]
// for i > j and zero above the diagonal.
//
// For dim == 1 there are no lower elements, and lower must be nil.
//
// It panics with autoencoders.ErrDimensionMismatch if the lengths of diag and lower don't match.
func AssembleLowerTriangular(diag, lower *Node) *Node {
	if diag.Rank() != 2 {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
			"AssembleLowerTriangular requires diag shaped [batch, dim], got %s", diag.Shape())
	}
	if lower == nil {
		if diag.Shape().Dimensions[1] != 1 {
			autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
				"AssembleLowerTriangular requires the lower elements for diag shaped %s", diag.Shape())
		}
		return ExpandAxes(diag, -1)
	}
	if lower.Rank() != 2 {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
			"AssembleLowerTriangular requires diag and lower shaped [batch, n], got diag=%s, lower=%s", diag.Shape(), lower.Shape())
	}
	batchSize, dim := diag.Shape().Dimensions[0], diag.Shape().Dimensions[1]
	numLower := NumLowerTriangular(dim)
	if lower.Shape().Dimensions[0] != batchSize || lower.Shape().Dimensions[1] != numLower {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
			"AssembleLowerTriangular with diag=%s requires lower shaped [%d, %d], got %s",
			diag.Shape(), batchSize, numLower, lower.Shape())
	}
	g := diag.Graph()
	dtype := diag.DType()

	// Placements are one-hot constants mapping each input element to its position in the matrix.
	diagPlacement := make([][][]float64, dim)
	for ii := range dim {
		diagPlacement[ii] = zeroMatrix(dim)
		diagPlacement[ii][ii][ii] = 1
	}
	l := Einsum("bk,kij->bij", diag, ConvertDType(Const(g, diagPlacement), dtype))
	if numLower == 0 {
		return l
	}
	lowerPlacement := make([][][]float64, numLower)
	for row := 1; row < dim; row++ {
		for col := range row {
			k := LowerTriangularIndex(row, col)
			lowerPlacement[k] = zeroMatrix(dim)
			lowerPlacement[k][row][col] = 1
		}
	}
	return Add(l, Einsum("bk,kij->bij", lower, ConvertDType(Const(g, lowerPlacement), dtype)))
}

func zeroMatrix(dim int) [][]float64 {
	m := make([][]float64, dim)
	for ii := range m {
		m[ii] = make([]float64, dim)
	}
	return m
}

// OuterSelf returns L·Lᵗ for a batch of matrices L shaped [batch, dim, dim].
// The result is symmetric positive semi-definite by construction.
func OuterSelf(l *Node) *Node {
	assertBatchOfSquares("OuterSelf", l)
	return Einsum("bik,bjk->bij", l, l)
}

// QuadraticForm returns vᵗ·A·v for each example, with a shaped [batch, dim, dim] and v shaped [batch, dim].
// The result is shaped [batch].
func QuadraticForm(a, v *Node) *Node {
	assertBatchOfSquares("QuadraticForm", a)
	if v.Rank() != 2 || v.Shape().Dimensions[0] != a.Shape().Dimensions[0] ||
		v.Shape().Dimensions[1] != a.Shape().Dimensions[1] {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
			"QuadraticForm with matrices shaped %s requires vectors shaped [batch, dim], got %s", a.Shape(), v.Shape())
	}
	av := Einsum("bij,bj->bi", a, v)
	return ReduceSum(Mul(av, v), -1)
}

// MatVec returns A·v for each example, with a shaped [batch, dim, dim] and v shaped [batch, dim].
func MatVec(a, v *Node) *Node {
	assertBatchOfSquares("MatVec", a)
	return Einsum("bij,bj->bi", a, v)
}

// oneHotMatrix returns the dim x dim constant with a single 1 at (row, col). If expanded it is shaped [1, dim, dim].
func oneHotMatrix(g *Graph, dtype dtypes.DType, dim, row, col int, expanded bool) *Node {
	m := zeroMatrix(dim)
	m[row][col] = 1
	if expanded {
		return ConvertDType(Const(g, [][][]float64{m}), dtype)
	}
	return ConvertDType(Const(g, m), dtype)
}

// Element returns a[:, row, col] shaped [batch].
func Element(a *Node, row, col int) *Node {
	assertBatchOfSquares("Element", a)
	dim := a.Shape().Dimensions[1]
	return Einsum("bij,ij->b", a, oneHotMatrix(a.Graph(), a.DType(), dim, row, col, false))
}

// Columns returns x[:, from:to], for x shaped [batch, n].
func Columns(x *Node, from, to int) *Node {
	if x.Rank() != 2 || from < 0 || to <= from || to > x.Shape().Dimensions[1] {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "Columns(%d, %d) requires x shaped [batch, n >= %d], got %s",
			from, to, to, x.Shape())
	}
	n := x.Shape().Dimensions[1]
	projection := make([][]float64, n)
	for ii := range projection {
		projection[ii] = make([]float64, to-from)
		if ii >= from && ii < to {
			projection[ii][ii-from] = 1
		}
	}
	return Einsum("bn,nk->bk", x, ConvertDType(Const(x.Graph(), projection), x.DType()))
}

// Cholesky returns the lower-triangular factor L of a batch of symmetric positive-definite matrices,
// such that A = L·Lᵗ. a is shaped [batch, dim, dim], and so is the result.
//
// Only the lower triangle of a is read. The decomposition is unrolled (Cholesky–Banachiewicz order), so
// it is fully differentiable, but meant only for small dims.
// It doesn't check for positive-definiteness: non-PD inputs yield NaNs.
func Cholesky(a *Node) *Node {
	assertBatchOfSquares("Cholesky", a)
	rows := choleskyElements(a)
	dim := len(rows)
	g, dtype := a.Graph(), a.DType()
	var l *Node
	for ii, row := range rows {
		for jj, element := range row {
			// [batch, 1] x [1, dim, dim] places the element at (ii, jj).
			placed := Einsum("bk,kij->bij", ExpandAxes(element, -1), oneHotMatrix(g, dtype, dim, ii, jj, true))
			if l == nil {
				l = placed
			} else {
				l = Add(l, placed)
			}
		}
	}
	return l
}

// choleskyElements returns the lower-triangular elements of the Cholesky factor: rows[i][j] for j <= i,
// each shaped [batch].
func choleskyElements(a *Node) [][]*Node {
	dim := a.Shape().Dimensions[1]
	rows := make([][]*Node, dim)
	for ii := range dim {
		rows[ii] = make([]*Node, ii+1)
		for jj := 0; jj <= ii; jj++ {
			sum := Element(a, ii, jj)
			for kk := range jj {
				sum = Sub(sum, Mul(rows[ii][kk], rows[jj][kk]))
			}
			if ii == jj {
				rows[ii][jj] = Sqrt(sum)
			} else {
				rows[ii][jj] = Div(sum, rows[jj][jj])
			}
		}
	}
	return rows
}

// LogDetSPD returns log(det(A)) for a batch of symmetric positive-definite matrices shaped [batch, dim, dim].
// The result is shaped [batch].
//
// It is computed as 2·Σᵢ log(Lᵢᵢ), where L is the Cholesky factor of A.
func LogDetSPD(a *Node) *Node {
	assertBatchOfSquares("LogDetSPD", a)
	rows := choleskyElements(a)
	logDet := Log(rows[0][0])
	for ii := 1; ii < len(rows); ii++ {
		logDet = Add(logDet, Log(rows[ii][ii]))
	}
	return MulScalar(logDet, 2)
}

func assertBatchOfSquares(name string, a *Node) {
	if a.Rank() != 3 || a.Shape().Dimensions[1] != a.Shape().Dimensions[2] {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch,
			"%s requires a batch of square matrices shaped [batch, dim, dim], got %s", name, a.Shape())
	}
}
