// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package centroids selects reference points from a dataset, to be used as the centroids of the RHVAE metric.
//
// Points are given as [][]float64, one slice per example, all with the same dimension.
package centroids

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

func validate(data [][]float64, n int) (dim int, err error) {
	if n <= 0 || n > len(data) {
		return 0, errors.Wrapf(autoencoders.ErrInvalidArgument, "cannot select %d centroids from %d points", n, len(data))
	}
	dim = len(data[0])
	for ii, point := range data {
		if len(point) != dim {
			return 0, errors.Wrapf(autoencoders.ErrDimensionMismatch,
				"point #%d has dimension %d, but point #0 has dimension %d", ii, len(point), dim)
		}
	}
	return dim, nil
}

// RandomSubset returns n distinct points of data, chosen uniformly at random. The points are copied.
func RandomSubset(data [][]float64, n int, rng *rand.Rand) ([][]float64, error) {
	if _, err := validate(data, n); err != nil {
		return nil, err
	}
	indices := rng.Perm(len(data))[:n]
	subset := make([][]float64, n)
	for ii, idx := range indices {
		subset[ii] = append([]float64(nil), data[idx]...)
	}
	return subset, nil
}

// KMeans clusters data in n clusters with Lloyd's algorithm, starting from a random subset of the points, and
// returns the cluster centers. It stops after maxIterations or when the assignments no longer change.
//
// Clusters that become empty keep their previous center.
func KMeans(data [][]float64, n, maxIterations int, rng *rand.Rand) ([][]float64, error) {
	dim, err := validate(data, n)
	if err != nil {
		return nil, err
	}
	centers, err := RandomSubset(data, n, rng)
	if err != nil {
		return nil, err
	}
	assignments := make([]int, len(data))
	for ii := range assignments {
		assignments[ii] = -1
	}
	sums := make([][]float64, n)
	for ii := range sums {
		sums[ii] = make([]float64, dim)
	}
	counts := make([]int, n)

	for iteration := range maxIterations {
		changed := 0
		for ii, point := range data {
			nearest := Nearest(centers, point)
			if nearest != assignments[ii] {
				assignments[ii] = nearest
				changed++
			}
		}
		if changed == 0 {
			klog.V(2).Infof("k-means converged after %d iterations", iteration)
			break
		}

		for ii := range sums {
			floats.Scale(0, sums[ii])
			counts[ii] = 0
		}
		for ii, point := range data {
			floats.Add(sums[assignments[ii]], point)
			counts[assignments[ii]]++
		}
		for ii, count := range counts {
			if count > 0 {
				floats.ScaleTo(centers[ii], 1/float64(count), sums[ii])
			}
		}
	}
	return centers, nil
}

// KMedoids returns, for each of the KMeans centers, the data point closest to it. The result is made of
// actual data points, which is required when the centroids must be valid inputs for the encoder.
//
// No data point is returned twice: if the closest point was already taken by a previous center, the
// closest unused one is used.
func KMedoids(data [][]float64, n, maxIterations int, rng *rand.Rand) ([][]float64, error) {
	centers, err := KMeans(data, n, maxIterations, rng)
	if err != nil {
		return nil, err
	}
	return medoidsOf(data, centers), nil
}

// medoidsOf picks a distinct data point for each center. It requires len(centers) <= len(data).
func medoidsOf(data, centers [][]float64) [][]float64 {
	used := make([]bool, len(data))
	medoids := make([][]float64, len(centers))
	numShared := 0
	for ii, center := range centers {
		if used[Nearest(data, center)] {
			numShared++
		}
		idx := nearestUnused(data, center, used)
		used[idx] = true
		medoids[ii] = append([]float64(nil), data[idx]...)
	}
	if numShared > 0 {
		klog.V(2).Infof("k-medoids: %d centers share their closest data point, using the next closest", numShared)
	}
	return medoids
}

// Nearest returns the index of the point in points closest (Euclidean distance) to target.
func Nearest(points [][]float64, target []float64) int {
	return nearestUnused(points, target, nil)
}

// nearestUnused is like Nearest, but skips the points marked in used, if given.
func nearestUnused(points [][]float64, target []float64, used []bool) int {
	best, bestDist := -1, math.Inf(1)
	for ii, point := range points {
		if used != nil && used[ii] {
			continue
		}
		dist := floats.Distance(point, target, 2)
		if dist < bestDist {
			best, bestDist = ii, dist
		}
	}
	return best
}

// ToTensor converts the points to a tensor shaped [len(points), dim], as expected by rhvae.SetCentroids.
func ToTensor(points [][]float64) *tensors.Tensor {
	return tensors.FromValue(points)
}

// ToTensor32 is like ToTensor, but converts the points to float32.
func ToTensor32(points [][]float64) *tensors.Tensor {
	points32 := make([][]float32, len(points))
	for ii, point := range points {
		points32[ii] = make([]float32, len(point))
		for jj, value := range point {
			points32[ii][jj] = float32(value)
		}
	}
	return tensors.FromValue(points32)
}
