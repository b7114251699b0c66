// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package latentplot draws 2D latent spaces of trained RHVAE models with gonum/plot: the encoded
// points, the centroids and a heatmap of the log volume element log √det G(z) of the learned metric.
package latentplot

import (
	"image/color"
	"math"

	"github.com/gomlx/autoencoders/internal/workerspool"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/rhvae"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Box is a rectangle of the latent plane.
type Box struct {
	XMin, XMax, YMin, YMax float64
}

// BoundingBox returns the smallest Box with all the 2D points, enlarged by margin (a fraction of its size)
// on each side.
func BoundingBox(points [][]float64, margin float64) (Box, error) {
	if len(points) == 0 {
		return Box{}, errors.Wrap(autoencoders.ErrInvalidArgument, "no points to bound")
	}
	if err := check2D(points); err != nil {
		return Box{}, err
	}
	box := Box{XMin: math.Inf(1), XMax: math.Inf(-1), YMin: math.Inf(1), YMax: math.Inf(-1)}
	for _, point := range points {
		box.XMin, box.XMax = min(box.XMin, point[0]), max(box.XMax, point[0])
		box.YMin, box.YMax = min(box.YMin, point[1]), max(box.YMax, point[1])
	}
	dx, dy := margin*(box.XMax-box.XMin), margin*(box.YMax-box.YMin)
	box.XMin, box.XMax = box.XMin-dx, box.XMax+dx
	box.YMin, box.YMax = box.YMin-dy, box.YMax+dy
	return box, nil
}

func check2D(points [][]float64) error {
	for ii, point := range points {
		if len(point) != 2 {
			return errors.Wrapf(autoencoders.ErrDimensionMismatch, "point #%d has %d dimensions, only 2D can be plotted",
				ii, len(point))
		}
	}
	return nil
}

// VolumeGrid holds log √det G(z) sampled on a regular grid. It implements plotter.GridXYZ.
type VolumeGrid struct {
	xs, ys []float64

	// values[row][col] is the log volume at (xs[col], ys[row]).
	values [][]float64
}

var _ plotter.GridXYZ = (*VolumeGrid)(nil)

// NewVolumeGrid evaluates the log volume element of the metric at resolution×resolution points of box, using
// the fast path (rhvae.MetricVolume) on the stored cache.
func NewVolumeGrid(host *rhvae.HostMetricCache, cfg *rhvae.Config, box Box, resolution int) (*VolumeGrid, error) {
	if cfg.LatentDim != 2 {
		return nil, errors.Wrapf(autoencoders.ErrDimensionMismatch, "only 2D latent spaces can be plotted, got %d",
			cfg.LatentDim)
	}
	if resolution < 2 {
		return nil, errors.Wrapf(autoencoders.ErrInvalidArgument, "grid resolution must be at least 2, got %d", resolution)
	}
	grid := &VolumeGrid{
		xs:     linspace(box.XMin, box.XMax, resolution),
		ys:     linspace(box.YMin, box.YMax, resolution),
		values: make([][]float64, resolution),
	}
	err := workerspool.New().Run(resolution, func(row int) error {
		grid.values[row] = make([]float64, resolution)
		for col, x := range grid.xs {
			volume, err := rhvae.MetricVolume(host, []float64{x, grid.ys[row]}, cfg)
			if err != nil {
				return err
			}
			grid.values[row][col] = math.Log(volume)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grid, nil
}

func linspace(start, end float64, n int) []float64 {
	values := make([]float64, n)
	step := (end - start) / float64(n-1)
	for ii := range values {
		values[ii] = start + float64(ii)*step
	}
	values[n-1] = end
	return values
}

// Dims implements plotter.GridXYZ.
func (g *VolumeGrid) Dims() (c, r int) { return len(g.xs), len(g.ys) }

// Z implements plotter.GridXYZ.
func (g *VolumeGrid) Z(c, r int) float64 { return g.values[r][c] }

// X implements plotter.GridXYZ.
func (g *VolumeGrid) X(c int) float64 { return g.xs[c] }

// Y implements plotter.GridXYZ.
func (g *VolumeGrid) Y(r int) float64 { return g.ys[r] }

func toXYs(points [][]float64) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for ii, point := range points {
		xys[ii].X, xys[ii].Y = point[0], point[1]
	}
	return xys
}

// LatentMap plots the encoded points and the centroids over the metric volume heatmap. grid may be nil.
func LatentMap(title string, latent, centroids [][]float64, grid *VolumeGrid) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "z₁"
	p.Y.Label.Text = "z₂"

	if grid != nil {
		p.Add(plotter.NewHeatMap(grid, palette.Heat(64, 1)))
	}
	for _, points := range [][][]float64{latent, centroids} {
		if err := check2D(points); err != nil {
			return nil, err
		}
	}

	scatter, err := plotter.NewScatter(toXYs(latent))
	if err != nil {
		return nil, errors.Wrap(err, "failed to plot latent points")
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 40, G: 80, B: 200, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)
	p.Legend.Add("encoded", scatter)

	if len(centroids) > 0 {
		centroidsScatter, err := plotter.NewScatter(toXYs(centroids))
		if err != nil {
			return nil, errors.Wrap(err, "failed to plot centroids")
		}
		centroidsScatter.GlyphStyle.Color = color.Black
		centroidsScatter.GlyphStyle.Shape = draw.CrossGlyph{}
		centroidsScatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(centroidsScatter)
		p.Legend.Add("centroids", centroidsScatter)
	}
	return p, nil
}

// LossCurve plots the loss per training step.
func LossCurve(steps, losses []float64) (*plot.Plot, error) {
	if len(steps) != len(losses) {
		return nil, errors.Wrapf(autoencoders.ErrDimensionMismatch, "%d steps but %d loss values", len(steps), len(losses))
	}
	xys := make(plotter.XYs, len(steps))
	for ii := range steps {
		xys[ii].X, xys[ii].Y = steps[ii], losses[ii]
	}
	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "global step"
	p.Y.Label.Text = "-ELBO"
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to plot loss curve")
	}
	p.Add(line)
	return p, nil
}

// Save writes the plot to path; the format is taken from the file extension.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", path)
	}
	return nil
}
