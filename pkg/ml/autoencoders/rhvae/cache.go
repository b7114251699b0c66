// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"github.com/gomlx/autoencoders/pkg/core/linalg"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/vae"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

const (
	// CacheScope is the scope, under the model context, of the centroid cache variables.
	CacheScope = "metric_cache"

	// CentroidsDataVar holds the reference data points, shaped [N, dataDim]. Set with SetCentroids.
	CentroidsDataVar = "centroids_data"

	// CentroidsLatentVar holds the encoder mean of the centroids data, shaped [N, D]. Refreshed by UpdateMetric.
	CentroidsLatentVar = "centroids_latent"

	// CentroidFormsVar holds the local quadratic forms Mᵢ = LᵢLᵢᵗ, shaped [N, D, D]. Refreshed by UpdateMetric.
	CentroidFormsVar = "centroid_forms"
)

// MetricCache is a snapshot of the centroids in latent space and their local quadratic forms, from which
// G⁻¹(z) is interpolated.
//
// It is a value: graph code never modifies it. A new one is built with BuildMetricCache, or read from the
// context variables with CachedMetric.
type MetricCache struct {
	// Latent holds the centroids in latent space, shaped [N, D].
	Latent *Node

	// Forms holds the symmetric positive semi-definite Mᵢ, shaped [N, D, D].
	Forms *Node
}

// NumCentroids returns N.
func (c *MetricCache) NumCentroids() int { return c.Latent.Shape().Dimensions[0] }

// BuildMetricCache runs the encoder mean and the metric network on the centroids data (shaped [N, dataDim]),
// returning a fresh snapshot. It is differentiable, and it doesn't touch the cache variables.
func BuildMetricCache(ctx *context.Context, cfg *Config, centroidsData *Node) *MetricCache {
	autoencoders.AssertMatrix("centroids data", centroidsData, 0)
	latent := vae.EncodeMean(ctx, centroidsData, cfg.LatentDim)
	l := MetricNetworkMatrix(ctx, cfg, latent)
	return &MetricCache{Latent: latent, Forms: linalg.OuterSelf(l)}
}

// SetCentroids stores the centroids reference data, shaped [N, dataDim], in the model context.
// The cache in latent space is only populated by the next UpdateMetric.
func SetCentroids(ctx *context.Context, data *tensors.Tensor) {
	if data.Rank() != 2 {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "centroids data must be shaped [N, dataDim], got %s", data.Shape())
	}
	cacheCtx := ctx.In(CacheScope).Checked(false)
	v := cacheCtx.GetVariable(CentroidsDataVar)
	if v != nil && v.Shape().Equal(data.Shape()) {
		v.MustSetValue(data)
		return
	}
	if v != nil {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "centroids data was shaped %s, cannot be replaced by %s",
			v.Shape(), data.Shape())
	}
	cacheCtx.VariableWithValue(CentroidsDataVar, data).SetTrainable(false)
}

// CentroidsData returns the graph value of the centroids reference data.
// It panics if SetCentroids was not called.
func CentroidsData(ctx *context.Context, g *Graph) *Node {
	v := ctx.In(CacheScope).GetVariable(CentroidsDataVar)
	if v == nil {
		exceptions.Panicf("rhvae: centroids data not set in scope %q, use rhvae.SetCentroids first", ctx.In(CacheScope).Scope())
	}
	return v.ValueGraph(g)
}

// CachedMetric returns the cache last stored by UpdateMetric, as constants of the graph with respect to
// gradients. It panics if UpdateMetric was never called.
func CachedMetric(ctx *context.Context, g *Graph) *MetricCache {
	cacheCtx := ctx.In(CacheScope)
	latentVar, formsVar := cacheCtx.GetVariable(CentroidsLatentVar), cacheCtx.GetVariable(CentroidFormsVar)
	if latentVar == nil || formsVar == nil {
		exceptions.Panicf("rhvae: metric cache not populated in scope %q, call rhvae.UpdateMetric first", cacheCtx.Scope())
	}
	return &MetricCache{
		Latent: StopGradient(latentVar.ValueGraph(g)),
		Forms:  StopGradient(formsVar.ValueGraph(g)),
	}
}

// ModelMetric returns the cache the model uses while building the loss: a fresh differentiable snapshot if
// cfg.DifferentiableMetric is set, or the stored one otherwise.
func ModelMetric(ctx *context.Context, cfg *Config, g *Graph) *MetricCache {
	if cfg.DifferentiableMetric {
		return BuildMetricCache(ctx, cfg, CentroidsData(ctx, g))
	}
	return CachedMetric(ctx, g)
}

// MetricUpdater recomputes the centroids in latent space and their quadratic forms with the current encoder
// and metric network weights, and stores them in the cache variables.
//
// The update graph is compiled once, so a MetricUpdater can be used after every training step.
type MetricUpdater struct {
	ctx  *context.Context
	exec *context.Exec
}

// NewMetricUpdater creates the update computation for the model in ctx. SetCentroids must be called before
// the first Update.
func NewMetricUpdater(backend backends.Backend, ctx *context.Context, cfg *Config) (*MetricUpdater, error) {
	ctx = ctx.Checked(false)
	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		cache := BuildMetricCache(ctx, cfg, CentroidsData(ctx, g))
		cacheCtx := ctx.In(CacheScope)
		cacheCtx.VariableWithValueGraph(CentroidsLatentVar, cache.Latent).SetTrainable(false)
		cacheCtx.VariableWithValueGraph(CentroidFormsVar, cache.Forms).SetTrainable(false)
		return []*Node{cache.Latent, cache.Forms}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "rhvae: failed to build metric update")
	}
	return &MetricUpdater{ctx: ctx, exec: exec}, nil
}

// Update runs the computation, refreshing the cache variables.
func (u *MetricUpdater) Update() error {
	if _, err := u.exec.Exec(); err != nil {
		return errors.WithMessage(err, "rhvae: failed to update metric")
	}
	klog.V(2).Infof("rhvae: metric cache updated in scope %q", u.ctx.In(CacheScope).Scope())
	return nil
}

// Finalize frees the compiled computation.
func (u *MetricUpdater) Finalize() {
	u.exec.Finalize()
}

// UpdateMetric runs a MetricUpdater once.
//
// It must be called after SetCentroids, and again whenever the encoder or metric network weights change, if
// the stored cache is used: staleness is not detected.
func UpdateMetric(backend backends.Backend, ctx *context.Context, cfg *Config) error {
	updater, err := NewMetricUpdater(backend, ctx, cfg)
	if err != nil {
		return err
	}
	defer updater.Finalize()
	if err = updater.Update(); err != nil {
		return err
	}
	klog.V(1).Infof("rhvae: metric cache updated in scope %q", ctx.In(CacheScope).Scope())
	return nil
}

// HostMetricCache is the centroid cache copied to Go values, used by the non-differentiable GInvFast.
type HostMetricCache struct {
	// Latent holds the N centroids, each with D values.
	Latent [][]float64

	// Forms holds the N matrices Mᵢ.
	Forms []*mat.SymDense
}

// NewHostMetricCache copies the cache stored by UpdateMetric in ctx.
func NewHostMetricCache(ctx *context.Context) (*HostMetricCache, error) {
	cacheCtx := ctx.In(CacheScope)
	latentVar, formsVar := cacheCtx.GetVariable(CentroidsLatentVar), cacheCtx.GetVariable(CentroidFormsVar)
	if latentVar == nil || formsVar == nil {
		return nil, errors.Errorf("rhvae: metric cache not populated in scope %q, call rhvae.UpdateMetric first",
			cacheCtx.Scope())
	}
	latentT, err := latentVar.Value()
	if err != nil {
		return nil, err
	}
	formsT, err := formsVar.Value()
	if err != nil {
		return nil, err
	}
	return HostMetricCacheFromTensors(latentT, formsT)
}

// HostMetricCacheFromTensors converts the cache tensors, latent shaped [N, D] and forms shaped [N, D, D].
func HostMetricCacheFromTensors(latent, forms *tensors.Tensor) (*HostMetricCache, error) {
	if latent.Rank() != 2 || forms.Rank() != 3 {
		return nil, errors.Wrapf(autoencoders.ErrDimensionMismatch,
			"invalid metric cache shapes: latent=%s, forms=%s", latent.Shape(), forms.Shape())
	}
	numCentroids, dim := latent.Shape().Dimensions[0], latent.Shape().Dimensions[1]
	if forms.Shape().Dimensions[0] != numCentroids || forms.Shape().Dimensions[1] != dim || forms.Shape().Dimensions[2] != dim {
		return nil, errors.Wrapf(autoencoders.ErrDimensionMismatch,
			"invalid metric cache shapes: latent=%s, forms=%s", latent.Shape(), forms.Shape())
	}
	latentFlat, err := flatFloat64(latent)
	if err != nil {
		return nil, err
	}
	formsFlat, err := flatFloat64(forms)
	if err != nil {
		return nil, err
	}
	host := &HostMetricCache{
		Latent: make([][]float64, numCentroids),
		Forms:  make([]*mat.SymDense, numCentroids),
	}
	for ii := range numCentroids {
		host.Latent[ii] = latentFlat[ii*dim : (ii+1)*dim]
		host.Forms[ii] = mat.NewSymDense(dim, formsFlat[ii*dim*dim:(ii+1)*dim*dim])
	}
	return host, nil
}

func flatFloat64(t *tensors.Tensor) ([]float64, error) {
	switch t.DType() {
	case dtypes.Float64:
		return tensors.MustCopyFlatData[float64](t), nil
	case dtypes.Float32:
		flat32 := tensors.MustCopyFlatData[float32](t)
		flat := make([]float64, len(flat32))
		for ii, v := range flat32 {
			flat[ii] = float64(v)
		}
		return flat, nil
	}
	return nil, errors.Wrapf(autoencoders.ErrInvalidArgument, "metric cache dtype %s not supported", t.DType())
}
