// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"fmt"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// ParamNumLeapfrogSteps is the number K of tempered leapfrog steps. Default is 3.
	ParamNumLeapfrogSteps = "rhvae_num_leapfrog_steps"

	// ParamLeapfrogStepSize is the leapfrog step size ϵ: either a float64 (same step for every latent dimension)
	// or a []float64 with one step per latent dimension. Default is 0.01.
	ParamLeapfrogStepSize = "rhvae_leapfrog_step_size"

	// ParamFixedPointSteps is the number of fixed-point iterations used to solve each implicit leapfrog
	// sub-step. Convergence is not verified. Default is 3.
	ParamFixedPointSteps = "rhvae_fixed_point_steps"

	// ParamBeta0 is the initial inverse temperature β₀, in (0, 1]. Default is 0.3.
	ParamBeta0 = "rhvae_beta0"

	// ParamRegularization is the λ added to the diagonal of the inverse metric. It must be > 0. Default is 0.01.
	ParamRegularization = "rhvae_regularization"

	// ParamTemperature is the bandwidth T of the kernel weighting the centroids. Default is 0.4.
	ParamTemperature = "rhvae_temperature"

	// ParamTempering is the name of the tempering schedule: "quadratic" (default), "linear" or "none".
	ParamTempering = "rhvae_tempering"

	// ParamDifferentiableMetric defines whether the loss rebuilds the centroid cache inside the graph, so
	// gradients reach the encoder and the metric network through G⁻¹. If false, the loss uses the cache last
	// stored by UpdateMetric as a constant. Default is true.
	ParamDifferentiableMetric = "rhvae_differentiable_metric"

	// ParamMetricHiddenLayers is the number of hidden layers of the metric network. Default is 1.
	ParamMetricHiddenLayers = "rhvae_metric_hidden_layers"

	// ParamMetricHiddenNodes is the number of nodes in each hidden layer of the metric network. Default is 16.
	ParamMetricHiddenNodes = "rhvae_metric_hidden_nodes"
)

// Config holds the hyperparameters of the RHVAE. Create it with DefaultConfig or ConfigFromContext.
type Config struct {
	// LatentDim is the dimension D of the latent space.
	LatentDim int

	// NumLeapfrogSteps is K.
	NumLeapfrogSteps int

	// StepSize ϵ has either one value (isotropic) or LatentDim values.
	StepSize []float64

	// FixedPointSteps is the fixed number of iterations of the implicit sub-steps.
	FixedPointSteps int

	// Beta0 is the initial inverse temperature β₀.
	Beta0 float64

	// Regularization is λ.
	Regularization float64

	// Temperature is the kernel bandwidth T.
	Temperature float64

	// Tempering schedule of the inverse temperature along the leapfrog steps.
	Tempering Schedule

	// DifferentiableMetric: see ParamDifferentiableMetric.
	DifferentiableMetric bool

	MetricHiddenLayers, MetricHiddenNodes int
}

// DefaultConfig returns the default configuration for the given latent dimension.
func DefaultConfig(latentDim int) *Config {
	return &Config{
		LatentDim:            latentDim,
		NumLeapfrogSteps:     3,
		StepSize:             []float64{0.01},
		FixedPointSteps:      3,
		Beta0:                0.3,
		Regularization:       0.01,
		Temperature:          0.4,
		Tempering:            QuadraticTempering,
		DifferentiableMetric: true,
		MetricHiddenLayers:   1,
		MetricHiddenNodes:    16,
	}
}

// ConfigFromContext reads the configuration from the context hyperparameters, using the defaults of
// DefaultConfig for those not set, and validates it.
func ConfigFromContext(ctx *context.Context, latentDim int) (*Config, error) {
	cfg := DefaultConfig(latentDim)
	cfg.NumLeapfrogSteps = context.GetParamOr(ctx, ParamNumLeapfrogSteps, cfg.NumLeapfrogSteps)
	cfg.FixedPointSteps = context.GetParamOr(ctx, ParamFixedPointSteps, cfg.FixedPointSteps)
	cfg.Beta0 = context.GetParamOr(ctx, ParamBeta0, cfg.Beta0)
	cfg.Regularization = context.GetParamOr(ctx, ParamRegularization, cfg.Regularization)
	cfg.Temperature = context.GetParamOr(ctx, ParamTemperature, cfg.Temperature)
	cfg.DifferentiableMetric = context.GetParamOr(ctx, ParamDifferentiableMetric, cfg.DifferentiableMetric)
	cfg.MetricHiddenLayers = context.GetParamOr(ctx, ParamMetricHiddenLayers, cfg.MetricHiddenLayers)
	cfg.MetricHiddenNodes = context.GetParamOr(ctx, ParamMetricHiddenNodes, cfg.MetricHiddenNodes)

	var err error
	cfg.Tempering, err = ScheduleFromName(context.GetParamOr(ctx, ParamTempering, "quadratic"))
	if err != nil {
		return nil, err
	}
	if value, found := ctx.GetParam(ParamLeapfrogStepSize); found && value != nil {
		cfg.StepSize, err = stepSizeFromParam(value)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stepSizeFromParam accepts a number or a list of numbers; lists may come as []any after a JSON round trip.
func stepSizeFromParam(value any) ([]float64, error) {
	switch v := value.(type) {
	case float64:
		return []float64{v}, nil
	case float32:
		return []float64{float64(v)}, nil
	case int:
		return []float64{float64(v)}, nil
	case []float64:
		return v, nil
	case []any:
		steps := make([]float64, len(v))
		for ii, elem := range v {
			switch e := elem.(type) {
			case float64:
				steps[ii] = e
			case int:
				steps[ii] = float64(e)
			default:
				return nil, errors.Wrapf(autoencoders.ErrInvalidArgument,
					"%s[%d] must be a number, got %T", ParamLeapfrogStepSize, ii, elem)
			}
		}
		return steps, nil
	}
	return nil, errors.Wrapf(autoencoders.ErrInvalidArgument,
		"%s must be a float64 or []float64, got %T", ParamLeapfrogStepSize, value)
}

// Validate checks the configuration values, returning an error that wraps autoencoders.ErrInvalidArgument or
// autoencoders.ErrNumericalDegeneracy.
func (cfg *Config) Validate() error {
	if cfg.LatentDim <= 0 {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "latent dimension must be > 0, got %d", cfg.LatentDim)
	}
	if err := ValidateSchedule(cfg.Beta0, cfg.NumLeapfrogSteps); err != nil {
		return err
	}
	if cfg.Tempering == nil {
		return errors.Wrap(autoencoders.ErrInvalidArgument, "a tempering schedule must be given")
	}
	if cfg.FixedPointSteps < 1 {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "%s must be >= 1, got %d", ParamFixedPointSteps, cfg.FixedPointSteps)
	}
	if n := len(cfg.StepSize); n != 1 && n != cfg.LatentDim {
		return errors.Wrapf(autoencoders.ErrDimensionMismatch,
			"%s must have 1 or %d (latent dimension) values, got %d", ParamLeapfrogStepSize, cfg.LatentDim, n)
	}
	if cfg.Regularization <= 0 {
		return errors.Wrapf(autoencoders.ErrNumericalDegeneracy,
			"%s (λ) must be > 0 for the metric to be positive-definite, got %g", ParamRegularization, cfg.Regularization)
	}
	if cfg.Temperature <= 0 {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "%s (T) must be > 0, got %g", ParamTemperature, cfg.Temperature)
	}
	if cfg.MetricHiddenLayers < 0 || (cfg.MetricHiddenLayers > 0 && cfg.MetricHiddenNodes < 1) {
		return errors.Wrapf(autoencoders.ErrInvalidArgument, "invalid metric network with %d hidden layers of %d nodes",
			cfg.MetricHiddenLayers, cfg.MetricHiddenNodes)
	}
	return nil
}

// String implements fmt.Stringer.
func (cfg *Config) String() string {
	return fmt.Sprintf("RHVAE(D=%d, K=%d, ϵ=%v, steps=%d, β₀=%g, λ=%g, T=%g)",
		cfg.LatentDim, cfg.NumLeapfrogSteps, cfg.StepSize, cfg.FixedPointSteps,
		cfg.Beta0, cfg.Regularization, cfg.Temperature)
}

// WithStepSize returns a copy of the configuration with the given step size.
func (cfg *Config) WithStepSize(stepSize ...float64) *Config {
	newCfg := *cfg
	newCfg.StepSize = stepSize
	return &newCfg
}
