// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoders implements Gaussian variational encoders q(z|x) = N(µ(x), diag(σ(x)²)).
//
// The encoder network is a plain FNN (see package fnn) whose last layer is split into the mean µ and the
// dispersion. The dispersion comes in two parameterizations, which are variants of the Output sum type:
//
//   - LogSigmaOutput: the network outputs log(σ), the default.
//   - SigmaOutput: the network outputs σ directly, kept positive with a softplus.
//
// Example:
//
//	q := encoders.New(ctx.In("encoder"), x, latentDim).NumHiddenLayers(2, 64).Done()
//	z := q.Sample(ctx.RandomNormal(g, q.Mean().Shape()))
package encoders

import (
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

const (
	// ParamKind is the hyperparameter with the dispersion parameterization of the encoder:
	// "log_sigma" (default) or "sigma".
	ParamKind = "encoder_kind"

	// ParamNumHiddenLayers is the number of hidden layers of the encoder network. Default is 2.
	ParamNumHiddenLayers = "encoder_num_hidden_layers"

	// ParamNumHiddenNodes is the number of nodes of each hidden layer of the encoder network. Default is 32.
	ParamNumHiddenNodes = "encoder_num_hidden_nodes"
)

// Kind of dispersion parameterization.
type Kind int

const (
	KindLogSigma Kind = iota
	KindSigma
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindLogSigma:
		return "log_sigma"
	case KindSigma:
		return "sigma"
	default:
		return "unknown"
	}
}

// KindFromName converts the name of the parameterization to a Kind.
// It panics with autoencoders.ErrInvalidArgument for unknown names.
func KindFromName(name string) Kind {
	switch name {
	case "log_sigma", "":
		return KindLogSigma
	case "sigma":
		return KindSigma
	}
	autoencoders.Panicf(autoencoders.ErrInvalidArgument, "unknown encoder kind %q, valid values are \"log_sigma\" or \"sigma\"", name)
	return KindLogSigma
}

// Output of an encoder: the parameters of a diagonal Gaussian posterior, shaped [batch, latentDim] each.
//
// It is a closed sum type: its only implementations are LogSigmaOutput and SigmaOutput.
type Output interface {
	// Mean µ of the posterior.
	Mean() *Node

	// Sigma is the standard deviation σ of the posterior.
	Sigma() *Node

	// LogSigma is log(σ).
	LogSigma() *Node

	isOutput()
}

// LogSigmaOutput is the posterior parameterized by µ and log(σ).
type LogSigmaOutput struct {
	MeanNode, LogSigmaNode *Node
}

func (o *LogSigmaOutput) Mean() *Node     { return o.MeanNode }
func (o *LogSigmaOutput) LogSigma() *Node { return o.LogSigmaNode }
func (o *LogSigmaOutput) Sigma() *Node    { return Exp(o.LogSigmaNode) }
func (o *LogSigmaOutput) isOutput()       {}

// SigmaOutput is the posterior parameterized by µ and σ.
type SigmaOutput struct {
	MeanNode, SigmaNode *Node
}

func (o *SigmaOutput) Mean() *Node     { return o.MeanNode }
func (o *SigmaOutput) LogSigma() *Node { return Log(o.SigmaNode) }
func (o *SigmaOutput) Sigma() *Node    { return o.SigmaNode }
func (o *SigmaOutput) isOutput()       {}

// Sample returns the reparameterized sample z = µ + σ·noise, where noise ~ N(0, I) is given by the caller,
// shaped like the mean.
func Sample(q Output, noise *Node) *Node {
	autoencoders.AssertSameShape("mean", q.Mean(), "noise", noise)
	return Add(q.Mean(), Mul(q.Sigma(), noise))
}

// LogDensity returns log q(z|x) for each example, shaped [batch]:
//
//	log q(z|x) = -½ Σᵢ ((zᵢ-µᵢ)/σᵢ)² - Σᵢ log σᵢ - (D/2)·log(2π)
func LogDensity(q Output, z *Node) *Node {
	mean := q.Mean()
	autoencoders.AssertSameShape("mean", mean, "z", z)
	dim := mean.Shape().Dimensions[mean.Rank()-1]
	normalized := Div(Sub(z, mean), q.Sigma())
	logQ := MulScalar(ReduceSum(Square(normalized), -1), -0.5)
	logQ = Sub(logQ, ReduceSum(q.LogSigma(), -1))
	return AddScalar(logQ, -0.5*float64(dim)*autoencoders.Log2Pi)
}

// Config is created with New and configured with its methods, or with the hyperparameters in the context.
type Config struct {
	ctx                             *context.Context
	input                           *Node
	latentDim                       int
	kind                            Kind
	numHiddenLayers, numHiddenNodes int
	activation                      activations.Type
}

// New creates the configuration of an encoder of input (shaped [batch, dataDim]) into a latent space
// of dimension latentDim. Call Done to build it.
func New(ctx *context.Context, input *Node, latentDim int) *Config {
	if input.Rank() != 2 {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "encoder input must be shaped [batch, dataDim], got %s", input.Shape())
	}
	if latentDim <= 0 {
		autoencoders.Panicf(autoencoders.ErrInvalidArgument, "encoder latentDim must be > 0, got %d", latentDim)
	}
	return &Config{
		ctx:             ctx,
		input:           input,
		latentDim:       latentDim,
		kind:            KindFromName(context.GetParamOr(ctx, ParamKind, "log_sigma")),
		numHiddenLayers: context.GetParamOr(ctx, ParamNumHiddenLayers, 2),
		numHiddenNodes:  context.GetParamOr(ctx, ParamNumHiddenNodes, 32),
		activation:      activations.FromName(context.GetParamOr(ctx, activations.ParamActivation, "tanh")),
	}
}

// Kind sets the dispersion parameterization. Default is KindLogSigma, or the ParamKind hyperparameter.
func (c *Config) Kind(kind Kind) *Config {
	c.kind = kind
	return c
}

// NumHiddenLayers sets the number of hidden layers and their number of nodes.
func (c *Config) NumHiddenLayers(numLayers, numHiddenNodes int) *Config {
	if numLayers < 0 || (numLayers > 0 && numHiddenNodes < 1) {
		exceptions.Panicf("encoders: numHiddenLayers (%d) must be >= 0 and numHiddenNodes (%d) must be >= 1",
			numLayers, numHiddenNodes)
	}
	c.numHiddenLayers = numLayers
	c.numHiddenNodes = numHiddenNodes
	return c
}

// Activation sets the activation used in between the hidden layers. Default is "tanh".
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// Done builds the encoder network and returns the posterior parameters.
//
// The network variables are created under the "mean" and "dispersion" sub-scopes, sharing nothing,
// so the mean can be evaluated alone (e.g. for centroids) without building the dispersion head.
func (c *Config) Done() Output {
	mean := c.buildHead(c.ctx.In("mean"))
	dispersion := c.buildHead(c.ctx.In("dispersion"))
	if c.kind == KindSigma {
		return &SigmaOutput{MeanNode: mean, SigmaNode: autoencoders.PositiveScale(dispersion)}
	}
	return &LogSigmaOutput{MeanNode: mean, LogSigmaNode: dispersion}
}

// Mean builds only the mean µ(x) of the encoder. It uses the same variables as Done.
func (c *Config) Mean() *Node {
	return c.buildHead(c.ctx.In("mean"))
}

func (c *Config) buildHead(ctx *context.Context) *Node {
	return fnn.New(ctx, c.input, c.latentDim).
		NumHiddenLayers(c.numHiddenLayers, c.numHiddenNodes).
		Activation(c.activation).
		Done()
}
