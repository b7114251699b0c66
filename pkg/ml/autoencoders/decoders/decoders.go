// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package decoders implements Gaussian decoders p(x|z) and their log-likelihoods.
//
// The output distribution comes in three parameterizations, variants of the Output sum type:
//
//   - FixedSigmaOutput: N(µ(z), I), only the mean is learned.
//   - LogSigmaOutput: N(µ(z), diag(σ(z)²)) with the network producing log(σ).
//   - SigmaOutput: N(µ(z), diag(σ(z)²)) with the network producing σ (kept positive with a softplus).
//
// All of them implement LogLikelihood(x), the Gaussian log-density of the target x, per example.
package decoders

import (
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

const (
	// ParamKind is the hyperparameter with the output parameterization of the decoder:
	// "fixed_sigma" (default), "log_sigma" or "sigma".
	ParamKind = "decoder_kind"

	// ParamNumHiddenLayers is the number of hidden layers of the decoder network. Default is 2.
	ParamNumHiddenLayers = "decoder_num_hidden_layers"

	// ParamNumHiddenNodes is the number of nodes of each hidden layer of the decoder network. Default is 32.
	ParamNumHiddenNodes = "decoder_num_hidden_nodes"
)

// Kind of output parameterization.
type Kind int

const (
	KindFixedSigma Kind = iota
	KindLogSigma
	KindSigma
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFixedSigma:
		return "fixed_sigma"
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
	case "fixed_sigma", "":
		return KindFixedSigma
	case "log_sigma":
		return KindLogSigma
	case "sigma":
		return KindSigma
	}
	autoencoders.Panicf(autoencoders.ErrInvalidArgument,
		"unknown decoder kind %q, valid values are \"fixed_sigma\", \"log_sigma\" or \"sigma\"", name)
	return KindFixedSigma
}

// Output of a decoder, shaped [batch, dataDim].
//
// It is a closed sum type: its only implementations are FixedSigmaOutput, LogSigmaOutput and SigmaOutput.
type Output interface {
	// Mean µ of the output distribution, the reconstruction.
	Mean() *Node

	// LogLikelihood returns log p(x|z) for each example, shaped [batch].
	// It panics with autoencoders.ErrDimensionMismatch if x is not shaped like the mean.
	LogLikelihood(x *Node) *Node

	isOutput()
}

// FixedSigmaOutput is a unit variance Gaussian: log p(x|z) = -½‖x-µ‖² - (n/2)·log(2π).
type FixedSigmaOutput struct {
	MeanNode *Node
}

func (o *FixedSigmaOutput) Mean() *Node { return o.MeanNode }
func (o *FixedSigmaOutput) isOutput()   {}

func (o *FixedSigmaOutput) LogLikelihood(x *Node) *Node {
	autoencoders.AssertSameShape("decoder mean", o.MeanNode, "x", x)
	dim := x.Shape().Dimensions[x.Rank()-1]
	logP := MulScalar(ReduceSum(Square(Sub(x, o.MeanNode)), -1), -0.5)
	return AddScalar(logP, -0.5*float64(dim)*autoencoders.Log2Pi)
}

// LogSigmaOutput is a diagonal Gaussian parameterized by µ and log(σ).
type LogSigmaOutput struct {
	MeanNode, LogSigmaNode *Node
}

func (o *LogSigmaOutput) Mean() *Node { return o.MeanNode }
func (o *LogSigmaOutput) isOutput()   {}

func (o *LogSigmaOutput) LogLikelihood(x *Node) *Node {
	autoencoders.AssertSameShape("decoder mean", o.MeanNode, "x", x)
	autoencoders.AssertSameShape("decoder mean", o.MeanNode, "decoder log(σ)", o.LogSigmaNode)
	return diagonalGaussianLogDensity(x, o.MeanNode, Exp(o.LogSigmaNode), o.LogSigmaNode)
}

// SigmaOutput is a diagonal Gaussian parameterized by µ and σ.
type SigmaOutput struct {
	MeanNode, SigmaNode *Node
}

func (o *SigmaOutput) Mean() *Node { return o.MeanNode }
func (o *SigmaOutput) isOutput()   {}

func (o *SigmaOutput) LogLikelihood(x *Node) *Node {
	autoencoders.AssertSameShape("decoder mean", o.MeanNode, "x", x)
	autoencoders.AssertSameShape("decoder mean", o.MeanNode, "decoder σ", o.SigmaNode)
	return diagonalGaussianLogDensity(x, o.MeanNode, o.SigmaNode, Log(o.SigmaNode))
}

// diagonalGaussianLogDensity: -½ Σᵢ ((xᵢ-µᵢ)/σᵢ)² - Σᵢ log σᵢ - (n/2)·log(2π).
func diagonalGaussianLogDensity(x, mean, sigma, logSigma *Node) *Node {
	dim := x.Shape().Dimensions[x.Rank()-1]
	logP := MulScalar(ReduceSum(Square(Div(Sub(x, mean), sigma)), -1), -0.5)
	logP = Sub(logP, ReduceSum(logSigma, -1))
	return AddScalar(logP, -0.5*float64(dim)*autoencoders.Log2Pi)
}

// Config is created with New and configured with its methods, or with the hyperparameters in the context.
type Config struct {
	ctx                             *context.Context
	latent                          *Node
	dataDim                         int
	kind                            Kind
	numHiddenLayers, numHiddenNodes int
	activation                      activations.Type
}

// New creates the configuration of a decoder of latent (shaped [batch, latentDim]) into the data space
// of dimension dataDim. Call Done to build it.
//
// The decoder may be built several times on the same context (e.g. once per leapfrog step): the context
// must then be unchecked or set to Reuse after the first time.
func New(ctx *context.Context, latent *Node, dataDim int) *Config {
	if latent.Rank() != 2 {
		autoencoders.Panicf(autoencoders.ErrDimensionMismatch, "decoder input must be shaped [batch, latentDim], got %s", latent.Shape())
	}
	if dataDim <= 0 {
		autoencoders.Panicf(autoencoders.ErrInvalidArgument, "decoder dataDim must be > 0, got %d", dataDim)
	}
	return &Config{
		ctx:             ctx,
		latent:          latent,
		dataDim:         dataDim,
		kind:            KindFromName(context.GetParamOr(ctx, ParamKind, "fixed_sigma")),
		numHiddenLayers: context.GetParamOr(ctx, ParamNumHiddenLayers, 2),
		numHiddenNodes:  context.GetParamOr(ctx, ParamNumHiddenNodes, 32),
		activation:      activations.FromName(context.GetParamOr(ctx, activations.ParamActivation, "tanh")),
	}
}

// Kind sets the output parameterization. Default is KindFixedSigma, or the ParamKind hyperparameter.
func (c *Config) Kind(kind Kind) *Config {
	c.kind = kind
	return c
}

// NumHiddenLayers sets the number of hidden layers and their number of nodes.
func (c *Config) NumHiddenLayers(numLayers, numHiddenNodes int) *Config {
	if numLayers < 0 || (numLayers > 0 && numHiddenNodes < 1) {
		exceptions.Panicf("decoders: numHiddenLayers (%d) must be >= 0 and numHiddenNodes (%d) must be >= 1",
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

// Done builds the decoder network and returns its output distribution.
func (c *Config) Done() Output {
	mean := c.buildHead(c.ctx.In("mean"))
	switch c.kind {
	case KindLogSigma:
		return &LogSigmaOutput{MeanNode: mean, LogSigmaNode: c.buildHead(c.ctx.In("dispersion"))}
	case KindSigma:
		return &SigmaOutput{MeanNode: mean, SigmaNode: autoencoders.PositiveScale(c.buildHead(c.ctx.In("dispersion")))}
	default:
		return &FixedSigmaOutput{MeanNode: mean}
	}
}

func (c *Config) buildHead(ctx *context.Context) *Node {
	return fnn.New(ctx, c.latent, c.dataDim).
		NumHiddenLayers(c.numHiddenLayers, c.numHiddenNodes).
		Activation(c.activation).
		Done()
}
