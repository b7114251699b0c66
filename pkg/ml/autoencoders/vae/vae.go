// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vae implements the variational autoencoder and its β-VAE variant.
//
// The encoder and decoder networks are built under the "encoder" and "decoder" scopes of the given context,
// which other models (see package rhvae) reuse, so they are interchangeable at the checkpoint level.
package vae

import (
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/encoders"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// ParamBeta is the weight of the KL divergence term in the loss. Default is 1.0, the plain VAE.
	// Values > 1 give the β-VAE.
	ParamBeta = "vae_beta"

	// EncoderScope is the scope under which the encoder variables are created.
	EncoderScope = "encoder"

	// DecoderScope is the scope under which the decoder variables are created.
	DecoderScope = "decoder"
)

// Output of the forward pass of a VAE.
type Output struct {
	Encoder encoders.Output
	Latent  *Node
	Decoder decoders.Output
}

// Encode builds the encoder for x (shaped [batch, dataDim]).
func Encode(ctx *context.Context, x *Node, latentDim int) encoders.Output {
	return encoders.New(ctx.In(EncoderScope), x, latentDim).Done()
}

// EncodeMean builds only the mean of the encoder, sharing the variables with Encode.
func EncodeMean(ctx *context.Context, x *Node, latentDim int) *Node {
	return encoders.New(ctx.In(EncoderScope), x, latentDim).Mean()
}

// Decode builds the decoder for the latent points z (shaped [batch, latentDim]).
// It can be called several times in the same graph if the context is unchecked.
func Decode(ctx *context.Context, z *Node, dataDim int) decoders.Output {
	return decoders.New(ctx.In(DecoderScope), z, dataDim).Done()
}

// Forward runs the encoder, samples a latent point with the reparameterization trick and decodes it.
// The noise is drawn from the context random number generator.
func Forward(ctx *context.Context, x *Node, latentDim int) *Output {
	g := x.Graph()
	q := Encode(ctx, x, latentDim)
	noise := ctx.RandomNormal(g, q.Mean().Shape())
	return decodeSample(ctx, x, q, noise)
}

// ForwardWithNoise is like Forward, but with the reparameterization noise given, shaped [batch, latentDim].
func ForwardWithNoise(ctx *context.Context, x, noise *Node) *Output {
	autoencoders.AssertMatrix("noise", noise, 0)
	q := Encode(ctx, x, noise.Shape().Dimensions[1])
	return decodeSample(ctx, x, q, noise)
}

func decodeSample(ctx *context.Context, x *Node, q encoders.Output, noise *Node) *Output {
	z := encoders.Sample(q, noise)
	return &Output{
		Encoder: q,
		Latent:  z,
		Decoder: Decode(ctx, z, x.Shape().Dimensions[1]),
	}
}

// KLDivergence returns KL(q(z|x) ‖ N(0, I)) per example, shaped [batch], in closed form:
//
//	KL = ½ Σᵢ (µᵢ² + σᵢ² - 1 - 2·log σᵢ)
func KLDivergence(q encoders.Output) *Node {
	mean, logSigma := q.Mean(), q.LogSigma()
	sigma2 := Exp(MulScalar(logSigma, 2))
	terms := Sub(Add(Square(mean), sigma2), AddScalar(MulScalar(logSigma, 2), 1))
	return MulScalar(ReduceSum(terms, -1), 0.5)
}

// Loss returns the negative ELBO averaged over the batch, with the KL term weighted by ParamBeta:
//
//	loss = mean(-log p(x|z) + β·KL(q(z|x) ‖ p(z)))
func Loss(ctx *context.Context, x *Node, latentDim int) *Node {
	autoencoders.AssertMatrix("x", x, 0)
	beta := context.GetParamOr(ctx, ParamBeta, 1.0)
	out := Forward(ctx, x, latentDim)
	return LossFromOutput(out, x, beta)
}

// LossFromOutput computes the β-VAE loss given the forward pass output.
func LossFromOutput(out *Output, x *Node, beta float64) *Node {
	negLogLikelihood := Neg(out.Decoder.LogLikelihood(x))
	perExample := Add(negLogLikelihood, MulScalar(KLDivergence(out.Encoder), beta))
	return ReduceAllMean(perExample)
}
