// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rhvae

import (
	"math"

	"github.com/gomlx/autoencoders/pkg/ml/autoencoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/decoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/encoders"
	"github.com/gomlx/autoencoders/pkg/ml/autoencoders/vae"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Model is a Riemannian Hamiltonian VAE. Its weights live in the context given to its methods:
// the encoder and decoder (see package vae), the metric network (MetricScope) and the centroid cache
// (CacheScope).
//
// The decoder is built once per Hamiltonian evaluation, so the context is used unchecked.
type Model struct {
	Config *Config
}

// New creates a model with the given configuration, which must be valid.
func New(cfg *Config) *Model {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Model{Config: cfg}
}

// Output of the forward pass.
type Output struct {
	// Encoder posterior q(z|x), evaluated at the input.
	Encoder encoders.Output

	// Decoder output at the final latent point of the integration.
	Decoder decoders.Output

	// PhaseSpace holds the initial and final latent points and momenta.
	PhaseSpace *PhaseSpace

	// Metric is the centroid cache used to compute G⁻¹.
	Metric *MetricCache
}

// Forward encodes x (shaped [batch, dataDim]), samples z₀ from the posterior, integrates the tempered
// Hamiltonian dynamics and decodes the final latent point.
// The random noise for z₀ and the momentum seed γ₀ is drawn from the context random number generator.
func (m *Model) Forward(ctx *context.Context, x *Node) *Output {
	autoencoders.AssertMatrix("x", x, 0)
	g := x.Graph()
	shape := x.Shape().Clone()
	shape.Dimensions[1] = m.Config.LatentDim
	encoderNoise := ctx.RandomNormal(g, shape)
	gamma0 := ctx.RandomNormal(g, shape)
	return m.ForwardWithNoise(ctx, x, encoderNoise, gamma0)
}

// ForwardWithNoise is like Forward, with the reparameterization noise and the momentum seed given,
// both shaped [batch, D].
func (m *Model) ForwardWithNoise(ctx *context.Context, x, encoderNoise, gamma0 *Node) *Output {
	cfg := m.Config
	ctx = ctx.Checked(false)
	autoencoders.AssertMatrix("x", x, 0)
	autoencoders.AssertMatrix("encoder noise", encoderNoise, cfg.LatentDim)
	autoencoders.AssertSameShape("encoder noise", encoderNoise, "momentum seed γ₀", gamma0)
	dataDim := x.Shape().Dimensions[1]

	q := vae.Encode(ctx, x, cfg.LatentDim)
	z0 := encoders.Sample(q, encoderNoise)
	metric := ModelMetric(ctx, cfg, x.Graph())
	decoder := func(z *Node) decoders.Output { return vae.Decode(ctx, z, dataDim) }
	h := NewHamiltonian(x, decoder, metric, cfg)
	phaseSpace := TemperedIntegrate(h, z0, gamma0, cfg)
	return &Output{
		Encoder:    q,
		Decoder:    decoder(phaseSpace.ZFinal),
		PhaseSpace: phaseSpace,
		Metric:     metric,
	}
}

// Reconstruct returns only the decoder mean for x, the reconstruction after the Hamiltonian flow.
func (m *Model) Reconstruct(ctx *context.Context, x *Node) *Node {
	return m.Forward(ctx, x).Decoder.Mean()
}

// ELBO returns the single-sample estimate of the evidence lower bound for each example, shaped [batch]:
//
//	log p̄ = log p(x|z_K) + log p(z_K) + log N(ρ_K; 0, G(z_K))
//	log q̄ = log q(z₀|x) + log N(ρ₀; 0, G(z₀)) - (D/2)·log β₀
//	ELBO  = log p̄ - log q̄
func ELBO(out *Output, x *Node, cfg *Config) *Node {
	ps := out.PhaseSpace
	logPBar := out.Decoder.LogLikelihood(x)
	logPBar = Add(logPBar, autoencoders.GaussianLogPrior(ps.ZFinal))
	logPBar = Add(logPBar, RiemannianLogPrior(GInv(out.Metric, ps.ZFinal, cfg), ps.RhoFinal))

	logQBar := encoders.LogDensity(out.Encoder, ps.ZInit)
	logQBar = Add(logQBar, RiemannianLogPrior(GInv(out.Metric, ps.ZInit, cfg), ps.RhoInit))
	logQBar = AddScalar(logQBar, -0.5*float64(cfg.LatentDim)*math.Log(cfg.Beta0))
	return Sub(logPBar, logQBar)
}

// Loss returns the negative ELBO averaged over the batch of x, the training loss.
func (m *Model) Loss(ctx *context.Context, x *Node) *Node {
	out := m.Forward(ctx, x)
	return Neg(ReduceAllMean(ELBO(out, x, m.Config)))
}

// LossWithNoise is like Loss, with the noise given as in ForwardWithNoise.
func (m *Model) LossWithNoise(ctx *context.Context, x, encoderNoise, gamma0 *Node) *Node {
	out := m.ForwardWithNoise(ctx, x, encoderNoise, gamma0)
	return Neg(ReduceAllMean(ELBO(out, x, m.Config)))
}
