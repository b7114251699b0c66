// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rhvae implements the Riemannian Hamiltonian VAE (RHVAE).
//
// The RHVAE refines the encoder's posterior sample z₀ by simulating Hamiltonian dynamics in latent space,
// under a Riemannian metric G(z) learned together with the autoencoder. The inverse metric is interpolated
// from local quadratic forms Mᵢ = LᵢLᵢᵗ at a fixed set of centroids:
//
//	G⁻¹(z) = Σᵢ exp(-‖z - cᵢ‖²/T²)·Mᵢ + λ·I
//
// where Lᵢ is the output of a metric network at the centroid cᵢ (the encoder mean of the i-th reference
// data point). Since the kinetic energy depends on the position, the integrator is the generalized
// (implicit) leapfrog, whose implicit equations are solved with a fixed number of fixed-point iterations.
// The momentum is tempered (rescaled) between leapfrog steps, following a Schedule.
//
// Usage:
//
//	cfg := must.M1(rhvae.ConfigFromContext(ctx, latentDim))
//	model := rhvae.New(cfg)
//	rhvae.SetCentroids(ctx, centroidsData)
//	...
//	loss := model.Loss(ctx, x) // In the training graph.
//	...
//	// Refresh the stored cache (used for inference, or always if DifferentiableMetric == false):
//	updater := must.M1(rhvae.NewMetricUpdater(backend, ctx, cfg))
//	defer updater.Finalize()
//	err := updater.Update() // E.g. after each training step.
//
// All graph building functions panic with errors wrapping the sentinel errors of package autoencoders.
package rhvae
