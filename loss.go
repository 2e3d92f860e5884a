package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the ELBO surrogate loss: a squared-error
// reconstruction term plus a closed-form Gaussian KL term, averaged
// over the batch.
//
//   recon[i] = Σ_pixels (recon - target)²
//   kl[i]    = -0.5 * Σ_latent (1 + 2·logStddev - mean² - exp(2·logStddev))
//   loss     = mean_batch(recon + kl)
//
// The reconstruction term rewards fidelity; the KL term pulls each
// per-example posterior toward the standard normal prior, which is
// what makes decoding fresh N(0, I) draws meaningful after training.
//
// CONVENTION THAT MUST NOT DRIFT:
// The encoder's second head is logStddev, the log of the standard
// deviation - not log-variance. The sampler multiplies noise by
// exp(logStddev) and the KL term uses 2·logStddev and exp(2·logStddev)
// accordingly. Changing one side without the other silently optimizes
// the wrong objective.
//
// ===========================================================================

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrNonFinite indicates a NaN or Inf appeared in the loss. Training
// aborts on it rather than continuing to optimize garbage.
var ErrNonFinite = errors.New("loss: non-finite value")

// LossValues holds the scalar loss and its components for one batch.
type LossValues struct {
	Total float64
	Recon float64
	KL    float64
}

// ReconstructionLoss computes the per-example sum of squared pixel
// differences, averaged over the batch. Non-negative, and zero only
// when the reconstruction is exact.
func ReconstructionLoss(recon, target *Tensor) float64 {
	if !shapeEqual(recon.shape, target.shape) {
		panic("loss: reconstruction and target shapes differ")
	}

	diff := Sub(recon, target)
	sq := Mul(diff, diff)
	n := recon.shape[0]
	return floats.Sum(sq.data) / float64(n)
}

// KLLoss computes the closed-form KL divergence from N(mean, exp(2·logStddev))
// to N(0, I), per example, averaged over the batch. Zero exactly when
// every example's mean and logStddev are zero vectors.
func KLLoss(mean, logStddev *Tensor) float64 {
	if !shapeEqual(mean.shape, logStddev.shape) {
		panic("loss: mean and logStddev shapes differ")
	}

	n := mean.shape[0]
	total := 0.0
	for i := range mean.data {
		m, ls := mean.data[i], logStddev.data[i]
		total += -0.5 * (1 + 2*ls - m*m - math.Exp(2*ls))
	}
	return total / float64(n)
}

// ELBOLoss computes the combined loss and its components for a batch.
// Returns ErrNonFinite if any component is NaN or Inf.
func ELBOLoss(recon, target, mean, logStddev *Tensor) (LossValues, error) {
	lv := LossValues{
		Recon: ReconstructionLoss(recon, target),
		KL:    KLLoss(mean, logStddev),
	}
	lv.Total = lv.Recon + lv.KL

	if math.IsNaN(lv.Total) || math.IsInf(lv.Total, 0) {
		return lv, ErrNonFinite
	}
	return lv, nil
}

// ReconstructionBackward computes ∂L/∂recon for the averaged
// squared-error term.
//
// Derivation:
//   L = (1/N) Σ_i Σ_p (recon[i,p] - target[i,p])²
//   ∂L/∂recon[i,p] = 2 * (recon[i,p] - target[i,p]) / N
func ReconstructionBackward(recon, target *Tensor) *Tensor {
	n := recon.shape[0]
	return Scale(Sub(recon, target), 2.0/float64(n))
}

// KLBackward computes ∂L/∂mean and ∂L/∂logStddev for the averaged KL
// term.
//
// Derivation (per element, before the 1/N average):
//   kl = -0.5 * (1 + 2·ls - m² - exp(2·ls))
//   ∂kl/∂m  = m
//   ∂kl/∂ls = -0.5 * (2 - 2·exp(2·ls)) = exp(2·ls) - 1
func KLBackward(mean, logStddev *Tensor) (gradMean, gradLogStd *Tensor) {
	n := mean.shape[0]
	inv := 1.0 / float64(n)

	gradMean = NewTensor(mean.shape...)
	gradLogStd = NewTensor(logStddev.shape...)
	for i := range mean.data {
		gradMean.data[i] = mean.data[i] * inv
		gradLogStd.data[i] = (math.Exp(2*logStddev.data[i]) - 1) * inv
	}
	return gradMean, gradLogStd
}
