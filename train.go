package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the training loop: optimizers, the per-step
// forward/backward/update cycle, and the fixed-iteration orchestration
// around it.
//
// THE TRAINING PROCESS:
//
// 1. Forward Pass:
//    - Images → Encoder → (z, mean, logStddev) → Decoder → reconstruction
//    - Reconstruction + latent distribution → ELBO loss
//
// 2. Backward Pass (Backpropagation):
//    - Loss → gradients on reconstruction, mean, logStddev
//    - Chain rule: propagate back through decoder, sampler, encoder
//    - Each parameter gets a gradient: ∂Loss/∂Parameter
//
// 3. Optimization:
//    - Adam step over Parameters() - the only point in the program
//      where parameters mutate
//
// 4. Iteration:
//    - One mini-batch per step, fixed iteration budget, no early
//      stopping and no convergence check
//    - Every LogInterval steps: recompute the loss components on the
//      current batch and report them with elapsed wall time
//    - Every VizInterval steps: write an input/reconstruction
//      comparison image and save a checkpoint
//
// FAILURE SEMANTICS:
// There is no retry or recovery. A NaN/Inf loss aborts the run with
// ErrNonFinite; the checkpoint directory is created up front so the
// periodic saves cannot fail on a missing path. A restore happens
// automatically at startup when the checkpoint directory already holds
// a model.
//
// The loop is strictly single-threaded: each iteration blocks until
// its update completes. Whatever parallelism exists lives below the
// tensor ops (see compute.go).
//
// ===========================================================================

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// TrainingConfig holds hyperparameters for training.
type TrainingConfig struct {
	// Optimization
	LearningRate      float64
	GradientClipValue float64 // Clip gradients by global norm; 0 disables

	// Training
	BatchSize  int
	Iterations int // Fixed budget; the only terminal condition

	// Adam optimizer
	AdamBeta1   float64
	AdamBeta2   float64
	AdamEpsilon float64

	// Reporting
	LogInterval int // Log every N steps
	VizInterval int // Emit comparison image + checkpoint every N steps

	// Artifacts
	CheckpointDir string // Created if missing; restored from if non-empty
	VizDir        string // Comparison images land here; empty disables
}

// DefaultTrainingConfig returns the standard hyperparameters.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:      1e-3,
		GradientClipValue: 5.0,

		BatchSize:  24,
		Iterations: 10000,

		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEpsilon: 1e-8,

		LogInterval: 100,
		VizInterval: 500,

		CheckpointDir: "checkpoints",
		VizDir:        "viz",
	}
}

// Optimizer interface for different optimization algorithms.
type Optimizer interface {
	// Step performs a single optimization step.
	// Updates parameters using their gradients.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// SGDOptimizer implements plain stochastic gradient descent. Kept as
// the baseline to sanity-check Adam against.
type SGDOptimizer struct{}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{}
}

// Step updates parameters using SGD: param -= lr * grad.
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.data {
			p.data[i] -= lr * p.grad[i]
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// AdamOptimizer implements the Adam optimization algorithm.
//
// Adam combines:
//   - Momentum (moving average of gradients)
//   - RMSProp (moving average of squared gradients)
//   - Bias correction (accounts for initialization at zero)
//
// Update rule:
//   m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//   v_t = beta2 * v_{t-1} + (1 - beta2) * grad²
//   m_hat = m_t / (1 - beta1^t)  // Bias correction
//   v_hat = v_t / (1 - beta2^t)
//   param -= lr * m_hat / (sqrt(v_hat) + epsilon)
type AdamOptimizer struct {
	beta1   float64
	beta2   float64
	epsilon float64

	// State (one per parameter)
	m []*Tensor // First moment (momentum)
	v []*Tensor // Second moment (variance)
	t int       // Time step (for bias correction)
}

// NewAdamOptimizer creates an Adam optimizer with moment state sized
// for the given parameter list.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon float64) *AdamOptimizer {
	// Initialize moment tensors (same shape as parameters)
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))

	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}

	return &AdamOptimizer{
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       m,
		v:       v,
		t:       0,
	}
}

// Step performs an Adam update.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	opt.t++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		for j := range p.data {
			grad := p.grad[j]

			// Update biased first moment
			opt.m[i].data[j] = opt.beta1*opt.m[i].data[j] + (1.0-opt.beta1)*grad

			// Update biased second moment
			opt.v[i].data[j] = opt.beta2*opt.v[i].data[j] + (1.0-opt.beta2)*grad*grad

			// Bias-corrected moments
			mHat := opt.m[i].data[j] / bias1
			vHat := opt.v[i].data[j] / bias2

			// Update parameter
			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// clipGradients clips gradients by global norm.
func clipGradients(params []*Tensor, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}

	globalNorm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
}

// TrainStep performs a single training step on one mini-batch: zero
// grads, forward, loss, backward, clip, optimizer step. This is the
// only place parameters change.
func TrainStep(model *VAE, batch *Tensor, optimizer Optimizer, cfg TrainingConfig) (LossValues, error) {
	params := model.Parameters()
	optimizer.ZeroGrad(params)

	cache := model.ForwardWithCache(batch)

	lv, err := ELBOLoss(cache.recon, batch, cache.mean, cache.logStddev)
	if err != nil {
		return lv, errors.Wrap(err, "forward pass")
	}

	gradRecon := ReconstructionBackward(cache.recon, batch)
	gradMeanKL, gradLogStdKL := KLBackward(cache.mean, cache.logStddev)
	model.Backward(cache, gradRecon, gradMeanKL, gradLogStdKL)

	clipGradients(params, cfg.GradientClipValue)
	optimizer.Step(params, cfg.LearningRate)

	return lv, nil
}

// LossPoint is one logged sample of the loss components.
type LossPoint struct {
	Step  int
	Total float64
	Recon float64
	KL    float64
}

// Train runs the fixed-iteration training loop.
//
// Restores from cfg.CheckpointDir if it already holds a model, creates
// it otherwise, and returns the logged loss history. Any per-step
// failure (batch fetch, non-finite loss) aborts the run.
func Train(model *VAE, source BatchSource, cfg TrainingConfig) ([]LossPoint, error) {
	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating checkpoint directory")
	}
	if cfg.VizDir != "" {
		if err := os.MkdirAll(cfg.VizDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating viz directory")
		}
	}

	restored, err := RestoreIfExists(model, cfg.CheckpointDir)
	if err != nil {
		return nil, errors.Wrap(err, "restoring checkpoint")
	}
	if restored {
		fmt.Printf("restored parameters from %s\n", cfg.CheckpointDir)
	}

	params := model.Parameters()
	optimizer := NewAdamOptimizer(params, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEpsilon)

	var history []LossPoint
	start := time.Now()

	for step := 1; step <= cfg.Iterations; step++ {
		batch, err := source.NextBatch(cfg.BatchSize)
		if err != nil {
			return history, errors.Wrapf(err, "fetching batch at step %d", step)
		}

		if _, err := TrainStep(model, batch, optimizer, cfg); err != nil {
			return history, errors.Wrapf(err, "step %d", step)
		}

		if step%cfg.LogInterval == 0 {
			// Recompute on the current batch with dropout disabled,
			// so the reported numbers reflect the model, not the
			// regularization noise.
			z, mean, logStddev := model.Encode(batch)
			recon := model.Decode(z)
			lv, err := ELBOLoss(recon, batch, mean, logStddev)
			if err != nil {
				return history, errors.Wrapf(err, "evaluating at step %d", step)
			}

			history = append(history, LossPoint{Step: step, Total: lv.Total, Recon: lv.Recon, KL: lv.KL})
			fmt.Printf("\rstep %6d/%d | loss %9.2f | recon %9.2f | kl %7.2f | %s",
				step, cfg.Iterations, lv.Total, lv.Recon, lv.KL,
				time.Since(start).Round(time.Second))
		}

		if step%cfg.VizInterval == 0 {
			if cfg.VizDir != "" {
				path := filepath.Join(cfg.VizDir, fmt.Sprintf("step_%06d.png", step))
				recon := model.Reconstruct(batch)
				if err := WriteComparisonPNG(path, batch, recon, 0); err != nil {
					return history, errors.Wrapf(err, "writing comparison at step %d", step)
				}
				fmt.Printf("\nwrote %s\n", path)
			}
			if err := SaveCheckpoint(model, cfg.CheckpointDir); err != nil {
				return history, errors.Wrapf(err, "saving checkpoint at step %d", step)
			}
		}
	}

	fmt.Println()

	if err := SaveCheckpoint(model, cfg.CheckpointDir); err != nil {
		return history, errors.Wrap(err, "saving final checkpoint")
	}

	return history, nil
}
