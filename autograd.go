package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the backward halves of the operations the VAE
// uses. Each operation has a forward pass (compute output) and a
// backward pass (compute gradients), paired by hand rather than traced
// through a graph. The model keeps whatever intermediates its backward
// pass needs in an explicit cache struct, then calls these functions
// in reverse order.
//
// THE CHAIN RULE:
//
// Given: y = f(x) and z = g(y)
// Want: ∂z/∂x (how z changes with x)
//
// Chain rule: ∂z/∂x = ∂z/∂y · ∂y/∂x
//
// In backpropagation:
//   - Forward: Compute y = f(x), z = g(y)
//   - Backward: Given ∂L/∂z, compute ∂L/∂x = ∂L/∂z · ∂z/∂y · ∂y/∂x
//
// THE REPARAMETERIZATION TRICK:
//
// The one unusual backward in a VAE is the sampling step. A draw from
// N(mean, σ²) is not differentiable in mean and σ directly, but
//
//   z = mean + noise · exp(logStddev),  noise ~ N(0, 1)
//
// moves the randomness into a constant input. Gradients then flow
// through mean and logStddev like any other arithmetic:
//   ∂z/∂mean = 1
//   ∂z/∂logStddev = noise · exp(logStddev)
//
// So no special case is needed here - the sampling backward is just
// AddBackward plus a Hadamard product with a cached tensor.
//
// ===========================================================================

import (
	"math"
	"math/rand"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given:
//   - C = A @ B
//   - gradC = ∂L/∂C (gradient flowing back from loss)
//
// Compute:
//   - gradA = ∂L/∂A = gradC @ B^T
//   - gradB = ∂L/∂B = A^T @ gradC
//
// Derivation:
//   C[i,j] = Σ_k A[i,k] * B[k,j]
//   ∂C[i,j]/∂A[i,k] = B[k,j]
//   ∂L/∂A[i,k] = Σ_j ∂L/∂C[i,j] * B[k,j] = (gradC @ B^T)[i,k]
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	// ∂L/∂A = gradC @ B^T
	bT := Transpose(b)
	gradA = MatMul(gradC, bT)

	// ∂L/∂B = A^T @ gradC
	aT := Transpose(a)
	gradB = MatMul(aT, gradC)

	return gradA, gradB
}

// AddBackward computes gradients for element-wise addition.
// Addition distributes gradients equally to both inputs.
func AddBackward(gradC *Tensor) (gradA, gradB *Tensor) {
	return gradC.Clone(), gradC.Clone()
}

// BiasBackward computes the gradient for a broadcast bias add.
//
// Given:
//   - Y[i,j] = X[i,j] + b[j]
//   - gradY = ∂L/∂Y
//
// Compute:
//   - gradB[j] = Σ_i gradY[i,j] (sum over the batch dimension)
//
// The input gradient is gradY unchanged, so only the bias gradient is
// returned.
func BiasBackward(gradY *Tensor) *Tensor {
	if len(gradY.shape) != 2 {
		panic("autograd: BiasBackward requires 2D gradient")
	}

	m, n := gradY.shape[0], gradY.shape[1]
	gradB := NewTensor(n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			gradB.data[j] += gradY.data[i*n+j]
		}
	}
	return gradB
}

// LeakyReLU applies the leaky rectifier: max(x, alpha*x).
//
// Unlike plain ReLU, negative inputs keep a small gradient (alpha),
// so no unit can get permanently stuck at zero.
func LeakyReLU(x *Tensor, alpha float64) *Tensor {
	out := NewTensor(x.shape...)
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = alpha * v
		}
	}
	return out
}

// LeakyReLUBackward computes the gradient for the leaky rectifier.
//
// Derivation:
//   Y[i] = X[i] if X[i] > 0, else alpha * X[i]
//   ∂Y[i]/∂X[i] = 1 if X[i] > 0, else alpha
func LeakyReLUBackward(x, gradY *Tensor, alpha float64) *Tensor {
	gradX := NewTensor(x.shape...)
	for i, v := range x.data {
		if v > 0 {
			gradX.data[i] = gradY.data[i]
		} else {
			gradX.data[i] = alpha * gradY.data[i]
		}
	}
	return gradX
}

// Sigmoid applies the logistic function: 1 / (1 + exp(-x)).
// Output is bounded to (0, 1), matching the pixel value range.
func Sigmoid(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i, v := range x.data {
		out.data[i] = 1.0 / (1.0 + math.Exp(-v))
	}
	return out
}

// SigmoidBackward computes the gradient for the logistic function.
//
// Derivation:
//   Y = σ(X)
//   ∂Y/∂X = σ(X) * (1 - σ(X)) = Y * (1 - Y)
//
// Takes the forward output rather than the input, since the derivative
// is cheapest expressed in terms of Y.
func SigmoidBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.shape...)
	for i := range y.data {
		gradX.data[i] = gradY.data[i] * y.data[i] * (1.0 - y.data[i])
	}
	return gradX
}

// Dropout randomly zeroes elements with probability 1-keepProb and
// scales survivors by 1/keepProb (inverted dropout), so the expected
// activation is unchanged and inference needs no rescaling.
//
// Returns the output and the mask; the mask already folds in the
// 1/keepProb scaling, so the backward pass is a single Hadamard
// product. The generator is explicit for reproducibility.
func Dropout(x *Tensor, keepProb float64, rng *rand.Rand) (out, mask *Tensor) {
	if keepProb <= 0 || keepProb > 1 {
		panic("autograd: keepProb must be in (0, 1]")
	}

	out = NewTensor(x.shape...)
	mask = NewTensor(x.shape...)
	inv := 1.0 / keepProb

	for i := range x.data {
		if rng.Float64() < keepProb {
			mask.data[i] = inv
			out.data[i] = x.data[i] * inv
		}
	}

	return out, mask
}

// DropoutBackward computes the gradient for dropout: the same mask
// that gated the forward pass gates the gradient.
func DropoutBackward(mask, gradY *Tensor) *Tensor {
	return Mul(mask, gradY)
}
