package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements strided 2D convolution and its transpose, the
// two spatial operations the encoder and decoder are built from.
//
// INTENTION:
// Direct (im2col-free) convolution loops over NHWC tensors with SAME
// padding. At 28x28 with a handful of channels there is nothing to be
// gained from fancier lowering; the direct form keeps the index
// arithmetic visible, which matters because the backward passes reuse
// exactly the same geometry.
//
// THE ONE IDEA WORTH INTERNALIZING:
// A transposed convolution is not a new operation. It is the gradient
// of a strided convolution with respect to its input, promoted to a
// forward pass. Where a stride-2 convolution gathers a k×k window into
// one output pixel, its transpose scatters one input pixel into a k×k
// output window. The code below is written to make that duality
// literal: Conv2D.Backward and ConvTranspose2D.Forward walk the same
// loops with input and output swapped.
//
// PADDING CONVENTION (SAME):
//   outH = ceil(inH / stride)
//   padTotal = max((outH-1)*stride + k - inH, 0)
//   padTop = padTotal / 2   (extra pixel, if any, goes to the bottom)
//
// This matches the convention of the mainstream frameworks, so kernels
// and feature-map sizes line up with the usual 28 -> 14 -> 7 ladder.
//
// ===========================================================================

import (
	"math"
	"math/rand"
)

// samePad returns the top/left padding for SAME convolution.
func samePad(in, kernel, stride int) (out, pad int) {
	out = (in + stride - 1) / stride
	total := (out-1)*stride + kernel - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// Conv2D is a strided 2D convolution layer with SAME padding.
//
// Weight layout is (kernel, kernel, inChannels, outChannels); input and
// output are NHWC. The weight and bias tensors carry their own grad
// buffers, which Backward accumulates into.
type Conv2D struct {
	W      *Tensor // (k, k, inC, outC)
	B      *Tensor // (outC)
	Stride int
}

// NewConv2D creates a convolution layer with He-normal initialized
// weights drawn from the provided generator.
func NewConv2D(rng *rand.Rand, kernel, inC, outC, stride int) *Conv2D {
	scale := math.Sqrt(2.0 / float64(kernel*kernel*inC))
	return &Conv2D{
		W:      NewTensorRand(rng, scale, kernel, kernel, inC, outC),
		B:      NewTensor(outC),
		Stride: stride,
	}
}

// Forward computes the convolution of x, which must be (N, H, W, inC).
// Returns (N, ceil(H/stride), ceil(W/stride), outC).
func (c *Conv2D) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 4 {
		panic("conv: Forward requires NHWC input")
	}

	n, h, w, inC := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	k, outC := c.W.shape[0], c.W.shape[3]
	if inC != c.W.shape[2] {
		panic("conv: input channels do not match weights")
	}

	outH, padT := samePad(h, k, c.Stride)
	outW, padL := samePad(w, k, c.Stride)
	out := NewTensor(n, outH, outW, outC)

	for b := 0; b < n; b++ {
		for oi := 0; oi < outH; oi++ {
			for oj := 0; oj < outW; oj++ {
				for oc := 0; oc < outC; oc++ {
					sum := c.B.data[oc]
					for di := 0; di < k; di++ {
						ii := oi*c.Stride + di - padT
						if ii < 0 || ii >= h {
							continue
						}
						for dj := 0; dj < k; dj++ {
							jj := oj*c.Stride + dj - padL
							if jj < 0 || jj >= w {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xv := x.data[((b*h+ii)*w+jj)*inC+ic]
								wv := c.W.data[((di*k+dj)*inC+ic)*outC+oc]
								sum += xv * wv
							}
						}
					}
					out.data[((b*outH+oi)*outW+oj)*outC+oc] = sum
				}
			}
		}
	}

	return out
}

// Backward computes the input gradient for the convolution and
// accumulates weight and bias gradients into W.grad and B.grad.
// x must be the tensor passed to Forward; gradY must match Forward's
// output shape.
func (c *Conv2D) Backward(x, gradY *Tensor) *Tensor {
	n, h, w, inC := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	k, outC := c.W.shape[0], c.W.shape[3]
	outH, padT := samePad(h, k, c.Stride)
	outW, padL := samePad(w, k, c.Stride)

	if !shapeEqual(gradY.shape, []int{n, outH, outW, outC}) {
		panic("conv: gradient shape does not match forward output")
	}

	gradX := NewTensor(x.shape...)

	for b := 0; b < n; b++ {
		for oi := 0; oi < outH; oi++ {
			for oj := 0; oj < outW; oj++ {
				for oc := 0; oc < outC; oc++ {
					g := gradY.data[((b*outH+oi)*outW+oj)*outC+oc]
					if g == 0 {
						continue
					}
					c.B.grad[oc] += g
					for di := 0; di < k; di++ {
						ii := oi*c.Stride + di - padT
						if ii < 0 || ii >= h {
							continue
						}
						for dj := 0; dj < k; dj++ {
							jj := oj*c.Stride + dj - padL
							if jj < 0 || jj >= w {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xIdx := ((b*h+ii)*w+jj)*inC + ic
								wIdx := ((di*k+dj)*inC+ic)*outC + oc
								c.W.grad[wIdx] += x.data[xIdx] * g
								gradX.data[xIdx] += c.W.data[wIdx] * g
							}
						}
					}
				}
			}
		}
	}

	return gradX
}

// ConvTranspose2D is a transposed (upsampling) convolution layer with
// SAME padding: output spatial size is input size times stride.
//
// Weight layout is (kernel, kernel, outChannels, inChannels) - the
// transpose of Conv2D's layout, reflecting that this layer is the
// adjoint of a convolution running the other way.
type ConvTranspose2D struct {
	W      *Tensor // (k, k, outC, inC)
	B      *Tensor // (outC)
	Stride int
}

// NewConvTranspose2D creates a transposed convolution layer with
// He-normal initialized weights drawn from the provided generator.
func NewConvTranspose2D(rng *rand.Rand, kernel, inC, outC, stride int) *ConvTranspose2D {
	scale := math.Sqrt(2.0 / float64(kernel*kernel*inC))
	return &ConvTranspose2D{
		W:      NewTensorRand(rng, scale, kernel, kernel, outC, inC),
		B:      NewTensor(outC),
		Stride: stride,
	}
}

// Forward computes the transposed convolution of x (N, H, W, inC),
// returning (N, H*stride, W*stride, outC). Each input pixel scatters a
// k×k window into the output, the exact adjoint of Conv2D's gather.
func (c *ConvTranspose2D) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 4 {
		panic("conv: Forward requires NHWC input")
	}

	n, h, w, inC := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	k, outC := c.W.shape[0], c.W.shape[2]
	if inC != c.W.shape[3] {
		panic("conv: input channels do not match weights")
	}

	outH, outW := h*c.Stride, w*c.Stride
	// Padding of the conv this layer is the transpose of.
	_, padT := samePad(outH, k, c.Stride)
	_, padL := samePad(outW, k, c.Stride)

	out := NewTensor(n, outH, outW, outC)

	// Bias first, then scatter contributions on top.
	for b := 0; b < n; b++ {
		for ii := 0; ii < outH; ii++ {
			for jj := 0; jj < outW; jj++ {
				for oc := 0; oc < outC; oc++ {
					out.data[((b*outH+ii)*outW+jj)*outC+oc] = c.B.data[oc]
				}
			}
		}
	}

	for b := 0; b < n; b++ {
		for i := 0; i < h; i++ {
			for j := 0; j < w; j++ {
				for di := 0; di < k; di++ {
					ii := i*c.Stride + di - padT
					if ii < 0 || ii >= outH {
						continue
					}
					for dj := 0; dj < k; dj++ {
						jj := j*c.Stride + dj - padL
						if jj < 0 || jj >= outW {
							continue
						}
						for oc := 0; oc < outC; oc++ {
							sum := 0.0
							for ic := 0; ic < inC; ic++ {
								xv := x.data[((b*h+i)*w+j)*inC+ic]
								wv := c.W.data[((di*k+dj)*outC+oc)*inC+ic]
								sum += xv * wv
							}
							out.data[((b*outH+ii)*outW+jj)*outC+oc] += sum
						}
					}
				}
			}
		}
	}

	return out
}

// Backward computes the input gradient for the transposed convolution
// and accumulates weight and bias gradients into W.grad and B.grad.
// Structurally this is Conv2D.Forward's gather, run over gradY.
func (c *ConvTranspose2D) Backward(x, gradY *Tensor) *Tensor {
	n, h, w, inC := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	k, outC := c.W.shape[0], c.W.shape[2]
	outH, outW := h*c.Stride, w*c.Stride
	_, padT := samePad(outH, k, c.Stride)
	_, padL := samePad(outW, k, c.Stride)

	if !shapeEqual(gradY.shape, []int{n, outH, outW, outC}) {
		panic("conv: gradient shape does not match forward output")
	}

	gradX := NewTensor(x.shape...)

	for oc := 0; oc < outC; oc++ {
		for b := 0; b < n; b++ {
			for ii := 0; ii < outH; ii++ {
				for jj := 0; jj < outW; jj++ {
					c.B.grad[oc] += gradY.data[((b*outH+ii)*outW+jj)*outC+oc]
				}
			}
		}
	}

	for b := 0; b < n; b++ {
		for i := 0; i < h; i++ {
			for j := 0; j < w; j++ {
				for di := 0; di < k; di++ {
					ii := i*c.Stride + di - padT
					if ii < 0 || ii >= outH {
						continue
					}
					for dj := 0; dj < k; dj++ {
						jj := j*c.Stride + dj - padL
						if jj < 0 || jj >= outW {
							continue
						}
						for oc := 0; oc < outC; oc++ {
							g := gradY.data[((b*outH+ii)*outW+jj)*outC+oc]
							if g == 0 {
								continue
							}
							for ic := 0; ic < inC; ic++ {
								xIdx := ((b*h+i)*w+j)*inC + ic
								wIdx := ((di*k+dj)*outC+oc)*inC + ic
								c.W.grad[wIdx] += x.data[xIdx] * g
								gradX.data[xIdx] += c.W.data[wIdx] * g
							}
						}
					}
				}
			}
		}
	}

	return gradX
}
