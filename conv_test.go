package main

import (
	"math"
	"math/rand"
	"testing"
)

// TestSamePad checks the SAME padding arithmetic for the shapes the
// model actually uses.
func TestSamePad(t *testing.T) {
	cases := []struct {
		in, kernel, stride int
		wantOut, wantPad   int
	}{
		{28, 4, 2, 14, 1},
		{14, 4, 2, 7, 1},
		{7, 4, 1, 7, 1},
		{14, 4, 1, 14, 1},
	}
	for _, c := range cases {
		out, pad := samePad(c.in, c.kernel, c.stride)
		if out != c.wantOut || pad != c.wantPad {
			t.Errorf("samePad(%d,%d,%d) = (%d,%d), want (%d,%d)",
				c.in, c.kernel, c.stride, out, pad, c.wantOut, c.wantPad)
		}
	}
}

// TestConv2DShapes verifies output shapes for strided and unit-stride
// convolutions.
func TestConv2DShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	conv := NewConv2D(rng, 4, 1, 3, 2)
	x := NewTensorRand(rng, 1.0, 2, 28, 28, 1)
	y := conv.Forward(x)
	if !shapeEqual(y.shape, []int{2, 14, 14, 3}) {
		t.Fatalf("stride-2 output shape %v, want [2 14 14 3]", y.Shape())
	}

	conv1 := NewConv2D(rng, 4, 3, 5, 1)
	y2 := conv1.Forward(y)
	if !shapeEqual(y2.shape, []int{2, 14, 14, 5}) {
		t.Fatalf("stride-1 output shape %v, want [2 14 14 5]", y2.Shape())
	}
}

// TestConvTranspose2DShapes verifies the transposed convolution
// upsamples by exactly its stride.
func TestConvTranspose2DShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	deconv := NewConvTranspose2D(rng, 4, 3, 2, 2)
	x := NewTensorRand(rng, 1.0, 2, 7, 7, 3)
	y := deconv.Forward(x)
	if !shapeEqual(y.shape, []int{2, 14, 14, 2}) {
		t.Fatalf("stride-2 output shape %v, want [2 14 14 2]", y.Shape())
	}

	deconv1 := NewConvTranspose2D(rng, 4, 2, 2, 1)
	y2 := deconv1.Forward(y)
	if !shapeEqual(y2.shape, []int{2, 14, 14, 2}) {
		t.Fatalf("stride-1 output shape %v, want [2 14 14 2]", y2.Shape())
	}
}

// TestConv2DKnownValues checks a 1-channel 3x3 convolution against
// hand-computed values (stride 1, SAME padding, identity-ish kernel).
func TestConv2DKnownValues(t *testing.T) {
	conv := &Conv2D{
		W:      NewTensor(3, 3, 1, 1),
		B:      NewTensor(1),
		Stride: 1,
	}
	// Kernel that picks out the center pixel
	conv.W.Set(1.0, 1, 1, 0, 0)
	conv.B.data[0] = 0.5

	x := NewTensor(1, 2, 2, 1)
	copy(x.data, []float64{1, 2, 3, 4})

	y := conv.Forward(x)
	for i, want := range []float64{1.5, 2.5, 3.5, 4.5} {
		if math.Abs(y.data[i]-want) > 1e-12 {
			t.Errorf("y.data[%d] = %f, want %f", i, y.data[i], want)
		}
	}
}

// TestConvTransposeIsAdjoint verifies the defining property of the
// transposed convolution: with shared weights (identical flat layout)
// and zero bias, <Deconv(x), y> == <x, Conv(y)> for all x, y.
func TestConvTransposeIsAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const (
		k      = 4
		stride = 2
		small  = 5
		big    = 10
		inC    = 3 // channels on the small side
		outC   = 2 // channels on the big side
	)

	deconv := NewConvTranspose2D(rng, k, inC, outC, stride)
	conv := &Conv2D{
		// Same flat weight data: conv (k,k,outC,inC->big-to-small)
		// and deconv (k,k,outC,inC) coincide element for element.
		W:      deconv.W.Reshape(k, k, outC, inC),
		B:      NewTensor(inC),
		Stride: stride,
	}
	deconv.B = NewTensor(outC) // zero bias for a clean inner product

	x := NewTensorRand(rng, 1.0, 2, small, small, inC)
	y := NewTensorRand(rng, 1.0, 2, big, big, outC)

	dx := deconv.Forward(x)
	cy := conv.Forward(y)

	lhs, rhs := 0.0, 0.0
	for i := range dx.data {
		lhs += dx.data[i] * y.data[i]
	}
	for i := range cy.data {
		rhs += cy.data[i] * x.data[i]
	}

	if math.Abs(lhs-rhs) > 1e-9*math.Max(1, math.Abs(lhs)) {
		t.Fatalf("adjoint identity violated: %g vs %g", lhs, rhs)
	}
}

// gradCheck compares an analytic gradient against central finite
// differences for a scalar objective L = 0.5 * sum(out²).
func gradCheck(t *testing.T, name string, param *Tensor, analytic []float64, eval func() float64) {
	t.Helper()
	const eps = 1e-5

	for i := 0; i < len(param.data); i += 7 { // spot-check every 7th element
		orig := param.data[i]

		param.data[i] = orig + eps
		up := eval()
		param.data[i] = orig - eps
		down := eval()
		param.data[i] = orig

		numeric := (up - down) / (2 * eps)
		if math.Abs(numeric-analytic[i]) > 1e-4*math.Max(1, math.Abs(numeric)) {
			t.Errorf("%s grad[%d]: analytic %g, numeric %g", name, i, analytic[i], numeric)
		}
	}
}

// TestConv2DGradients checks conv input/weight/bias gradients against
// finite differences.
func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	conv := NewConv2D(rng, 3, 2, 3, 2)
	x := NewTensorRand(rng, 1.0, 1, 6, 6, 2)

	objective := func() float64 {
		out := conv.Forward(x)
		s := 0.0
		for _, v := range out.data {
			s += 0.5 * v * v
		}
		return s
	}

	// Analytic: dL/dout = out
	out := conv.Forward(x)
	gradX := conv.Backward(x, out)

	gradCheck(t, "conv.W", conv.W, conv.W.grad, objective)
	gradCheck(t, "conv.B", conv.B, conv.B.grad, objective)
	gradCheck(t, "conv.x", x, gradX.data, objective)
}

// TestConvTranspose2DGradients checks deconv gradients against finite
// differences.
func TestConvTranspose2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	deconv := NewConvTranspose2D(rng, 3, 2, 3, 2)
	x := NewTensorRand(rng, 1.0, 1, 4, 4, 2)

	objective := func() float64 {
		out := deconv.Forward(x)
		s := 0.0
		for _, v := range out.data {
			s += 0.5 * v * v
		}
		return s
	}

	out := deconv.Forward(x)
	gradX := deconv.Backward(x, out)

	gradCheck(t, "deconv.W", deconv.W, deconv.W.grad, objective)
	gradCheck(t, "deconv.B", deconv.B, deconv.B.grad, objective)
	gradCheck(t, "deconv.x", x, gradX.data, objective)
}
