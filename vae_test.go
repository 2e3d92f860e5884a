package main

import (
	"math"
	"math/rand"
	"testing"
)

// testConfig returns a reduced configuration that keeps the unit tests
// fast while exercising the same code paths as the full model.
func testConfig() Config {
	return Config{
		ImageSize:    28,
		Channels:     1,
		LatentDim:    8,
		ConvFilters:  4,
		DecoderUnits: 2,
		Kernel:       4,
		KeepProb:     0.8,
		Alpha:        0.3,
	}
}

// TestVAEShapes runs the canonical scenario: a batch of 24 images of
// shape 28x28x1 must produce mean, logStddev, z of shape (24, 8) and a
// reconstruction of shape (24, 28, 28, 1).
func TestVAEShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	model := NewVAE(testConfig(), rng)

	x := NewTensor(24, 28, 28, 1)
	for i := range x.data {
		x.data[i] = rng.Float64()
	}

	z, mean, logStddev := model.Encode(x)
	if !shapeEqual(mean.shape, []int{24, 8}) {
		t.Errorf("mean shape %v, want [24 8]", mean.Shape())
	}
	if !shapeEqual(logStddev.shape, []int{24, 8}) {
		t.Errorf("logStddev shape %v, want [24 8]", logStddev.Shape())
	}
	if !shapeEqual(z.shape, []int{24, 8}) {
		t.Errorf("z shape %v, want [24 8]", z.Shape())
	}

	recon := model.Decode(z)
	if !shapeEqual(recon.shape, x.shape) {
		t.Errorf("reconstruction shape %v, want %v", recon.Shape(), x.Shape())
	}

	// Output of the sigmoid head must stay inside [0, 1]
	for _, v := range recon.data {
		if v < 0 || v > 1 {
			t.Fatalf("reconstruction pixel %f outside [0,1]", v)
		}
	}
}

// TestEncodeStochastic verifies that the latent sample changes between
// calls while the distribution parameters do not: the randomness lives
// entirely in the noise draw, not in the encoder.
func TestEncodeStochastic(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	model := NewVAE(testConfig(), rng)

	x := NewTensor(3, 28, 28, 1)
	for i := range x.data {
		x.data[i] = rng.Float64()
	}

	z1, mean1, ls1 := model.Encode(x)
	z2, mean2, ls2 := model.Encode(x)

	for i := range mean1.data {
		if mean1.data[i] != mean2.data[i] {
			t.Fatal("mean changed between calls on the same input")
		}
		if ls1.data[i] != ls2.data[i] {
			t.Fatal("logStddev changed between calls on the same input")
		}
	}

	same := true
	for i := range z1.data {
		if z1.data[i] != z2.data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("two encodings produced identical z; sampling is not stochastic")
	}
}

// TestSeededModelDeterministic verifies two models built from the same
// seed agree on everything, including the sampled z.
func TestSeededModelDeterministic(t *testing.T) {
	x := NewTensor(2, 28, 28, 1)
	for i := range x.data {
		x.data[i] = 0.5
	}

	a := NewVAE(testConfig(), rand.New(rand.NewSource(9)))
	b := NewVAE(testConfig(), rand.New(rand.NewSource(9)))

	za, _, _ := a.Encode(x)
	zb, _, _ := b.Encode(x)
	for i := range za.data {
		if za.data[i] != zb.data[i] {
			t.Fatal("same seed produced different samples")
		}
	}
}

// TestDecodeRange verifies decoding arbitrary latent vectors stays in
// the pixel range - the property Sample relies on.
func TestDecodeRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	model := NewVAE(testConfig(), rng)

	images := model.Sample(4)
	if !shapeEqual(images.shape, []int{4, 28, 28, 1}) {
		t.Fatalf("sample shape %v, want [4 28 28 1]", images.Shape())
	}
	for _, v := range images.data {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Fatalf("sampled pixel %f outside [0,1]", v)
		}
	}
}

// TestVAEBackwardGradients checks the full model's parameter gradients
// against finite differences on a tiny configuration. Dropout is
// neutralized (KeepProb=1) so the objective is deterministic, and the
// noise draw is pinned by cloning the cache's noise into a fixed
// forward replay.
func TestVAEBackwardGradients(t *testing.T) {
	cfg := Config{
		ImageSize:    8,
		Channels:     1,
		LatentDim:    2,
		ConvFilters:  2,
		DecoderUnits: 2,
		Kernel:       3,
		KeepProb:     1.0, // no dropout: deterministic objective
		Alpha:        0.3,
	}
	rng := rand.New(rand.NewSource(6))
	model := NewVAE(cfg, rng)

	x := NewTensorRand(rand.New(rand.NewSource(7)), 0.5, 2, 8, 8, 1)
	for i := range x.data {
		x.data[i] = math.Abs(x.data[i])
		if x.data[i] > 1 {
			x.data[i] = 1
		}
	}

	// One stochastic forward fixes the noise; replays reuse it.
	cache := model.ForwardWithCache(x)
	noise := cache.noise.Clone()

	objective := func() float64 {
		c := &forwardCache{x: x}
		model.encode(c, false)
		// Re-sample z with the pinned noise so the objective is a
		// deterministic function of the parameters.
		c.z = Add(c.mean, Mul(noise, Exp(c.logStddev)))
		model.decode(c, false)
		return ReconstructionLoss(c.recon, x) + KLLoss(c.mean, c.logStddev)
	}

	// Analytic gradients for the same pinned-noise objective.
	cache.noise = noise
	cache.z = Add(cache.mean, Mul(noise, Exp(cache.logStddev)))
	// Recompute the decoder half of the cache from the pinned z.
	model.decode(cache, true)

	for _, p := range model.Parameters() {
		p.ZeroGrad()
	}
	gradRecon := ReconstructionBackward(cache.recon, x)
	gradMeanKL, gradLogStdKL := KLBackward(cache.mean, cache.logStddev)
	model.Backward(cache, gradRecon, gradMeanKL, gradLogStdKL)

	params := model.Parameters()
	names := []string{
		"enc1.W", "enc1.B", "enc2.W", "enc2.B", "enc3.W", "enc3.B",
		"meanHead.W", "meanHead.B", "logStdHead.W", "logStdHead.B",
		"expand1.W", "expand1.B", "expand2.W", "expand2.B",
		"dec1.W", "dec1.B", "dec2.W", "dec2.B", "dec3.W", "dec3.B",
		"outHead.W", "outHead.B",
	}
	const eps = 1e-5
	for pi, p := range params {
		// Spot-check a few elements per parameter
		stride := len(p.data)/3 + 1
		for i := 0; i < len(p.data); i += stride {
			orig := p.data[i]
			p.data[i] = orig + eps
			up := objective()
			p.data[i] = orig - eps
			down := objective()
			p.data[i] = orig

			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-p.grad[i]) > 1e-3*math.Max(1, math.Abs(numeric)) {
				t.Errorf("%s grad[%d]: analytic %g, numeric %g", names[pi], i, p.grad[i], numeric)
			}
		}
	}
}

// TestParametersCount sanity-checks the parameter list: every tensor
// present, none nil, none shared.
func TestParametersCount(t *testing.T) {
	model := NewVAE(testConfig(), rand.New(rand.NewSource(4)))
	params := model.Parameters()

	if len(params) != 22 {
		t.Fatalf("expected 22 parameter tensors, got %d", len(params))
	}
	seen := map[*Tensor]bool{}
	for i, p := range params {
		if p == nil {
			t.Fatalf("parameter %d is nil", i)
		}
		if seen[p] {
			t.Fatalf("parameter %d appears twice", i)
		}
		seen[p] = true
	}
}
