package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the variational autoencoder: an encoder that
// compresses an image batch into a latent Gaussian (mean, logStddev),
// a reparameterized sampler, and a decoder that reconstructs images
// from latent draws.
//
// ARCHITECTURE:
//
//   Encoder:
//     (N, 28, 28, 1)
//       -> Conv2D stride 2, leaky ReLU, dropout   (N, 14, 14, F)
//       -> Conv2D stride 2, leaky ReLU, dropout   (N, 7, 7, F)
//       -> Conv2D stride 1, leaky ReLU, dropout   (N, 7, 7, F)
//       -> flatten                                (N, 7*7*F)
//       -> Dense -> mean                          (N, latent)
//       -> Dense -> logStddev                     (N, latent)
//       -> z = mean + noise * exp(logStddev)      (N, latent)
//
//   Decoder:
//     (N, latent)
//       -> Dense, leaky ReLU                      (N, 7*7*D)
//       -> Dense, leaky ReLU                      (N, 7*7*D)
//       -> reshape                                (N, 7, 7, D)
//       -> ConvT stride 2, leaky ReLU, dropout    (N, 14, 14, F)
//       -> ConvT stride 1, leaky ReLU, dropout    (N, 14, 14, F)
//       -> ConvT stride 1, leaky ReLU             (N, 14, 14, F)
//       -> flatten, Dense, sigmoid                (N, 28*28*1)
//       -> reshape                                (N, 28, 28, 1)
//
// The final dense layer, not the transposed convolutions, restores the
// last factor of 2 in resolution; only one deconv stage is strided.
//
// DESIGN NOTES:
// - The model object owns every parameter tensor, its config, and its
//   random generator. There is no global graph and no global session
//   equivalent: construct once, pass by pointer.
// - All randomness (init, sampling noise, dropout masks) comes from
//   the model's explicit *rand.Rand, so a seeded model is fully
//   deterministic.
// - Dropout runs only when train=true. Inference paths never drop.
// - Forward passes record their intermediates in a cache struct that
//   Backward consumes; nothing is retained between steps.
//
// ===========================================================================

import (
	"math"
	"math/rand"
)

// Config holds the model hyperparameters. All fields are fixed at
// construction; the checkpoint header serializes this struct so a
// restored model is guaranteed structurally identical.
type Config struct {
	ImageSize    int     `json:"image_size"`    // Height = width of input images
	Channels     int     `json:"channels"`      // Input channels (1 for grayscale)
	LatentDim    int     `json:"latent_dim"`    // Length of the latent code
	ConvFilters  int     `json:"conv_filters"`  // Channels in conv / deconv stages
	DecoderUnits int     `json:"decoder_units"` // Channels of the decoder's seed feature map
	Kernel       int     `json:"kernel"`        // Square kernel size
	KeepProb     float64 `json:"keep_prob"`     // Dropout keep probability
	Alpha        float64 `json:"alpha"`         // Leaky ReLU slope
}

// DefaultConfig returns the standard hyperparameters for 28x28
// grayscale digits.
func DefaultConfig() Config {
	return Config{
		ImageSize:    28,
		Channels:     1,
		LatentDim:    8,
		ConvFilters:  64,
		DecoderUnits: 16,
		Kernel:       4,
		KeepProb:     0.8,
		Alpha:        0.3,
	}
}

// mapSize returns the side length of the encoder's final feature map
// (two stride-2 stages halve the resolution twice).
func (c Config) mapSize() int {
	return c.ImageSize / 4
}

// Dense is a fully connected layer: y = x @ W + b.
type Dense struct {
	W *Tensor // (in, out)
	B *Tensor // (out)
}

// NewDense creates a dense layer with Xavier-scaled initialization.
func NewDense(rng *rand.Rand, in, out int) *Dense {
	scale := math.Sqrt(1.0 / float64(in))
	return &Dense{
		W: NewTensorRand(rng, scale, in, out),
		B: NewTensor(out),
	}
}

// Forward computes x @ W + b for a (batch, in) input.
func (d *Dense) Forward(x *Tensor) *Tensor {
	return AddRowVector(MatMul(x, d.W), d.B)
}

// Backward computes the input gradient and accumulates weight and bias
// gradients into W.grad and B.grad.
func (d *Dense) Backward(x, gradY *Tensor) *Tensor {
	gradX, gradW := MatMulBackward(x, d.W, gradY)
	for i := range gradW.data {
		d.W.grad[i] += gradW.data[i]
	}
	gradB := BiasBackward(gradY)
	for i := range gradB.data {
		d.B.grad[i] += gradB.data[i]
	}
	return gradX
}

// VAE is the full model. It owns all learnable parameters and the
// random generator used for initialization, latent sampling, and
// dropout masks.
type VAE struct {
	config Config
	rng    *rand.Rand

	// Encoder
	enc1, enc2, enc3 *Conv2D
	meanHead         *Dense
	logStdHead       *Dense

	// Decoder
	expand1, expand2 *Dense
	dec1, dec2, dec3 *ConvTranspose2D
	outHead          *Dense
}

// NewVAE constructs a model with freshly initialized parameters.
// The generator becomes the model's sole randomness source.
func NewVAE(config Config, rng *rand.Rand) *VAE {
	if config.ImageSize%4 != 0 {
		panic("vae: image size must be divisible by 4")
	}

	ms := config.mapSize()
	flat := ms * ms * config.ConvFilters
	seed := ms * ms * config.DecoderUnits
	halfFlat := (config.ImageSize / 2) * (config.ImageSize / 2) * config.ConvFilters
	pixels := config.ImageSize * config.ImageSize * config.Channels

	return &VAE{
		config: config,
		rng:    rng,

		enc1: NewConv2D(rng, config.Kernel, config.Channels, config.ConvFilters, 2),
		enc2: NewConv2D(rng, config.Kernel, config.ConvFilters, config.ConvFilters, 2),
		enc3: NewConv2D(rng, config.Kernel, config.ConvFilters, config.ConvFilters, 1),

		meanHead:   NewDense(rng, flat, config.LatentDim),
		logStdHead: NewDense(rng, flat, config.LatentDim),

		expand1: NewDense(rng, config.LatentDim, seed),
		expand2: NewDense(rng, seed, seed),

		dec1: NewConvTranspose2D(rng, config.Kernel, config.DecoderUnits, config.ConvFilters, 2),
		dec2: NewConvTranspose2D(rng, config.Kernel, config.ConvFilters, config.ConvFilters, 1),
		dec3: NewConvTranspose2D(rng, config.Kernel, config.ConvFilters, config.ConvFilters, 1),

		outHead: NewDense(rng, halfFlat, pixels),
	}
}

// Config returns the model's hyperparameters.
func (v *VAE) Config() Config {
	return v.config
}

// Parameters returns all trainable parameters in a fixed order. The
// optimizer mutates these in place; the checkpoint store serializes
// them in this exact order.
func (v *VAE) Parameters() []*Tensor {
	return []*Tensor{
		v.enc1.W, v.enc1.B,
		v.enc2.W, v.enc2.B,
		v.enc3.W, v.enc3.B,
		v.meanHead.W, v.meanHead.B,
		v.logStdHead.W, v.logStdHead.B,
		v.expand1.W, v.expand1.B,
		v.expand2.W, v.expand2.B,
		v.dec1.W, v.dec1.B,
		v.dec2.W, v.dec2.B,
		v.dec3.W, v.dec3.B,
		v.outHead.W, v.outHead.B,
	}
}

// forwardCache holds every intermediate the backward pass needs.
// One cache per training step; nothing is reused across steps.
type forwardCache struct {
	x *Tensor // input batch (N, H, W, C)

	// Encoder intermediates
	encPre  [3]*Tensor // conv outputs before activation
	encAct  [3]*Tensor // after leaky ReLU
	encDrop [3]*Tensor // after dropout (nil masks at inference)
	encMask [3]*Tensor
	flat    *Tensor // flattened final feature map (N, 7*7*F)

	mean      *Tensor // (N, latent)
	logStddev *Tensor // (N, latent)
	noise     *Tensor // standard normal draw, cached for backward
	z         *Tensor // (N, latent)

	// Decoder intermediates
	expPre  [2]*Tensor
	expAct  [2]*Tensor
	seedMap *Tensor // (N, 7, 7, D)

	decPre  [3]*Tensor
	decAct  [3]*Tensor
	decDrop [3]*Tensor // dropout after stages 0 and 1 only
	decMask [3]*Tensor

	decFlat *Tensor // flattened final deconv map
	outPre  *Tensor // logits before sigmoid
	recon   *Tensor // (N, H, W, C), values in (0, 1)
}

// encode runs the encoder over x, filling the cache through z.
// When train is false, dropout is the identity and no masks are kept.
func (v *VAE) encode(cache *forwardCache, train bool) {
	cfg := v.config
	n := cache.x.shape[0]

	cur := cache.x
	convs := [3]*Conv2D{v.enc1, v.enc2, v.enc3}
	for i, conv := range convs {
		cache.encPre[i] = conv.Forward(cur)
		cache.encAct[i] = LeakyReLU(cache.encPre[i], cfg.Alpha)
		if train {
			cache.encDrop[i], cache.encMask[i] = Dropout(cache.encAct[i], cfg.KeepProb, v.rng)
		} else {
			cache.encDrop[i] = cache.encAct[i]
		}
		cur = cache.encDrop[i]
	}

	ms := cfg.mapSize()
	cache.flat = cur.Reshape(n, ms*ms*cfg.ConvFilters)

	cache.mean = v.meanHead.Forward(cache.flat)
	cache.logStddev = v.logStdHead.Forward(cache.flat)

	// Reparameterization: z = mean + noise * exp(logStddev).
	// The noise is an input to the graph, not part of it, which is
	// what lets gradients flow through a stochastic draw.
	cache.noise = NewTensorRand(v.rng, 1.0, n, cfg.LatentDim)
	cache.z = Add(cache.mean, Mul(cache.noise, Exp(cache.logStddev)))
}

// decode runs the decoder over cache.z, filling the cache through the
// reconstruction.
func (v *VAE) decode(cache *forwardCache, train bool) {
	cfg := v.config
	n := cache.z.shape[0]
	ms := cfg.mapSize()

	cache.expPre[0] = v.expand1.Forward(cache.z)
	cache.expAct[0] = LeakyReLU(cache.expPre[0], cfg.Alpha)
	cache.expPre[1] = v.expand2.Forward(cache.expAct[0])
	cache.expAct[1] = LeakyReLU(cache.expPre[1], cfg.Alpha)

	cache.seedMap = cache.expAct[1].Reshape(n, ms, ms, cfg.DecoderUnits)

	cur := cache.seedMap
	deconvs := [3]*ConvTranspose2D{v.dec1, v.dec2, v.dec3}
	for i, deconv := range deconvs {
		cache.decPre[i] = deconv.Forward(cur)
		cache.decAct[i] = LeakyReLU(cache.decPre[i], cfg.Alpha)
		// No dropout on the last stage: it feeds the output head
		// directly and dropping there corrupts the pixel distribution.
		if train && i < 2 {
			cache.decDrop[i], cache.decMask[i] = Dropout(cache.decAct[i], cfg.KeepProb, v.rng)
		} else {
			cache.decDrop[i] = cache.decAct[i]
		}
		cur = cache.decDrop[i]
	}

	half := cfg.ImageSize / 2
	cache.decFlat = cur.Reshape(n, half*half*cfg.ConvFilters)
	cache.outPre = v.outHead.Forward(cache.decFlat)
	sig := Sigmoid(cache.outPre)
	cache.recon = sig.Reshape(n, cfg.ImageSize, cfg.ImageSize, cfg.Channels)
}

// ForwardWithCache runs a full forward pass in training mode and
// returns the cache for Backward.
func (v *VAE) ForwardWithCache(x *Tensor) *forwardCache {
	cache := &forwardCache{x: x}
	v.encode(cache, true)
	v.decode(cache, true)
	return cache
}

// Encode maps an image batch to its latent distribution and a sample
// from it. Inference mode: dropout disabled. The sample z is fresh on
// every call; mean and logStddev are deterministic in the input.
func (v *VAE) Encode(x *Tensor) (z, mean, logStddev *Tensor) {
	cache := &forwardCache{x: x}
	v.encode(cache, false)
	return cache.z, cache.mean, cache.logStddev
}

// Decode maps a latent batch (N, latent) to reconstructed images
// (N, H, W, C). Inference mode: dropout disabled.
func (v *VAE) Decode(z *Tensor) *Tensor {
	cache := &forwardCache{z: z}
	v.decode(cache, false)
	return cache.recon
}

// Reconstruct encodes and decodes a batch in inference mode.
func (v *VAE) Reconstruct(x *Tensor) *Tensor {
	z, _, _ := v.Encode(x)
	return v.Decode(z)
}

// Sample draws n latent vectors from the standard normal prior and
// decodes them. This is the generative use the KL term buys: after
// training, the latent space near the origin decodes to plausible
// images.
func (v *VAE) Sample(n int) *Tensor {
	z := NewTensorRand(v.rng, 1.0, n, v.config.LatentDim)
	return v.Decode(z)
}

// Backward propagates loss gradients through the whole model,
// accumulating parameter gradients in place.
//
// Inputs are the three gradients the ELBO loss produces:
//   - gradRecon: ∂L/∂recon, shape of the reconstruction
//   - gradMeanKL, gradLogStdKL: the KL term's direct gradients on the
//     latent distribution parameters
//
// The reconstruction path contributes to mean/logStddev through z; the
// KL contributions are added where the paths meet.
func (v *VAE) Backward(cache *forwardCache, gradRecon, gradMeanKL, gradLogStdKL *Tensor) {
	cfg := v.config
	n := cache.x.shape[0]
	ms := cfg.mapSize()
	half := cfg.ImageSize / 2

	// --- Decoder backward ---

	// Sigmoid + output head. SigmoidBackward takes the forward output,
	// not the logits: dy/dx = y*(1-y).
	flatPixels := cfg.ImageSize * cfg.ImageSize * cfg.Channels
	gradOutPre := SigmoidBackward(cache.recon.Reshape(n, flatPixels), gradRecon.Reshape(n, flatPixels))
	gradDecFlat := v.outHead.Backward(cache.decFlat, gradOutPre)
	grad := gradDecFlat.Reshape(n, half, half, cfg.ConvFilters)

	// Deconv stack, in reverse
	deconvs := [3]*ConvTranspose2D{v.dec1, v.dec2, v.dec3}
	for i := 2; i >= 0; i-- {
		if cache.decMask[i] != nil {
			grad = DropoutBackward(cache.decMask[i], grad)
		}
		grad = LeakyReLUBackward(cache.decPre[i], grad, cfg.Alpha)
		var in *Tensor
		if i == 0 {
			in = cache.seedMap
		} else {
			in = cache.decDrop[i-1]
		}
		grad = deconvs[i].Backward(in, grad)
	}

	// Dense expansions, in reverse
	gradExp := grad.Reshape(n, ms*ms*cfg.DecoderUnits)
	gradExp = LeakyReLUBackward(cache.expPre[1], gradExp, cfg.Alpha)
	gradExp = v.expand2.Backward(cache.expAct[0], gradExp)
	gradExp = LeakyReLUBackward(cache.expPre[0], gradExp, cfg.Alpha)
	gradZ := v.expand1.Backward(cache.z, gradExp)

	// --- Reparameterization backward ---
	// z = mean + noise * exp(logStddev)
	//   ∂z/∂mean = 1
	//   ∂z/∂logStddev = noise * exp(logStddev)
	gradZMean, gradZScaled := AddBackward(gradZ)
	gradMean := Add(gradZMean, gradMeanKL)
	gradLogStd := Add(Mul(gradZScaled, Mul(cache.noise, Exp(cache.logStddev))), gradLogStdKL)

	// --- Encoder backward ---
	gradFlatMean := v.meanHead.Backward(cache.flat, gradMean)
	gradFlatStd := v.logStdHead.Backward(cache.flat, gradLogStd)
	gradEnc := Add(gradFlatMean, gradFlatStd).Reshape(n, ms, ms, cfg.ConvFilters)

	convs := [3]*Conv2D{v.enc1, v.enc2, v.enc3}
	for i := 2; i >= 0; i-- {
		if cache.encMask[i] != nil {
			gradEnc = DropoutBackward(cache.encMask[i], gradEnc)
		}
		gradEnc = LeakyReLUBackward(cache.encPre[i], gradEnc, cfg.Alpha)
		var in *Tensor
		if i == 0 {
			in = cache.x
		} else {
			in = cache.encDrop[i-1]
		}
		gradEnc = convs[i].Backward(in, gradEnc)
	}
}
