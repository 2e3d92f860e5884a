package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the data source: anything that can hand the
// training loop a (batch, H, W, C) tensor of pixel values in [0, 1].
//
// Two concrete sources:
//   - ImageSet: images held in memory, loaded from IDX files (the
//     MNIST distribution format), batched in shuffled order, cycling
//     with a reshuffle when a pass completes.
//   - SyntheticSource: procedurally generated blobs for offline runs
//     and tests, deterministic under a seeded generator.
//
// IDX FORMAT (images):
//   uint32 magic   0x00000803
//   uint32 count
//   uint32 rows
//   uint32 cols
//   bytes  count*rows*cols pixels, row-major
//
// Files ending in .gz are decompressed transparently.
//
// ===========================================================================

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrDatasetExhausted indicates a non-cycling source ran out of
	// images.
	ErrDatasetExhausted = errors.New("dataset: exhausted")

	// ErrBadImageData indicates malformed image data: a bad IDX
	// header, a size that doesn't divide into whole images, or pixel
	// values outside [0, 1].
	ErrBadImageData = errors.New("dataset: bad image data")
)

// BatchSource supplies mini-batches of images as (n, H, W, C) tensors
// with values in [0, 1].
type BatchSource interface {
	NextBatch(n int) (*Tensor, error)
}

// ImageSet is an in-memory image collection. Batches are drawn in
// shuffled order; when a pass over the set completes, the order is
// reshuffled and iteration continues (or stops with
// ErrDatasetExhausted when Cycle is false).
type ImageSet struct {
	images  [][]float64 // one flat H*W*C slice per image
	h, w, c int

	rng   *rand.Rand
	order []int
	pos   int

	// Cycle controls wrap-around. Training wants true; evaluation
	// over a fixed set wants false.
	Cycle bool
}

// NewImageSet creates a source over pre-normalized images. Each image
// must be a flat slice of length h*w*c with values in [0, 1].
func NewImageSet(images [][]float64, h, w, c int, rng *rand.Rand) (*ImageSet, error) {
	if len(images) == 0 {
		return nil, errors.Wrap(ErrBadImageData, "empty image set")
	}
	for i, img := range images {
		if len(img) != h*w*c {
			return nil, errors.Wrapf(ErrBadImageData, "image %d has %d values, want %d", i, len(img), h*w*c)
		}
		for _, v := range img {
			if v < 0 || v > 1 || math.IsNaN(v) {
				return nil, errors.Wrapf(ErrBadImageData, "image %d has pixel value %v outside [0,1]", i, v)
			}
		}
	}

	s := &ImageSet{
		images: images,
		h:      h, w: w, c: c,
		rng:   rng,
		order: rng.Perm(len(images)),
		Cycle: true,
	}
	return s, nil
}

// Len returns the number of images in the set.
func (s *ImageSet) Len() int {
	return len(s.images)
}

// NextBatch returns the next n images as an (n, H, W, C) tensor.
func (s *ImageSet) NextBatch(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrBadImageData, "batch size %d", n)
	}

	out := NewTensor(n, s.h, s.w, s.c)
	stride := s.h * s.w * s.c

	for i := 0; i < n; i++ {
		if s.pos >= len(s.order) {
			if !s.Cycle {
				return nil, ErrDatasetExhausted
			}
			s.order = s.rng.Perm(len(s.images))
			s.pos = 0
		}
		img := s.images[s.order[s.pos]]
		copy(out.data[i*stride:(i+1)*stride], img)
		s.pos++
	}

	return out, nil
}

// LoadIDXImages reads an IDX image file (optionally gzipped) and
// normalizes pixels to [0, 1].
func LoadIDXImages(path string, rng *rand.Rand) (*ImageSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening image file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(ErrBadImageData, "gzip header: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(ErrBadImageData, "reading IDX header: %v", err)
	}
	if header.Magic != 0x00000803 {
		return nil, errors.Wrapf(ErrBadImageData, "IDX magic 0x%08x, want 0x00000803", header.Magic)
	}
	if header.Count == 0 || header.Rows == 0 || header.Cols == 0 {
		return nil, errors.Wrapf(ErrBadImageData, "IDX dimensions %dx%dx%d", header.Count, header.Rows, header.Cols)
	}

	count := int(header.Count)
	pixels := int(header.Rows) * int(header.Cols)

	raw := make([]byte, pixels)
	images := make([][]float64, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, errors.Wrapf(ErrBadImageData, "reading image %d: %v", i, err)
		}
		img := make([]float64, pixels)
		for j, b := range raw {
			img[j] = float64(b) / 255.0
		}
		images[i] = img
	}

	return NewImageSet(images, int(header.Rows), int(header.Cols), 1, rng)
}

// SyntheticSource generates soft Gaussian blobs at random positions.
// Not digits, but enough structure for an autoencoder to learn, and
// fully deterministic under a seeded generator.
type SyntheticSource struct {
	h, w, c int
	rng     *rand.Rand
}

// NewSyntheticSource creates a synthetic image source.
func NewSyntheticSource(h, w, c int, rng *rand.Rand) *SyntheticSource {
	return &SyntheticSource{h: h, w: w, c: c, rng: rng}
}

// NextBatch generates n fresh images.
func (s *SyntheticSource) NextBatch(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrBadImageData, "batch size %d", n)
	}

	out := NewTensor(n, s.h, s.w, s.c)
	for i := 0; i < n; i++ {
		// One blob per image, position and spread drawn per image
		cy := (0.25 + 0.5*s.rng.Float64()) * float64(s.h)
		cx := (0.25 + 0.5*s.rng.Float64()) * float64(s.w)
		sigma := (0.08 + 0.12*s.rng.Float64()) * float64(s.h)

		for y := 0; y < s.h; y++ {
			for x := 0; x < s.w; x++ {
				dy, dx := float64(y)-cy, float64(x)-cx
				v := math.Exp(-(dy*dy + dx*dx) / (2 * sigma * sigma))
				for ch := 0; ch < s.c; ch++ {
					out.Set(v, i, y, x, ch)
				}
			}
		}
	}

	return out, nil
}
