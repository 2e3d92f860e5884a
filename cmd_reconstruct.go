package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// RunReconstructCommand loads a trained model, runs a batch of images
// through the encoder and decoder in inference mode, and writes
// side-by-side comparison images.
func RunReconstructCommand(args []string) error {
	fs := flag.NewFlagSet("reconstruct", flag.ExitOnError)

	ckptDir := fs.String("ckpt", "checkpoints", "Checkpoint directory")
	dataPath := fs.String("data", "", "IDX image file (optionally .gz); synthetic data if empty")
	n := fs.Int("n", 8, "Number of images to reconstruct")
	out := fs.String("out", "reconstructions.png", "Output image path")
	seed := fs.Int64("seed", 1, "Random seed")

	if err := fs.Parse(args); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	model, err := LoadCheckpoint(*ckptDir, rng)
	if err != nil {
		return errors.Wrap(err, "loading model")
	}
	config := model.Config()

	var source BatchSource
	if *dataPath != "" {
		set, err := LoadIDXImages(*dataPath, rng)
		if err != nil {
			return errors.Wrap(err, "loading images")
		}
		source = set
	} else {
		source = NewSyntheticSource(config.ImageSize, config.ImageSize, config.Channels, rng)
	}

	batch, err := source.NextBatch(*n)
	if err != nil {
		return errors.Wrap(err, "fetching batch")
	}

	recon := model.Reconstruct(batch)

	// Interleave inputs and reconstructions: row pairs read as
	// original above, reconstruction below.
	combined := NewTensor(2*(*n), config.ImageSize, config.ImageSize, config.Channels)
	stride := config.ImageSize * config.ImageSize * config.Channels
	for i := 0; i < *n; i++ {
		copy(combined.data[(2*i)*stride:], batch.data[i*stride:(i+1)*stride])
		copy(combined.data[(2*i+1)*stride:], recon.data[i*stride:(i+1)*stride])
	}
	if err := WriteGridPNG(*out, combined, 2); err != nil {
		return errors.Wrap(err, "writing output")
	}

	fmt.Printf("wrote %s (%d input/reconstruction pairs)\n", *out, *n)
	return nil
}
