package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the checkpoint store: the full parameter set
// persisted to a named directory, restored automatically at startup
// when the directory is non-empty.
//
// FORMAT:
//   uint32 (little-endian)  length of JSON config header
//   JSON Config             model hyperparameters
//   float64 dumps           every Parameters() tensor, little-endian,
//                           in Parameters() order
//
// This is a naive format - just tensor dumps. Production systems would
// use SafeTensors or GGUF. But the shapes are fully determined by the
// config header, so the file needs no per-tensor metadata, and a
// round-trip is bit-exact.
//
// The config header doubles as a compatibility check: restoring into a
// model whose config differs is refused rather than silently loading
// misaligned weights.
//
// ===========================================================================

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// checkpointFile is the parameter file inside a checkpoint directory.
const checkpointFile = "vae.ckpt"

var (
	// ErrNoCheckpoint indicates the checkpoint directory holds no model.
	ErrNoCheckpoint = errors.New("checkpoint: not found")

	// ErrCheckpointCorrupt indicates a truncated or malformed
	// checkpoint file.
	ErrCheckpointCorrupt = errors.New("checkpoint: corrupt")

	// ErrConfigMismatch indicates a checkpoint whose config does not
	// match the model it is being restored into.
	ErrConfigMismatch = errors.New("checkpoint: config mismatch")
)

// SaveCheckpoint writes the model's parameters into dir, which must
// exist.
func SaveCheckpoint(model *VAE, dir string) error {
	path := filepath.Join(dir, checkpointFile)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint file")
	}
	defer f.Close()

	configJSON, err := json.Marshal(model.Config())
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	// Write header length (4 bytes), then the JSON config
	headerLen := uint32(len(configJSON))
	if err := binary.Write(f, binary.LittleEndian, headerLen); err != nil {
		return errors.Wrap(err, "writing header length")
	}
	if _, err := f.Write(configJSON); err != nil {
		return errors.Wrap(err, "writing config")
	}

	for i, p := range model.Parameters() {
		if err := binary.Write(f, binary.LittleEndian, p.data); err != nil {
			return errors.Wrapf(err, "writing tensor %d", i)
		}
	}

	return nil
}

// readCheckpointConfig reads and validates the config header.
func readCheckpointConfig(f *os.File) (Config, error) {
	var config Config

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return config, errors.Wrapf(ErrCheckpointCorrupt, "reading header length: %v", err)
	}
	if headerLen == 0 || headerLen > 1<<20 {
		return config, errors.Wrapf(ErrCheckpointCorrupt, "implausible header length %d", headerLen)
	}

	configJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, configJSON); err != nil {
		return config, errors.Wrapf(ErrCheckpointCorrupt, "reading config: %v", err)
	}
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return config, errors.Wrapf(ErrCheckpointCorrupt, "parsing config: %v", err)
	}

	return config, nil
}

// readCheckpointInto reads parameter data from f into the model's
// existing tensors. The file position must be just past the header.
func readCheckpointInto(f *os.File, model *VAE) error {
	for i, p := range model.Parameters() {
		if err := binary.Read(f, binary.LittleEndian, p.data); err != nil {
			return errors.Wrapf(ErrCheckpointCorrupt, "reading tensor %d: %v", i, err)
		}
	}

	// Anything left over means the file was written by a different
	// model shape than the header claims.
	var extra [1]byte
	if n, _ := f.Read(extra[:]); n != 0 {
		return errors.Wrap(ErrCheckpointCorrupt, "trailing data after parameters")
	}

	return nil
}

// RestoreIfExists loads parameters from dir into model if a checkpoint
// is present. Returns false with no error when the directory holds no
// checkpoint; returns ErrConfigMismatch if a checkpoint is present but
// was saved by a structurally different model.
func RestoreIfExists(model *VAE, dir string) (bool, error) {
	path := filepath.Join(dir, checkpointFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "opening checkpoint")
	}
	defer f.Close()

	config, err := readCheckpointConfig(f)
	if err != nil {
		return false, err
	}
	if config != model.Config() {
		return false, errors.Wrapf(ErrConfigMismatch, "checkpoint %+v vs model %+v", config, model.Config())
	}

	if err := readCheckpointInto(f, model); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCheckpoint constructs a model from the checkpoint in dir. The
// generator becomes the restored model's randomness source for
// sampling and dropout.
func LoadCheckpoint(dir string, rng *rand.Rand) (*VAE, error) {
	path := filepath.Join(dir, checkpointFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint")
	}
	defer f.Close()

	config, err := readCheckpointConfig(f)
	if err != nil {
		return nil, err
	}

	model := NewVAE(config, rng)
	if err := readCheckpointInto(f, model); err != nil {
		return nil, err
	}
	return model, nil
}
