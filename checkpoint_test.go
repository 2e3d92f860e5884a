package main

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// TestCheckpointRoundTrip: saving and restoring into a freshly
// initialized model must reproduce identical outputs for the same
// input and latent draw.
func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()

	original := NewVAE(testConfig(), rand.New(rand.NewSource(1)))
	if err := SaveCheckpoint(original, dir); err != nil {
		t.Fatal(err)
	}

	restored, err := LoadCheckpoint(dir, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatal(err)
	}

	if restored.Config() != original.Config() {
		t.Fatalf("config changed through round trip: %+v vs %+v", restored.Config(), original.Config())
	}

	// Bit-exact parameters
	origParams := original.Parameters()
	restParams := restored.Parameters()
	for i := range origParams {
		for j := range origParams[i].data {
			if origParams[i].data[j] != restParams[i].data[j] {
				t.Fatalf("parameter %d element %d differs after restore", i, j)
			}
		}
	}

	// Identical outputs on a shared latent draw (Decode is
	// deterministic; Encode's z would differ only through the rng)
	z := NewTensorRand(rand.New(rand.NewSource(5)), 1.0, 3, testConfig().LatentDim)
	a := original.Decode(z)
	b := restored.Decode(z)
	for i := range a.data {
		if a.data[i] != b.data[i] {
			t.Fatalf("decode output differs at %d after restore", i)
		}
	}

	x := NewTensor(2, 28, 28, 1)
	_, meanA, lsA := original.Encode(x)
	_, meanB, lsB := restored.Encode(x)
	for i := range meanA.data {
		if meanA.data[i] != meanB.data[i] || lsA.data[i] != lsB.data[i] {
			t.Fatalf("encoder distribution differs at %d after restore", i)
		}
	}
}

// TestRestoreIfExists covers the startup logic: no checkpoint means a
// clean start, a present checkpoint restores in place.
func TestRestoreIfExists(t *testing.T) {
	dir := t.TempDir()

	model := NewVAE(testConfig(), rand.New(rand.NewSource(2)))
	restored, err := RestoreIfExists(model, dir)
	if err != nil {
		t.Fatal(err)
	}
	if restored {
		t.Fatal("restored from an empty directory")
	}

	// Mutate, save, reinitialize, restore
	model.Parameters()[0].data[0] = 123.456
	if err := SaveCheckpoint(model, dir); err != nil {
		t.Fatal(err)
	}

	fresh := NewVAE(testConfig(), rand.New(rand.NewSource(3)))
	restored, err = RestoreIfExists(fresh, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !restored {
		t.Fatal("did not restore from a non-empty directory")
	}
	if fresh.Parameters()[0].data[0] != 123.456 {
		t.Fatal("restore did not load saved parameters")
	}
}

// TestRestoreConfigMismatch: restoring into a structurally different
// model must be refused, not silently misaligned.
func TestRestoreConfigMismatch(t *testing.T) {
	dir := t.TempDir()

	model := NewVAE(testConfig(), rand.New(rand.NewSource(4)))
	if err := SaveCheckpoint(model, dir); err != nil {
		t.Fatal(err)
	}

	other := testConfig()
	other.LatentDim = 16
	mismatched := NewVAE(other, rand.New(rand.NewSource(5)))

	_, err := RestoreIfExists(mismatched, dir)
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
}

// TestCheckpointCorrupt: a truncated file must surface as
// ErrCheckpointCorrupt.
func TestCheckpointCorrupt(t *testing.T) {
	dir := t.TempDir()

	model := NewVAE(testConfig(), rand.New(rand.NewSource(6)))
	if err := SaveCheckpoint(model, dir); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, checkpointFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = LoadCheckpoint(dir, rand.New(rand.NewSource(7)))
	if !errors.Is(err, ErrCheckpointCorrupt) {
		t.Fatalf("expected ErrCheckpointCorrupt, got %v", err)
	}
}

// TestLoadMissing: loading from a directory with no checkpoint returns
// ErrNoCheckpoint.
func TestLoadMissing(t *testing.T) {
	_, err := LoadCheckpoint(t.TempDir(), rand.New(rand.NewSource(8)))
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
}
