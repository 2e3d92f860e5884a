package main

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestImageSetValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if _, err := NewImageSet(nil, 2, 2, 1, rng); !errors.Is(err, ErrBadImageData) {
		t.Errorf("empty set: got %v, want ErrBadImageData", err)
	}

	short := [][]float64{{0.5, 0.5}} // 2 values for a 2x2 image
	if _, err := NewImageSet(short, 2, 2, 1, rng); !errors.Is(err, ErrBadImageData) {
		t.Errorf("wrong length: got %v, want ErrBadImageData", err)
	}

	hot := [][]float64{{0, 0.5, 1, 1.5}}
	if _, err := NewImageSet(hot, 2, 2, 1, rng); !errors.Is(err, ErrBadImageData) {
		t.Errorf("out-of-range pixel: got %v, want ErrBadImageData", err)
	}
}

func TestImageSetBatching(t *testing.T) {
	// Three distinguishable 1x1 images so we can track which came out
	images := [][]float64{{0.1}, {0.2}, {0.3}}
	set, err := NewImageSet(images, 1, 1, 1, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 3 {
		t.Fatalf("Len = %d, want 3", set.Len())
	}

	batch, err := set.NextBatch(3)
	if err != nil {
		t.Fatal(err)
	}
	if got := batch.Shape(); got[0] != 3 || got[1] != 1 || got[2] != 1 || got[3] != 1 {
		t.Fatalf("batch shape %v", got)
	}

	// One full pass visits each image exactly once
	seen := map[float64]int{}
	for i := 0; i < 3; i++ {
		seen[batch.At(i, 0, 0, 0)]++
	}
	for _, v := range []float64{0.1, 0.2, 0.3} {
		if seen[v] != 1 {
			t.Errorf("pixel %v seen %d times in one pass", v, seen[v])
		}
	}
}

func TestImageSetCycles(t *testing.T) {
	images := [][]float64{{0.5}, {0.6}}
	set, err := NewImageSet(images, 1, 1, 1, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}

	// 5 images from a 2-image cycling set wraps twice
	if _, err := set.NextBatch(5); err != nil {
		t.Fatalf("cycling batch failed: %v", err)
	}

	set.Cycle = false
	if _, err := set.NextBatch(5); !errors.Is(err, ErrDatasetExhausted) {
		t.Errorf("non-cycling overrun: got %v, want ErrDatasetExhausted", err)
	}
}

func TestImageSetBadBatchSize(t *testing.T) {
	set, err := NewImageSet([][]float64{{0.5}}, 1, 1, 1, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := set.NextBatch(0); !errors.Is(err, ErrBadImageData) {
		t.Errorf("batch size 0: got %v, want ErrBadImageData", err)
	}
}

// writeIDX serializes images in the MNIST IDX layout.
func writeIDX(t *testing.T, path string, rows, cols int, images [][]byte, compress bool) {
	t.Helper()

	var buf bytes.Buffer
	header := []uint32{0x00000803, uint32(len(images)), uint32(rows), uint32(cols)}
	if err := binary.Write(&buf, binary.BigEndian, header); err != nil {
		t.Fatal(err)
	}
	for _, img := range images {
		buf.Write(img)
	}

	data := buf.Bytes()
	if compress {
		var gzBuf bytes.Buffer
		gz := gzip.NewWriter(&gzBuf)
		if _, err := gz.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
		data = gzBuf.Bytes()
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadIDXImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.idx")
	writeIDX(t, path, 2, 2, [][]byte{
		{0, 51, 102, 255},
		{255, 204, 153, 0},
	}, false)

	set, err := LoadIDXImages(path, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}

	// Pixels normalized by 255
	found := false
	for _, img := range set.images {
		if img[0] == 0 && img[1] == 51.0/255 && img[3] == 1 {
			found = true
		}
		for _, v := range img {
			if v < 0 || v > 1 {
				t.Fatalf("pixel %v outside [0,1]", v)
			}
		}
	}
	if !found {
		t.Error("first image (0..255 corners) not loaded intact")
	}
}

func TestLoadIDXImagesGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.idx.gz")
	writeIDX(t, path, 1, 2, [][]byte{{0, 255}}, true)

	set, err := LoadIDXImages(path, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatal(err)
	}
	img := set.images[0]
	if img[0] != 0 || img[1] != 1 {
		t.Errorf("gz pixels = %v, want [0 1]", img)
	}
}

func TestLoadIDXBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.idx")
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{0xdeadbeef, 1, 1, 1})
	buf.WriteByte(0)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadIDXImages(path, rand.New(rand.NewSource(7))); !errors.Is(err, ErrBadImageData) {
		t.Errorf("bad magic: got %v, want ErrBadImageData", err)
	}
}

func TestLoadIDXTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.idx")
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []uint32{0x00000803, 2, 2, 2})
	buf.Write([]byte{1, 2, 3, 4}) // only one of the two promised images
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadIDXImages(path, rand.New(rand.NewSource(8))); !errors.Is(err, ErrBadImageData) {
		t.Errorf("truncated file: got %v, want ErrBadImageData", err)
	}
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	a := NewSyntheticSource(8, 8, 1, rand.New(rand.NewSource(9)))
	b := NewSyntheticSource(8, 8, 1, rand.New(rand.NewSource(9)))

	batchA, _ := a.NextBatch(4)
	batchB, _ := b.NextBatch(4)

	for i := range batchA.data {
		if batchA.data[i] != batchB.data[i] {
			t.Fatal("same seed produced different batches")
		}
	}

	// Values in [0, 1], and not all zero
	sum := 0.0
	for _, v := range batchA.data {
		if v < 0 || v > 1 {
			t.Fatalf("pixel %v outside [0,1]", v)
		}
		sum += v
	}
	if sum == 0 {
		t.Error("synthetic batch is all zeros")
	}
}
