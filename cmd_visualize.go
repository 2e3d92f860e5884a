package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// RunVisualizeCommand renders figures from a finished (or aborted)
// run: the loss curves recorded during training and, when data is
// available, a scatter of encoded latent means.
func RunVisualizeCommand(args []string) error {
	fs := flag.NewFlagSet("visualize", flag.ExitOnError)

	ckptDir := fs.String("ckpt", "checkpoints", "Checkpoint directory")
	dataPath := fs.String("data", "", "IDX image file for the latent scatter; skipped if empty")
	n := fs.Int("n", 256, "Images to encode for the latent scatter")
	outDir := fs.String("out", "figures", "Output directory")
	seed := fs.Int64("seed", 1, "Random seed")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	// Loss curves from the recorded history
	histPath := filepath.Join(*ckptDir, "history.csv")
	history, err := ReadHistoryCSV(histPath)
	if err != nil {
		return errors.Wrap(err, "reading loss history")
	}
	if len(history) == 0 {
		return errors.Errorf("no loss history in %s", histPath)
	}

	lossPath := filepath.Join(*outDir, "loss.png")
	if err := PlotLossHistory(lossPath, history); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d points)\n", lossPath, len(history))

	// Tail summary: the mean of the last quarter of the run is a more
	// honest "final loss" than the last noisy sample.
	tail := history[3*len(history)/4:]
	totals := make([]float64, len(tail))
	kls := make([]float64, len(tail))
	for i, p := range tail {
		totals[i] = p.Total
		kls[i] = p.KL
	}
	fmt.Printf("tail mean: loss %.2f, kl %.2f over last %d points\n",
		stat.Mean(totals, nil), stat.Mean(kls, nil), len(tail))

	if *dataPath == "" {
		return nil
	}

	// Latent scatter of encoded means
	rng := rand.New(rand.NewSource(*seed))
	model, err := LoadCheckpoint(*ckptDir, rng)
	if err != nil {
		return errors.Wrap(err, "loading model")
	}

	set, err := LoadIDXImages(*dataPath, rng)
	if err != nil {
		return errors.Wrap(err, "loading images")
	}
	batch, err := set.NextBatch(*n)
	if err != nil {
		return errors.Wrap(err, "fetching batch")
	}

	_, means, _ := model.Encode(batch)
	scatterPath := filepath.Join(*outDir, "latent.png")
	if err := PlotLatentScatter(scatterPath, means); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d encodings)\n", scatterPath, *n)

	return nil
}
