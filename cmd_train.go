package main

import (
	"flag"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/pkg/errors"
)

// ===========================================================================
// TRAINING CLI
// ===========================================================================
//
// This file implements the train subcommand: the full pipeline of
// data loading → model construction → training loop → artifacts.
//
// KEY DESIGN DECISIONS:
//
// 1. DATASET:
//    - MNIST-format IDX files when -data is given; a deterministic
//      synthetic blob source otherwise, so the pipeline runs end to
//      end with nothing downloaded.
//
// 2. DETERMINISM:
//    - One seed flag feeds two generators: one for the model (init,
//      sampling noise, dropout) and one for batch order. Same seed,
//      same run, modulo goroutine scheduling inside matmul.
//
// 3. RESUMING:
//    - If the checkpoint directory already holds a model with the same
//      config, training silently continues from it. This is the only
//      recovery mechanism; there is no mid-run retry.
//
// ===========================================================================

// RunTrainCommand implements the training CLI.
func RunTrainCommand(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)

	// Model hyperparameters
	imageSize := fs.Int("size", 28, "Image height and width")
	channels := fs.Int("channels", 1, "Image channels")
	latentDim := fs.Int("latent", 8, "Latent dimension")
	filters := fs.Int("filters", 64, "Conv / deconv channel count")
	decUnits := fs.Int("dec-units", 16, "Decoder seed feature-map channels")
	keepProb := fs.Float64("keep", 0.8, "Dropout keep probability")

	// Training hyperparameters
	iters := fs.Int("iters", 10000, "Total training iterations")
	batchSize := fs.Int("batch", 24, "Batch size")
	lr := fs.Float64("lr", 1e-3, "Learning rate")
	logEvery := fs.Int("log-every", 100, "Steps between log lines")
	vizEvery := fs.Int("viz-every", 500, "Steps between comparison images")
	seed := fs.Int64("seed", 1, "Random seed")
	serial := fs.Bool("serial", false, "Single-threaded matrix math (deterministic scheduling)")

	// I/O
	dataPath := fs.String("data", "", "IDX image file (optionally .gz); synthetic data if empty")
	ckptDir := fs.String("ckpt", "checkpoints", "Checkpoint directory")
	vizDir := fs.String("viz", "viz", "Comparison image directory (empty disables)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *serial {
		SetGlobalComputeConfig(SingleThreadedConfig())
	}

	config := Config{
		ImageSize:    *imageSize,
		Channels:     *channels,
		LatentDim:    *latentDim,
		ConvFilters:  *filters,
		DecoderUnits: *decUnits,
		Kernel:       4,
		KeepProb:     *keepProb,
		Alpha:        0.3,
	}

	modelRNG := rand.New(rand.NewSource(*seed))
	dataRNG := rand.New(rand.NewSource(*seed + 1))

	// Step 1: Data source
	var source BatchSource
	if *dataPath != "" {
		set, err := LoadIDXImages(*dataPath, dataRNG)
		if err != nil {
			return errors.Wrap(err, "loading training data")
		}
		fmt.Printf("loaded %d images from %s\n", set.Len(), *dataPath)
		source = set
	} else {
		fmt.Println("no -data given, using synthetic images")
		source = NewSyntheticSource(config.ImageSize, config.ImageSize, config.Channels, dataRNG)
	}

	// Step 2: Model
	model := NewVAE(config, modelRNG)
	fmt.Printf("model: %dx%dx%d -> %d latent, %d parameters\n",
		config.ImageSize, config.ImageSize, config.Channels,
		config.LatentDim, countParameters(model.Parameters()))

	// Step 3: Train
	trainCfg := DefaultTrainingConfig()
	trainCfg.LearningRate = *lr
	trainCfg.BatchSize = *batchSize
	trainCfg.Iterations = *iters
	trainCfg.LogInterval = *logEvery
	trainCfg.VizInterval = *vizEvery
	trainCfg.CheckpointDir = *ckptDir
	trainCfg.VizDir = *vizDir

	history, err := Train(model, source, trainCfg)

	// Persist whatever history exists, even on abort: a loss curve is
	// most useful exactly when a run died.
	if len(history) > 0 {
		histPath := filepath.Join(*ckptDir, "history.csv")
		if werr := WriteHistoryCSV(histPath, history); werr != nil {
			fmt.Printf("warning: %v\n", werr)
		} else {
			fmt.Printf("wrote %s\n", histPath)
		}
	}
	if err != nil {
		return errors.Wrap(err, "training")
	}

	fmt.Printf("done: checkpoint in %s\n", *ckptDir)
	return nil
}

// countParameters sums the element counts of a parameter list.
func countParameters(params []*Tensor) int {
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	return total
}
