package main

import (
	"fmt"
	"os"
)

func main() {
	// Check for command-line mode
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "train":
			if err := RunTrainCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "reconstruct":
			if err := RunReconstructCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "sample":
			if err := RunSampleCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "visualize":
			if err := RunVisualizeCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	// Default: show help
	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train        Train a VAE on an IDX image file (or synthetic data)")
	fmt.Println("  reconstruct  Encode and decode images from a trained model")
	fmt.Println("  sample       Decode fresh draws from the latent prior")
	fmt.Println("  visualize    Render loss curves and a latent scatter from a run")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . train -data=train-images-idx3-ubyte.gz -iters=10000")
	fmt.Println("  go run . train -ckpt=checkpoints -viz=viz -seed=42")
	fmt.Println("  go run . reconstruct -ckpt=checkpoints -data=train-images-idx3-ubyte.gz -n=8")
	fmt.Println("  go run . sample -ckpt=checkpoints -n=16 -out=samples.png")
	fmt.Println("  go run . visualize -ckpt=checkpoints -data=train-images-idx3-ubyte.gz")
	fmt.Println()
}
