package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements parallel execution of matrix operations using
// goroutines. It is the only place in the pipeline where concurrency
// appears: the training loop itself is strictly single-threaded, and
// each iteration blocks until its forward pass, loss, and parameter
// update complete. Parallelism below that level (across output rows of
// a matmul) is an internal detail of the tensor layer, invisible to
// the orchestration above it.
//
// INTENTION:
// Expose CPU parallelism as a configurable option. Let the user choose
// between single-threaded (deterministic, debuggable) and parallel
// (faster) modes at runtime. For the dense layers in this model the
// matrices are small (hundreds of rows), so the single-threaded path
// is often the right choice; the parallel path pays off for larger
// batch sizes and decoder unit counts.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
//
// This allows switching between single-threaded (deterministic, easier
// debugging) and multi-threaded (faster) execution modes.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	// Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel specifies the minimum matrix dimension
	// before parallelization is used. Small matrices don't benefit
	// from parallelization due to goroutine overhead.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 64,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize determines if an operation should use parallelization
// based on the problem size.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel
}

// Global compute configuration (can be overridden per operation)
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// MatMulWithConfig performs matrix multiplication with the specified
// compute config, falling back to the serial path for small matrices.
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}
	if a.shape[1] != b.shape[0] {
		panic("tensor: incompatible dimensions for matmul")
	}

	m := a.shape[0]
	if !cfg.shouldParallelize(m) {
		return matMulSerial(a, b)
	}
	return parallelMatMul(a, b, cfg)
}

// parallelMatMul performs parallel matrix multiplication: C = A @ B.
//
// Parallelization strategy:
// - Divide output rows among workers
// - Each worker computes a contiguous block of rows
// - Minimizes false sharing (workers write to different cache lines)
func parallelMatMul(a, b *Tensor, cfg ComputeConfig) *Tensor {
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	out := NewTensor(m, n)

	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > m {
			endRow = m
		}

		if startRow >= m {
			wg.Done()
			continue
		}

		go func(start, end int) {
			defer wg.Done()
			matMulRows(a, b, out, start, end, n, k)
		}(startRow, endRow)
	}

	wg.Wait()
	return out
}

// matMulRows computes a contiguous block of output rows.
func matMulRows(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		for l := 0; l < k; l++ {
			av := a.data[i*k+l]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out.data[i*n+j] += av * b.data[l*n+j]
			}
		}
	}
}
