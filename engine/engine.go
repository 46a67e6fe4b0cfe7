// Package engine implements the execution engine consumed by the quantgemm
// kernel dispatch layer: buffers, execution streams and the tiled
// int8×int8→int32 rowwise-dequantized GEMM executor.
//
// The engine mimics a device: kernel launches are issued onto a Stream and run
// asynchronously, in FIFO order per stream; Stream.Synchronize blocks until
// all issued work completed. Work inside one launch is parallelized over a
// soft-limited worker pool.
package engine

import (
	"os"
	"strconv"
	"sync"

	"github.com/gomlx/quantgemm/internal/workerspool"
	"k8s.io/klog/v2"
)

// ParallelismEnvVar overrides the engine parallelism at construction time:
// 0 disables parallelism, -1 makes it unlimited, any positive value is used
// as the soft target of parallel workers.
const ParallelismEnvVar = "QUANTGEMM_PARALLELISM"

// Engine executes quantized GEMM kernels.
//
// It is safe for concurrent use: the only mutable state are the internal
// buffer pools and the per-stream queues, both independently synchronized.
type Engine struct {
	workers *workerspool.Pool

	// bufferPools is a map of pools of buffers that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map

	defaultStream     *Stream
	defaultStreamOnce sync.Once
}

// New constructs a new Engine.
//
// Parallelism defaults to the number of CPUs and can be overridden with the
// QUANTGEMM_PARALLELISM environment variable.
func New() *Engine {
	e := &Engine{
		workers: workerspool.New(),
	}
	if value, found := os.LookupEnv(ParallelismEnvVar); found {
		parallelism, err := strconv.Atoi(value)
		if err != nil {
			klog.Warningf("invalid %s=%q, ignored: %v", ParallelismEnvVar, value, err)
		} else {
			e.workers.SetMaxParallelism(parallelism)
		}
	}
	klog.V(1).Infof("quantgemm engine created, parallelism=%d", e.workers.MaxParallelism())
	return e
}

// Name returns a short name of the engine.
func (e *Engine) Name() string {
	return "quantgemm CPU engine"
}

// String implements fmt.Stringer.
func (e *Engine) String() string { return e.Name() }

// SetMaxParallelism sets the soft target of parallel workers: 0 disables
// parallelism, -1 makes it unlimited.
//
// Only change it before any kernels are launched.
func (e *Engine) SetMaxParallelism(maxParallelism int) {
	e.workers.SetMaxParallelism(maxParallelism)
}
