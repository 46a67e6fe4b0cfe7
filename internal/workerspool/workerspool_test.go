// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_WaitToStart(t *testing.T) {
	pool := New()
	const wantTasks = 5
	pool.SetMaxParallelism(wantTasks)

	var count atomic.Int32
	var wg sync.WaitGroup
	for range 4 * wantTasks {
		wg.Add(1)
		pool.WaitToStart(func() {
			count.Add(1)
			runtime.Gosched()
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int32(4*wantTasks), count.Load())
}

func TestPool_NoParallelism(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	assert.False(t, pool.IsEnabled())

	// WaitToStart runs inline when parallelism is disabled.
	var count atomic.Int32
	pool.WaitToStart(func() { count.Add(1) })
	assert.Equal(t, int32(1), count.Load())

	// With parallelism disabled the pool is always full.
	assert.False(t, pool.StartIfAvailable(func() { count.Add(1) }))
	assert.Equal(t, int32(1), count.Load())
}

func TestPool_Unlimited(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(-1)
	assert.True(t, pool.IsEnabled())
	assert.True(t, pool.IsUnlimited())

	var count atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		assert.True(t, pool.StartIfAvailable(func() {
			count.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(100), count.Load())
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(1)

	// Saturate the pool with sleeping tasks.
	block := make(chan struct{})
	var started sync.WaitGroup
	numSlots := 0
	for {
		started.Add(1)
		ok := pool.StartIfAvailable(func() {
			started.Done()
			<-block
		})
		if !ok {
			started.Done()
			break
		}
		numSlots++
	}
	assert.Greater(t, numSlots, 0)
	started.Wait()

	// Full pool rejects more work until a worker reports itself asleep.
	assert.False(t, pool.StartIfAvailable(func() {}))
	pool.WorkerIsAsleep()
	var ran sync.WaitGroup
	ran.Add(1)
	assert.True(t, pool.StartIfAvailable(func() { ran.Done() }))
	ran.Wait()
	pool.WorkerRestarted()

	close(block)
}
