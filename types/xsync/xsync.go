// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements the extra synchronization tools used by the
// quantgemm engine.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like synchronization primitive that allows the count
// to be changed (new values added) while someone is waiting for it.
//
// The tile executor uses it to account for workers that recursively split their work
// and hand halves to other workers: the counter grows while the dispatch is already
// being waited on.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	dwg := &DynamicWaitGroup{}
	dwg.cond = sync.NewCond(&dwg.mu)
	return dwg
}

// Add changes the DynamicWaitGroup counter by the given delta.
// If the counter becomes zero, it broadcasts to all waiting goroutines.
// If the counter would go negative, it panics.
func (dwg *DynamicWaitGroup) Add(delta int) {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()

	dwg.count += int64(delta)
	if dwg.count < 0 {
		panic(errors.Errorf("DynamicWaitGroup: negative counter"))
	}
	if dwg.count == 0 {
		dwg.cond.Broadcast()
	}
}

// Done decrements the DynamicWaitGroup counter by one.
func (dwg *DynamicWaitGroup) Done() {
	dwg.Add(-1)
}

// Wait blocks until the DynamicWaitGroup counter is zero.
func (dwg *DynamicWaitGroup) Wait() {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()

	// Loop because sync.Cond.Wait() can have spurious wakeups.
	for dwg.count > 0 {
		dwg.cond.Wait()
	}
}
