package engine

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFIFOOrder(t *testing.T) {
	e := New()
	s := e.NewStream()
	defer s.Finalize()

	// Launches must execute in issue order, even when each one would be
	// individually fast enough to race.
	const numLaunches = 1000
	var order []int
	for i := range numLaunches {
		s.Launch(func() {
			order = append(order, i)
		})
	}
	s.Synchronize()
	require.Len(t, order, numLaunches)
	for i, got := range order {
		require.Equal(t, i, got)
	}
}

func TestStreamSynchronize(t *testing.T) {
	e := New()
	s := e.NewStream()
	defer s.Finalize()

	var done atomic.Bool
	release := make(chan struct{})
	s.Launch(func() {
		<-release
		done.Store(true)
	})
	close(release)
	s.Synchronize()
	assert.True(t, done.Load())

	// Synchronize on an idle stream returns immediately.
	s.Synchronize()
}

func TestDefaultStream(t *testing.T) {
	e := New()
	s1 := e.DefaultStream()
	s2 := e.DefaultStream()
	assert.Same(t, s1, s2)
	assert.Same(t, e, s1.Engine())
}

func TestStreamFinalize(t *testing.T) {
	e := New()
	s := e.NewStream()

	var count atomic.Int32
	for range 10 {
		s.Launch(func() { count.Add(1) })
	}
	s.Finalize()
	assert.Equal(t, int32(10), count.Load())

	// Finalize is idempotent; Launch afterward panics.
	s.Finalize()
	assert.Panics(t, func() { s.Launch(func() {}) })
}
