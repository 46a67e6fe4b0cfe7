package engine

import (
	"sync"

	"github.com/gomlx/quantgemm/types/xsync"
)

// streamQueueDepth is the number of launches that can be issued ahead of
// execution before Launch blocks.
const streamQueueDepth = 128

// Stream is an ordered execution queue, the analog of a device stream:
// launches return once the work is issued, the work itself runs asynchronously
// on a dedicated goroutine, strictly in launch (FIFO) order.
//
// Completion-before-reuse guarantees for buffers follow from the stream
// ordering: work launched later on the same stream observes all writes of
// work launched earlier. There is no ordering across different streams.
type Stream struct {
	engine *Engine

	mu     sync.Mutex
	queue  chan func()
	closed bool

	pending *xsync.DynamicWaitGroup
}

// NewStream creates a new execution stream.
//
// Call Finalize when done with it to stop its goroutine.
func (e *Engine) NewStream() *Stream {
	s := &Stream{
		engine:  e,
		queue:   make(chan func(), streamQueueDepth),
		pending: xsync.NewDynamicWaitGroup(),
	}
	go s.run()
	return s
}

// DefaultStream returns the engine's default stream, creating it on first use.
func (e *Engine) DefaultStream() *Stream {
	e.defaultStreamOnce.Do(func() {
		e.defaultStream = e.NewStream()
	})
	return e.defaultStream
}

// Engine that owns the stream.
func (s *Stream) Engine() *Engine { return s.engine }

// run executes the issued work in order. It exits when the stream is finalized.
func (s *Stream) run() {
	for task := range s.queue {
		task()
		s.pending.Done()
	}
}

// Launch issues work onto the stream and returns once the launch is issued --
// not once the work completed. There is no cancellation of issued work.
func (s *Stream) Launch(task func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		panic("Launch on a finalized stream")
	}
	s.pending.Add(1)
	s.mu.Unlock()
	s.queue <- task
}

// Synchronize blocks until all work issued on the stream so far has completed.
func (s *Stream) Synchronize() {
	s.pending.Wait()
}

// Finalize synchronizes and then shuts down the stream goroutine.
// The stream must not be used afterward.
func (s *Stream) Finalize() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
	close(s.queue)
}
