package app

import (
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/ayusman/targetlock/internal/capture"
)

// input is one frame waiting to be processed. frame is the owned BGR working
// copy; src carries the header and, for submitted frames, the original bytes.
type input struct {
	frame gocv.Mat
	src   capture.Frame
}

// frameSlot is a single-entry mailbox where the newest frame wins. A frame
// that is replaced before being taken is closed and counted as dropped.
type frameSlot struct {
	mu      sync.Mutex
	pending *input
	ready   chan struct{}
	dropped atomic.Uint64
}

func newFrameSlot() *frameSlot {
	return &frameSlot{ready: make(chan struct{}, 1)}
}

// Put stores in, replacing any pending frame. It never blocks.
func (s *frameSlot) Put(in *input) {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.frame.Close()
		s.dropped.Add(1)
	}
	s.pending = in
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Take removes and returns the pending frame, or nil.
func (s *frameSlot) Take() *input {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.pending
	s.pending = nil
	return in
}

// Ready is signalled after every Put.
func (s *frameSlot) Ready() <-chan struct{} {
	return s.ready
}

// Dropped returns how many frames were replaced before processing.
func (s *frameSlot) Dropped() uint64 {
	return s.dropped.Load()
}

// Drain releases a pending frame without counting it.
func (s *frameSlot) Drain() {
	if in := s.Take(); in != nil {
		in.frame.Close()
	}
}
