// Package mock provides in-memory implementations of [audio.Source],
// [audio.Capture] and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose fields the test sets to
// control return values.
//
// Typical usage:
//
//	src := &mock.Source{Recording: audio.Recording{Samples: tone, SampleRate: 48000}}
//	sink := &mock.Sink{}
//	m := session.New(session.Config{Source: src, Sink: sink, ...})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/medinterp/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Every successful Start
// returns a fresh [Capture] that yields Recording on Stop.
type Source struct {
	mu sync.Mutex

	// Recording is returned by the Stop method of every capture.
	Recording audio.Recording

	// StartError is returned by Start when non-nil.
	StartError error

	// StopError is returned by the Stop method of every capture.
	StopError error

	// Captures holds every capture handed out, in order.
	Captures []*Capture
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartError != nil {
		return nil, s.StartError
	}
	c := &Capture{recording: s.Recording, stopErr: s.StopError}
	s.Captures = append(s.Captures, c)
	return c, nil
}

// CaptureCount returns how many captures were started.
func (s *Source) CaptureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Captures)
}

// LastCapture returns the most recently started capture, or nil.
func (s *Source) LastCapture() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Captures) == 0 {
		return nil
	}
	return s.Captures[len(s.Captures)-1]
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu        sync.Mutex
	recording audio.Recording
	stopErr   error
	stopped   int
	aborted   int
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() (audio.Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	if c.stopErr != nil {
		return audio.Recording{}, c.stopErr
	}
	return c.recording, nil
}

// Abort implements [audio.Capture].
func (c *Capture) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted++
}

// Stopped reports how many times Stop was called.
func (c *Capture) Stopped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Aborted reports how many times Abort was called.
func (c *Capture) Aborted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil.
	PlayError error

	// Played records every buffer passed to Play, in order.
	Played []audio.AudioBuffer

	// notify, when set via [Sink.Notify], receives each played buffer.
	notify chan audio.AudioBuffer
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, buf audio.AudioBuffer) error {
	s.mu.Lock()
	s.Played = append(s.Played, buf)
	ch := s.notify
	err := s.PlayError
	s.mu.Unlock()
	if ch != nil {
		ch <- buf
	}
	return err
}

// Notify returns a channel that receives every buffer passed to Play from now
// on. The channel is buffered with capacity n; Play blocks when it is full.
func (s *Sink) Notify(n int) <-chan audio.AudioBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = make(chan audio.AudioBuffer, n)
	return s.notify
}

// PlayCount returns how many buffers were played.
func (s *Sink) PlayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}
