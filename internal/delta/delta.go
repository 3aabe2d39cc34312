// Package delta accumulates the streamed fragments of one in-flight response.
//
// A response from the interpretation service arrives as two independent
// ordered streams, transcript text and base64 audio. [Accumulator] keeps one
// [Stream] for each. Fragments are joined in arrival order only; ordering is
// the transport's responsibility.
package delta

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProtocolViolation is returned when a stream is used outside an active
// response: appending before [Accumulator.Begin], or finalizing twice.
var ErrProtocolViolation = errors.New("delta: protocol violation")

// Stream is an append-only buffer for one logical fragment stream. The zero
// value is inactive.
type Stream struct {
	name      string
	buf       strings.Builder
	count     int
	active    bool
	finalized bool
}

// Append adds fragment to the end of the stream.
func (s *Stream) Append(fragment string) error {
	if !s.active {
		return fmt.Errorf("%w: %s append with no active response", ErrProtocolViolation, s.name)
	}
	if s.finalized {
		return fmt.Errorf("%w: %s append after finalize", ErrProtocolViolation, s.name)
	}
	s.buf.WriteString(fragment)
	s.count++
	return nil
}

// String returns everything appended so far without finalizing.
func (s *Stream) String() string { return s.buf.String() }

// Len returns the number of fragments appended since the last reset.
func (s *Stream) Len() int { return s.count }

// Finalized reports whether Finalize has been called since the last reset.
func (s *Stream) Finalized() bool { return s.finalized }

// Finalize returns the joined payload and empties the stream. A second call
// without an intervening reset is a protocol violation.
func (s *Stream) Finalize() (string, error) {
	if !s.active {
		return "", fmt.Errorf("%w: %s finalize with no active response", ErrProtocolViolation, s.name)
	}
	if s.finalized {
		return "", fmt.Errorf("%w: %s finalized twice", ErrProtocolViolation, s.name)
	}
	out := s.buf.String()
	s.buf.Reset()
	s.count = 0
	s.finalized = true
	return out, nil
}

func (s *Stream) reset(active bool) {
	s.buf.Reset()
	s.count = 0
	s.active = active
	s.finalized = false
}

// Accumulator holds the text and audio streams of the current response.
// It is not safe for concurrent use; the session loop is its only user.
type Accumulator struct {
	Text  Stream
	Audio Stream
}

// New returns an inactive accumulator.
func New() *Accumulator {
	return &Accumulator{
		Text:  Stream{name: "text"},
		Audio: Stream{name: "audio"},
	}
}

// Begin discards any previous state and opens both streams for a new
// response.
func (a *Accumulator) Begin() {
	a.Text.reset(true)
	a.Audio.reset(true)
}

// Reset discards all buffered fragments and deactivates both streams.
func (a *Accumulator) Reset() {
	a.Text.reset(false)
	a.Audio.reset(false)
}

// Active reports whether a response is open.
func (a *Accumulator) Active() bool { return a.Text.active }

// Done reports whether both streams have been finalized.
func (a *Accumulator) Done() bool { return a.Text.finalized && a.Audio.finalized }
