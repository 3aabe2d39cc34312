// Package audio holds the PCM codec and the device boundary of the
// interpretation client.
//
// Captured audio arrives as a [Recording] (float samples at whatever rate the
// microphone runs at). The codec turns it into a canonical [AudioBuffer]
// (signed 16-bit mono at [SampleRate]) and into base64 transport text; the
// reverse path decodes transport text back into a buffer for playback.
//
// The device boundary is three narrow interfaces:
//
//   - [Source] starts a [Capture] on the microphone.
//   - [Capture] is one in-progress recording; stopping it yields the audio.
//   - [Sink] plays a decoded [AudioBuffer] on the speaker.
//
// Real implementations live in audio/host; audio/mock provides fakes for
// tests.
package audio

import (
	"context"
	"errors"
)

// ErrDevice is wrapped by capture and playback adapters when the underlying
// device is missing or fails.
var ErrDevice = errors.New("audio: device")

// Source opens microphone captures.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins recording. ctx only bounds device start-up; the capture
	// keeps running until [Capture.Stop] or [Capture.Abort] is called.
	Start(ctx context.Context) (Capture, error)
}

// Capture is a single in-progress recording owned by exactly one caller.
type Capture interface {
	// Stop ends the recording and returns everything captured since Start.
	Stop() (Recording, error)

	// Abort ends the recording and discards the audio. Calling Abort after
	// Stop is a no-op.
	Abort()
}

// Sink plays audio on an output device.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play renders buf. It may return before playback has finished; ctx
	// cancels playback that is still running.
	Play(ctx context.Context, buf AudioBuffer) error
}
