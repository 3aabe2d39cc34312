package audio

import (
	"encoding/binary"
	"fmt"
	"slices"
	"time"
)

// SampleRate is the canonical sample rate in Hz of every [AudioBuffer]. Audio
// crossing the session transport in either direction uses this rate.
const SampleRate = 24000

// BytesPerSample is the width of one canonical PCM16 sample on the wire.
const BytesPerSample = 2

// AudioBuffer is an ordered sequence of signed 16-bit mono samples at
// [SampleRate]. Its length is fixed at construction; the zero value is an
// empty buffer.
//
// Buffers are handed from producer to consumer by value. The backing slice is
// never exposed, so a consumer cannot mutate a buffer it did not create.
type AudioBuffer struct {
	samples []int16
}

// NewAudioBuffer returns a buffer holding a copy of samples.
func NewAudioBuffer(samples []int16) AudioBuffer {
	return AudioBuffer{samples: slices.Clone(samples)}
}

// bufferFromPCM decodes little-endian PCM16 bytes. len(pcm) must be even.
func bufferFromPCM(pcm []byte) AudioBuffer {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return AudioBuffer{samples: samples}
}

// Len returns the number of samples in b.
func (b AudioBuffer) Len() int { return len(b.samples) }

// At returns the i-th sample. It panics if i is out of range.
func (b AudioBuffer) At(i int) int16 { return b.samples[i] }

// Samples returns a copy of the samples in b.
func (b AudioBuffer) Samples() []int16 { return slices.Clone(b.samples) }

// Bytes returns the samples of b as little-endian PCM16.
func (b AudioBuffer) Bytes() []byte {
	out := make([]byte, len(b.samples)*BytesPerSample)
	putPCM(out, b.samples)
	return out
}

// Duration returns the playback length of b at [SampleRate].
func (b AudioBuffer) Duration() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / SampleRate
}

// Equal reports whether b and other hold the same samples.
func (b AudioBuffer) Equal(other AudioBuffer) bool {
	return slices.Equal(b.samples, other.samples)
}

// putPCM writes samples into dst as little-endian PCM16. dst must hold at
// least len(samples)*2 bytes.
func putPCM(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// Recording is raw audio as delivered by a capture device: interleaved
// floating-point samples at an arbitrary rate and channel count.
type Recording struct {
	// Samples are interleaved frames, nominally in [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g. 48000 for most laptop microphones).
	SampleRate int

	// Channels per frame. Zero is treated as mono.
	Channels int
}

// Mono returns the recording downmixed to a single channel.
func (r Recording) Mono() []float32 {
	if r.Channels <= 1 {
		return r.Samples
	}
	return Downmix(r.Samples, r.Channels)
}

// Duration returns the length of the recording.
func (r Recording) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	ch := max(r.Channels, 1)
	frames := len(r.Samples) / ch
	return time.Duration(frames) * time.Second / time.Duration(r.SampleRate)
}

// String returns a human-readable description, e.g. "48000Hz stereo 1.2s".
func (r Recording) String() string {
	return fmt.Sprintf("%s %s", formatString(r.SampleRate, max(r.Channels, 1)), r.Duration())
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
