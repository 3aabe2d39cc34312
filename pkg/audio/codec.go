package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// TransportChunkSize bounds how many PCM bytes are encoded or decoded per
// step when converting between [AudioBuffer] and transport text.
const TransportChunkSize = 8000

// ErrDecode is wrapped by every error returned for malformed transport text
// or misaligned PCM payloads.
var ErrDecode = errors.New("audio: decode")

// ErrInvalidRate is returned when a source sample rate is not positive.
var ErrInvalidRate = errors.New("audio: invalid sample rate")

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. The output holds round(len(src) * dstRate / srcRate)
// samples. If the rates are equal a copy of src is returned.
func Resample(src []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, srcRate, dstRate)
	}
	if len(src) == 0 {
		return []float32{}, nil
	}
	if srcRate == dstRate {
		out := make([]float32, len(src))
		copy(out, src)
		return out, nil
	}

	dstLen := int(math.Round(float64(len(src)) * float64(dstRate) / float64(srcRate)))
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(src) - 1

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= last {
			out[i] = src[last]
			continue
		}
		frac := srcPos - float64(srcIdx)
		s0, s1 := float64(src[srcIdx]), float64(src[srcIdx+1])
		out[i] = float32(s0*(1-frac) + s1*frac)
	}
	return out, nil
}

// Quantize converts normalized samples to PCM16. Each sample is clamped to
// [-1.0, 1.0] and scaled by 32768 when negative and by 32767 otherwise, so
// -1.0 maps to -32768 and 1.0 maps to 32767. Fractions truncate toward zero.
// NaN is treated as silence.
func Quantize(samples []float32) AudioBuffer {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantizeSample(s)
	}
	return AudioBuffer{samples: out}
}

func quantizeSample(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// ResampleAndEncode converts mono float audio captured at sourceRate into a
// canonical [AudioBuffer] at [SampleRate].
func ResampleAndEncode(source []float32, sourceRate int) (AudioBuffer, error) {
	resampled, err := Resample(source, sourceRate, SampleRate)
	if err != nil {
		return AudioBuffer{}, err
	}
	return Quantize(resampled), nil
}

// EncodeRecording downmixes, resamples and quantizes a device recording.
func EncodeRecording(rec Recording) (AudioBuffer, error) {
	return ResampleAndEncode(rec.Mono(), rec.SampleRate)
}

// DecodeToNormalized converts buf to floats in [-1.0, 1.0) by dividing each
// sample by 32768.
func DecodeToNormalized(buf AudioBuffer) []float32 {
	out := make([]float32, len(buf.samples))
	for i, s := range buf.samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += float64(interleaved[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// ToTransportText returns buf as base64-encoded little-endian PCM16. Samples
// are serialised [TransportChunkSize] bytes at a time so that no full-size
// intermediate byte slice is allocated.
func ToTransportText(buf AudioBuffer) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(buf.samples) * BytesPerSample))

	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	chunk := make([]byte, TransportChunkSize)
	perChunk := TransportChunkSize / BytesPerSample
	for start := 0; start < len(buf.samples); start += perChunk {
		end := min(start+perChunk, len(buf.samples))
		n := (end - start) * BytesPerSample
		putPCM(chunk[:n], buf.samples[start:end])
		// strings.Builder never fails a write.
		_, _ = enc.Write(chunk[:n])
	}
	_ = enc.Close()
	return sb.String()
}

// FromTransportText decodes base64 PCM16 text into an [AudioBuffer]. An
// optional scheme prefix such as "data:audio/pcm;base64," is stripped first.
// Malformed base64 or an odd number of decoded bytes yields an error wrapping
// [ErrDecode].
func FromTransportText(text string) (AudioBuffer, error) {
	text = StripDataURI(text)

	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(text))
	pcm := make([]byte, 0, base64.StdEncoding.DecodedLen(len(text)))
	chunk := make([]byte, TransportChunkSize)
	for {
		n, err := dec.Read(chunk)
		pcm = append(pcm, chunk[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return AudioBuffer{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	if len(pcm)%BytesPerSample != 0 {
		return AudioBuffer{}, fmt.Errorf("%w: odd byte count %d for 16-bit PCM", ErrDecode, len(pcm))
	}
	return bufferFromPCM(pcm), nil
}

// StripDataURI removes a leading "<scheme>," prefix. Base64 text never
// contains a comma, so everything up to the first comma is treated as the
// prefix.
func StripDataURI(text string) string {
	if _, after, found := strings.Cut(text, ","); found {
		return after
	}
	return text
}
