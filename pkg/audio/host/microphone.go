package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/medinterp/pkg/audio"
)

var (
	_ audio.Source  = (*Microphone)(nil)
	_ audio.Capture = (*capture)(nil)
)

// periodMillis is the miniaudio callback period.
const periodMillis = 20

// Microphone is an [audio.Source] on the default capture device. Each
// [Microphone.Start] opens a fresh device that lives until the capture ends.
type Microphone struct {
	ctx      malgo.Context
	rate     int
	channels int
}

// Start implements [audio.Source].
func (m *Microphone) Start(ctx context.Context) (audio.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(m.channels)
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInMilliseconds = periodMillis

	c := &capture{rate: m.rate, channels: m.channels}
	dev, err := malgo.InitDevice(m.ctx, cfg, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		return nil, fmt.Errorf("%w: open microphone: %v", audio.ErrDevice, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start microphone: %v", audio.ErrDevice, err)
	}
	c.device = dev
	return c, nil
}

// capture accumulates float frames delivered by the miniaudio callback.
type capture struct {
	rate     int
	channels int
	device   *malgo.Device

	mu      sync.Mutex
	samples []float32
	closed  bool
}

// onData runs on the miniaudio thread.
func (c *capture) onData(_, input []byte, _ uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.samples = appendF32LE(c.samples, input)
}

// Stop implements [audio.Capture].
func (c *capture) Stop() (audio.Recording, error) {
	if err := c.close(); err != nil {
		return audio.Recording{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := audio.Recording{Samples: c.samples, SampleRate: c.rate, Channels: c.channels}
	c.samples = nil
	return rec, nil
}

// Abort implements [audio.Capture].
func (c *capture) Abort() {
	_ = c.close()
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}

func (c *capture) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dev := c.device
	c.mu.Unlock()

	if dev == nil {
		return nil
	}
	defer dev.Uninit()
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("%w: stop microphone: %v", audio.ErrDevice, err)
	}
	return nil
}

// appendF32LE decodes little-endian float32 samples from b onto dst. A
// trailing partial sample is ignored.
func appendF32LE(dst []float32, b []byte) []float32 {
	for i := 0; i+4 <= len(b); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	return dst
}
