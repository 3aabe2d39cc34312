// Package host binds [audio.Source] and [audio.Sink] to the machine's default
// microphone and speaker.
//
// Capture goes through miniaudio (github.com/gen2brain/malgo) as 32-bit float
// frames at the configured rate; playback goes through
// github.com/ebitengine/oto/v3 as 32-bit float mono at [audio.SampleRate].
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/medinterp/pkg/audio"
)

// Config configures the host devices.
type Config struct {
	// CaptureSampleRate is the rate the microphone is opened at.
	CaptureSampleRate int

	// CaptureChannels is the number of interleaved capture channels.
	CaptureChannels int

	// PlaybackBuffer is the speaker buffer size. Zero lets oto choose.
	PlaybackBuffer time.Duration
}

// Devices owns the miniaudio and oto contexts. Only one may exist per
// process because oto allows a single context.
type Devices struct {
	malgo *malgo.AllocatedContext
	oto   *oto.Context

	mic     *Microphone
	speaker *Speaker
}

// Open initialises both audio backends.
func Open(cfg Config) (*Devices, error) {
	if cfg.CaptureSampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid capture sample rate %d", audio.ErrDevice, cfg.CaptureSampleRate)
	}
	if cfg.CaptureChannels <= 0 {
		cfg.CaptureChannels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init capture backend: %v", audio.ErrDevice, err)
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.PlaybackBuffer,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init playback backend: %v", audio.ErrDevice, err)
	}
	<-ready

	slog.Info("audio devices ready",
		"capture", fmt.Sprintf("%dHz x%d", cfg.CaptureSampleRate, cfg.CaptureChannels),
		"playback", fmt.Sprintf("%dHz mono", audio.SampleRate),
	)
	return &Devices{
		malgo:   mctx,
		oto:     octx,
		mic:     &Microphone{ctx: mctx.Context, rate: cfg.CaptureSampleRate, channels: cfg.CaptureChannels},
		speaker: newSpeaker(octx),
	}, nil
}

// Microphone returns the capture source.
func (d *Devices) Microphone() *Microphone { return d.mic }

// Speaker returns the playback sink.
func (d *Devices) Speaker() *Speaker { return d.speaker }

// Close releases the capture backend. oto contexts cannot be closed; the
// speaker is only suspended.
func (d *Devices) Close() error {
	var errs []error
	if err := d.oto.Suspend(); err != nil {
		errs = append(errs, fmt.Errorf("suspend playback: %w", err))
	}
	if err := d.malgo.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("uninit capture: %w", err))
	}
	d.malgo.Free()
	return errors.Join(errs...)
}
