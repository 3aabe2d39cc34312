package host

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/medinterp/pkg/audio"
)

var _ audio.Sink = (*Speaker)(nil)

// drainPoll is how often Play checks whether the player has finished.
const drainPoll = 10 * time.Millisecond

// Speaker is an [audio.Sink] on the default output device. Buffers are
// played one after another; a second Play waits for the first to finish.
type Speaker struct {
	ctx *oto.Context
	mu  sync.Mutex
}

func newSpeaker(ctx *oto.Context) *Speaker {
	return &Speaker{ctx: ctx}
}

// Play implements [audio.Sink]. It returns once buf has been rendered or
// ctx is cancelled.
func (s *Speaker) Play(ctx context.Context, buf audio.AudioBuffer) error {
	if buf.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	player := s.ctx.NewPlayer(bytes.NewReader(encodeF32LE(audio.DecodeToNormalized(buf))))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// encodeF32LE serialises samples as little-endian float32.
func encodeF32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
