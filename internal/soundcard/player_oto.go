//go:build !headless

// Package soundcard's default tone player, built on oto/v3. Grounded
// directly on the teacher's OtoPlayer (audio_backend_oto.go): one
// shared oto.Context, an io.Reader-backed player per tone so several
// tones in the same frame can play at once, player creation guarded
// by a mutex.
package soundcard

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const sampleRate = 44100

// OtoPlayer renders tones through the host's audio output.
type OtoPlayer struct {
	mu  sync.Mutex
	ctx *oto.Context
}

// NewOtoPlayer opens the shared oto playback context.
func NewOtoPlayer() (*OtoPlayer, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	return &OtoPlayer{ctx: ctx}, nil
}

// PlayTone streams durationMs worth of a sine wave at t.FreqHz, scaled
// by t.Volume, and blocks until it finishes or ctx is cancelled.
func (p *OtoPlayer) PlayTone(ctx context.Context, t Tone, durationMs int) {
	src := &toneReader{freq: t.FreqHz, volume: t.Volume, remaining: durationMs * sampleRate / 1000}

	p.mu.Lock()
	player := p.ctx.NewPlayer(src)
	p.mu.Unlock()

	player.Play()
	defer player.Close()

	deadline := time.After(time.Duration(durationMs) * time.Millisecond)
	select {
	case <-deadline:
	case <-ctx.Done():
	}
}

// Close does nothing: the shared oto context stays open for the life of
// the process.
func (p *OtoPlayer) Close() {}

// toneReader is an io.Reader producing a fixed-length sine wave.
type toneReader struct {
	freq, volume float64
	phase        float64
	remaining    int
}

func (t *toneReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n > t.remaining {
		n = t.remaining
	}
	step := 2 * math.Pi * t.freq / sampleRate
	for i := 0; i < n; i++ {
		sample := float32(math.Sin(t.phase) * t.volume)
		t.phase += step
		putFloat32LE(p[i*4:], sample)
	}
	t.remaining -= n
	written := n * 4
	if n == 0 {
		for i := written; i < len(p); i++ {
			p[i] = 0
		}
		written = len(p)
	}
	return written, nil
}

func putFloat32LE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
