//go:build headless

// Headless stand-in for OtoPlayer: no audio device, just waits out the
// requested duration so transaction pacing is observable in tests/CI
// without a sound backend.
package soundcard

import (
	"context"
	"time"
)

// OtoPlayer is named to match the non-headless build's exported type
// so callers (cmd/rubbish) don't need a build-tag switch of their own.
type OtoPlayer struct{}

// NewOtoPlayer returns a no-op player.
func NewOtoPlayer() (*OtoPlayer, error) { return &OtoPlayer{}, nil }

// PlayTone blocks for the frame's duration without producing sound.
func (p *OtoPlayer) PlayTone(ctx context.Context, t Tone, durationMs int) {
	select {
	case <-time.After(time.Duration(durationMs) * time.Millisecond):
	case <-ctx.Done():
	}
}

// Close is a no-op.
func (p *OtoPlayer) Close() {}
