// Package soundcard implements the Rubbish sound card: a one-cell
// command queue that accumulates Frame/Transaction sequences and plays
// them back, one transaction at a time, frames sequential and the
// tones within a frame concurrent.
//
// Grounded on the architecture of the original SoundCard (background
// thread spawned once the queue is non-empty, draining one transaction
// at a time) but using the expanded spec's sentinel values: -1 marks
// the end of a frame, -2 the end of a transaction. The original draft
// this is grounded on used 0 and -1 for the same two roles, which is a
// documented, deliberate divergence.
package soundcard

import (
	"context"
	"runtime"
	"sync"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

const (
	EndOfFrame       = -1
	EndOfTransaction = -2
)

// Tone is one (frequency, volume) pair sustained for a frame's duration.
type Tone struct {
	FreqHz float64
	Volume float64
}

// Frame is a set of tones played simultaneously for DurationMs.
type Frame struct {
	DurationMs int
	Tones      []Tone
}

// Player renders one tone for its duration and blocks until done.
// internal/soundcard/player_oto.go implements this with oto/v3;
// player_headless.go is a no-op stand-in for headless/CI builds.
type Player interface {
	PlayTone(ctx context.Context, t Tone, durationMs int)
	Close()
}

// SoundCard is the one-cell sound command device.
type SoundCard struct {
	*device.Base

	player Player

	mu       sync.Mutex
	queue    []bus.Cell
	draining bool
}

// New constructs a sound card attached at start with a single-cell bus
// footprint, using player to render tones.
func New(start bus.Cell, player Player, b device.Buses) *SoundCard {
	return &SoundCard{
		Base:   device.NewBase("SoundCard", start, 1, b),
		player: player,
	}
}

// Finished reports true once the device has stopped and its queue and
// any in-flight transaction have fully drained.
func (s *SoundCard) Finished() bool {
	if !s.Base.Finished() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.draining && len(s.queue) == 0
}

// Run appends each written command cell to the queue and, whenever the
// queue holds a complete transaction and no drain goroutine is running,
// spawns the background drain goroutine.
func (s *SoundCard) Run(ctx context.Context) error {
	for s.IsRunning() {
		select {
		case <-ctx.Done():
			s.SetFinished()
			return ctx.Err()
		default:
		}

		s.Control.Lock()
		s.StopIfHalted()
		if s.Control.PowerOn() && s.AddressValid() && s.Control.WriteRequest() {
			v := s.Data.Get()
			s.Control.SetWriteRequest(false)
			s.Control.SetResponse(true)
			s.Control.Unlock()

			s.enqueue(v, ctx)

			s.Control.Lock()
		}
		s.Control.Unlock()
		runtime.Gosched()
	}
	s.player.Close()
	s.SetFinished()
	return nil
}

func (s *SoundCard) enqueue(v bus.Cell, ctx context.Context) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	shouldDrain := !s.draining && hasCompleteTransaction(s.queue)
	if shouldDrain {
		s.draining = true
	}
	s.mu.Unlock()

	if shouldDrain {
		go s.drainLoop(ctx)
	}
}

func hasCompleteTransaction(q []bus.Cell) bool {
	for _, v := range q {
		if v == EndOfTransaction {
			return true
		}
	}
	return false
}

// drainLoop plays complete transactions until the queue no longer has
// one ready, then clears the draining flag so the next write restarts
// it.
func (s *SoundCard) drainLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		idx := indexOf(s.queue, EndOfTransaction)
		if idx < 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		txn := append([]bus.Cell(nil), s.queue[:idx]...)
		s.queue = s.queue[idx+1:]
		s.mu.Unlock()

		s.playTransaction(ctx, parseTransaction(txn))
	}
}

func indexOf(q []bus.Cell, v bus.Cell) int {
	for i, x := range q {
		if x == v {
			return i
		}
	}
	return -1
}

// parseTransaction splits a transaction's cells (sentinel already
// stripped) into frames on EndOfFrame markers.
func parseTransaction(cells []bus.Cell) []Frame {
	var frames []Frame
	start := 0
	for i, v := range cells {
		if v == EndOfFrame {
			frames = append(frames, parseFrame(cells[start:i]))
			start = i + 1
		}
	}
	return frames
}

// parseFrame turns duration_ms, (freq*100, vol*10)+ into a Frame.
func parseFrame(cells []bus.Cell) Frame {
	if len(cells) == 0 {
		return Frame{}
	}
	f := Frame{DurationMs: int(cells[0])}
	for i := 1; i+2 <= len(cells); i += 2 {
		freq := float64(cells[i]) / 100.0
		vol := float64(cells[i+1]) / 10.0
		f.Tones = append(f.Tones, Tone{FreqHz: freq, Volume: vol})
	}
	return f
}

// playTransaction plays every frame in order; within a frame, every
// tone plays concurrently and the frame waits for all of them.
func (s *SoundCard) playTransaction(ctx context.Context, frames []Frame) {
	for _, f := range frames {
		var wg sync.WaitGroup
		for _, t := range f.Tones {
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.player.PlayTone(ctx, t, f.DurationMs)
			}()
		}
		wg.Wait()
	}
}
