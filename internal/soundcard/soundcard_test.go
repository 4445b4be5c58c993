package soundcard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []Tone
}

func (f *fakePlayer) PlayTone(ctx context.Context, t Tone, durationMs int) {
	f.mu.Lock()
	f.played = append(f.played, t)
	f.mu.Unlock()
}

func (f *fakePlayer) Close() {}

func newTestCard(t *testing.T) (*SoundCard, device.Buses, *fakePlayer) {
	t.Helper()
	b := device.Buses{
		Address:   &bus.AddressBus{},
		Data:      &bus.DataBus{},
		Control:   &bus.ControlBus{},
		Interrupt: bus.NewInterruptBus(),
	}
	b.Control.PowerUp()
	fp := &fakePlayer{}
	s := New(0, fp, b)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()
	return s, b, fp
}

func writeCell(t *testing.T, b device.Buses, v bus.Cell) {
	t.Helper()
	b.Control.Lock()
	b.Address.Set(0)
	b.Data.Set(v)
	b.Control.SetWriteRequest(true)
	b.Control.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.Control.Lock()
		if b.Control.PeekResponse() {
			b.Control.SetResponse(false)
			b.Control.Unlock()
			return
		}
		b.Control.Unlock()
	}
	t.Fatal("timed out writing to sound card")
}

func TestSoundCardPlaysOneFrameTransaction(t *testing.T) {
	_, b, fp := newTestCard(t)

	// One frame: 10ms, one tone (440 Hz, full volume), end of frame,
	// end of transaction.
	for _, v := range []bus.Cell{10, 44000, 10, EndOfFrame, EndOfTransaction} {
		writeCell(t, b, v)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		n := len(fp.played)
		fp.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.played) != 1 {
		t.Fatalf("played %d tones, want 1", len(fp.played))
	}
	if fp.played[0].FreqHz != 440 || fp.played[0].Volume != 1 {
		t.Fatalf("tone = %+v, want 440Hz/1.0", fp.played[0])
	}
}

func TestParseTransactionMultipleFrames(t *testing.T) {
	cells := []bus.Cell{
		100, 44000, 10, EndOfFrame,
		200, 22000, 5, 33000, 7, EndOfFrame,
	}
	frames := parseTransaction(cells)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].DurationMs != 100 || len(frames[0].Tones) != 1 {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].DurationMs != 200 || len(frames[1].Tones) != 2 {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
}
