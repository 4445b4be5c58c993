// Package rtc implements the Rubbish real-time clock device: an
// 8-cell broken-down UTC time with a configurable offset, ticking on
// an interval and raising a configured interrupt each time it does.
//
// Grounded on real_time_clock.py almost directly: same 8-cell layout,
// same per-iteration interval check performed every cycle regardless
// of bus activity, same read-does-not-auto-clear convention (the open
// question this leaves for the expanded spec to resolve explicitly;
// see DESIGN.md).
package rtc

import (
	"context"
	"runtime"
	"time"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

// Cell offsets within the device's 8-cell window.
const (
	OffsetUTCWhole = 0
	OffsetUTCFrac  = 1
	OffsetYear     = 2
	OffsetMonth    = 3
	OffsetDay      = 4
	OffsetHour     = 5
	OffsetMinute   = 6
	OffsetSecond   = 7

	Size = 8
)

// RTC is the real-time clock device.
type RTC struct {
	*device.Base

	interruptNumber int
	interval        time.Duration
	lastChecked     time.Time

	cells [Size]bus.Cell

	now func() time.Time
}

// New constructs an RTC attached at start, raising interruptNumber
// every interval.
func New(start bus.Cell, interruptNumber int, interval time.Duration, b device.Buses) *RTC {
	return &RTC{
		Base:            device.NewBase("RTC", start, Size, b),
		interruptNumber: interruptNumber,
		interval:        interval,
		now:             time.Now,
	}
}

// Run services bus transactions and, once per interval, recomputes the
// broken-down time and raises the tick interrupt.
func (r *RTC) Run(ctx context.Context) error {
	r.lastChecked = r.now()
	for r.IsRunning() {
		select {
		case <-ctx.Done():
			r.SetFinished()
			return ctx.Err()
		default:
		}

		r.Control.Lock()
		r.StopIfHalted()
		if r.Control.PowerOn() && r.AddressValid() {
			idx := r.Address.Get() - r.StartingAddress()
			if r.Control.ReadRequest() {
				r.Data.Set(r.cells[idx])
				r.Control.SetReadRequest(false)
				r.Control.SetResponse(true)
				// Deliberately does not clear the tick interrupt: a
				// handler must clear it explicitly, the same as every
				// other interrupt source on the bus.
			}
			if r.Control.WriteRequest() {
				r.cells[idx] = r.Data.Get()
				r.Control.SetWriteRequest(false)
				r.Control.SetResponse(true)
			}
		}
		r.checkInterval()
		r.Control.Unlock()
		runtime.Gosched()
	}
	r.SetFinished()
	return nil
}

// checkInterval recomputes the broken-down time and raises the tick
// interrupt once interval has elapsed. Callers must hold the control
// bus lock.
func (r *RTC) checkInterval() {
	now := r.now()
	if now.Sub(r.lastChecked) < r.interval {
		return
	}
	r.lastChecked = now

	offsetHours := float64(r.cells[OffsetUTCWhole]) + float64(r.cells[OffsetUTCFrac])/100.0
	t := now.UTC().Add(time.Duration(offsetHours * float64(time.Hour)))

	r.cells[OffsetYear] = bus.Cell(t.Year())
	r.cells[OffsetMonth] = bus.Cell(t.Month())
	r.cells[OffsetDay] = bus.Cell(t.Day())
	r.cells[OffsetHour] = bus.Cell(t.Hour())
	r.cells[OffsetMinute] = bus.Cell(t.Minute())
	r.cells[OffsetSecond] = bus.Cell(t.Second())

	r.Interrupt.Set(r.interruptNumber)
}
