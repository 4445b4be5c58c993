// Package console implements the Rubbish console device: a one-cell
// memory-mapped port that multiplexes character output (through a grid
// with a small escape-sequence dialect) and keystroke input (through a
// queue that asserts a configured interrupt while non-empty).
//
// Grounded on the teacher's TerminalMMIO for the bus-dispatch and
// callback shape (HandleRead/HandleWrite under a lock, callbacks fired
// outside it), generalized from its register-per-concern layout down
// to Rubbish's single shared cell.
package console

import (
	"context"
	"runtime"
	"sync"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/device"
)

// escape-sequence parser states.
const (
	stateNormal = iota
	stateSawEsc
	stateSawBracket
)

// Console is the one-cell console device.
type Console struct {
	*device.Base

	interruptNumber int

	mu       sync.Mutex
	grid     *Grid
	input    []bus.Cell
	escState int
	param    int
	haveParam bool

	onOutput func(Grid)
}

// New constructs a console attached at start with a single-cell bus
// footprint and a width x height text grid, raising interruptNumber
// while keystrokes are queued.
func New(start bus.Cell, interruptNumber int, width, height int, b device.Buses) *Console {
	return &Console{
		Base:            device.NewBase("Console", start, 1, b),
		interruptNumber: interruptNumber,
		grid:            NewGrid(height, width),
	}
}

// Grid exposes the character buffer for a front end to render.
func (c *Console) Grid() *Grid { return c.grid }

// OnOutput registers a callback fired after every processed output
// byte, so a front end can redraw incrementally instead of polling.
func (c *Console) OnOutput(fn func(Grid)) {
	c.mu.Lock()
	c.onOutput = fn
	c.mu.Unlock()
}

// PushKey enqueues a keystroke to be delivered to the running program.
// Typically called by a front end (ebiten input callback, raw-mode
// terminal reader, or the Lua monitor's sendkey binding).
func (c *Console) PushKey(k bus.Cell) {
	c.mu.Lock()
	c.input = append(c.input, k)
	c.mu.Unlock()
}

// Run services one bus transaction per iteration: a write is processed
// as output, a read pops the next queued keystroke (or 0 if none).
func (c *Console) Run(ctx context.Context) error {
	for c.IsRunning() {
		select {
		case <-ctx.Done():
			c.SetFinished()
			return ctx.Err()
		default:
		}

		c.Control.Lock()
		c.StopIfHalted()
		if c.Control.PowerOn() && c.AddressValid() {
			if c.Control.WriteRequest() {
				ch := byte(c.Data.Get())
				c.Control.SetWriteRequest(false)
				c.Control.SetResponse(true)
				c.Control.Unlock()
				c.processOutput(ch)
				c.Control.Lock()
			}
			if c.Control.ReadRequest() {
				v := c.popKey()
				c.Data.Set(v)
				c.Control.SetReadRequest(false)
				c.Control.SetResponse(true)
			}
			c.assertOrClearInterrupt()
		}
		c.Control.Unlock()
		runtime.Gosched()
	}
	c.SetFinished()
	return nil
}

func (c *Console) assertOrClearInterrupt() {
	c.mu.Lock()
	pending := len(c.input) > 0
	c.mu.Unlock()
	if pending {
		c.Interrupt.Set(c.interruptNumber)
	} else {
		c.Interrupt.Clear(c.interruptNumber)
	}
}

func (c *Console) popKey() bus.Cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.input) == 0 {
		return 0
	}
	v := c.input[0]
	c.input = c.input[1:]
	return v
}

// processOutput runs one byte through the escape-sequence state
// machine and the grid's control-code handling.
func (c *Console) processOutput(b byte) {
	c.mu.Lock()

	handled := true
	switch c.escState {
	case stateSawEsc:
		switch {
		case b == 27:
			// Two ESC bytes in a row: treat the second as a literal.
			c.escState = stateNormal
			c.grid.PutChar(rune(b))
		case b == '[':
			c.escState = stateSawBracket
			c.param = 0
			c.haveParam = false
		default:
			// Anything else after a lone ESC is discarded.
			c.escState = stateNormal
		}
	case stateSawBracket:
		switch {
		case b >= '0' && b <= '9':
			c.param = c.param*10 + int(b-'0')
			c.haveParam = true
		case b == 'm':
			if c.haveParam && c.param >= 30 && c.param <= 37 {
				c.grid.SetColor(c.param - 30)
			}
			c.escState = stateNormal
		default:
			c.escState = stateNormal
		}
	default:
		handled = false
	}

	if !handled {
		switch b {
		case 13:
			c.grid.CarriageReturn()
		case 10:
			c.grid.LineFeed()
		case 9:
			c.grid.Tab()
		case 12:
			c.grid.Clear()
		case 8:
			c.grid.Backspace()
		case 27:
			c.escState = stateSawEsc
		default:
			c.grid.PutChar(rune(b))
		}
	}

	fn := c.onOutput
	g := c.grid.Clone()
	c.mu.Unlock()

	if fn != nil {
		fn(g)
	}
}
