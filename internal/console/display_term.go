package console

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/rubbishvm/rubbish/internal/bus"
)

// TermDisplay renders a Console's output straight to stdout and feeds
// raw stdin keystrokes back in, for the headless/SSH case where no
// window system is available.
//
// Grounded on terminal_host.go's TerminalHost: raw mode via
// term.MakeRaw, a polling read loop on its own goroutine, and restoring
// terminal state on Stop.
type TermDisplay struct {
	console *Console

	fd       int
	oldState *term.State

	stopCh  chan struct{}
	done    chan struct{}
	stopped sync.Once
}

// NewTermDisplay wires a raw-terminal front end onto c.
func NewTermDisplay(c *Console) *TermDisplay {
	return &TermDisplay{
		console: c,
		fd:      int(os.Stdin.Fd()),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start puts the controlling terminal into raw mode, begins echoing the
// console's output to stdout, and feeds stdin bytes into c as
// keystrokes. Call Stop to restore the terminal.
func (d *TermDisplay) Start() error {
	old, err := term.MakeRaw(d.fd)
	if err != nil {
		return fmt.Errorf("console: raw mode: %w", err)
	}
	d.oldState = old

	d.console.OnOutput(func(g Grid) {
		d.redraw(g)
	})

	go d.readLoop()
	return nil
}

// Stop restores the terminal to its prior state and stops reading
// stdin. Safe to call more than once.
func (d *TermDisplay) Stop() {
	d.stopped.Do(func() {
		close(d.stopCh)
	})
	<-d.done
	if d.oldState != nil {
		_ = term.Restore(d.fd, d.oldState)
		d.oldState = nil
	}
}

func (d *TermDisplay) readLoop() {
	defer close(d.done)
	buf := make([]byte, 1)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			b := buf[0]
			if b == '\r' {
				b = '\n'
			}
			if b == 0x7F {
				b = 0x08
			}
			d.console.PushKey(bus.Cell(b))
		}
		if err != nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// redraw repaints the whole screen with a cursor-home-and-clear
// sequence; the grid is small enough that this is simpler and less
// failure-prone than tracking a diff against the last frame.
func (d *TermDisplay) redraw(g Grid) {
	fmt.Print("\x1b[H\x1b[2J")
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			ch := g.At(row, col).Ch
			if ch == 0 {
				ch = ' '
			}
			fmt.Print(string(ch))
		}
		fmt.Print("\r\n")
	}
}
