//go:build !headless

package console

import (
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.design/x/clipboard"
	"golang.org/x/image/font/basicfont"

	"github.com/rubbishvm/rubbish/internal/bus"
)

const (
	cellWidth  = 8
	cellHeight = 13
)

// sgrPalette maps the SGR foreground codes the grid understands (30-37)
// onto concrete colors; index 0 is the default (no SGR seen yet).
var sgrPalette = [8]color.Color{
	color.RGBA{0xd0, 0xd0, 0xd0, 0xff}, // default / black background text
	color.RGBA{0xcc, 0x00, 0x00, 0xff}, // 31 red
	color.RGBA{0x00, 0xaa, 0x00, 0xff}, // 32 green
	color.RGBA{0xcc, 0xcc, 0x00, 0xff}, // 33 yellow
	color.RGBA{0x33, 0x66, 0xff, 0xff}, // 34 blue
	color.RGBA{0xcc, 0x00, 0xcc, 0xff}, // 35 magenta
	color.RGBA{0x00, 0xaa, 0xaa, 0xff}, // 36 cyan
	color.RGBA{0xff, 0xff, 0xff, 0xff}, // 37 white
}

// EbitenDisplay renders a Console's Grid in its own window and feeds
// keystrokes back into the Console. Grounded on video_backend_ebiten.go's
// EbitenOutput: a buffered snapshot protected by a mutex, consumed from
// Ebiten's own update/draw goroutine, plus the same Ctrl+Shift+V
// clipboard-paste convention.
type EbitenDisplay struct {
	console *Console

	mu   sync.RWMutex
	grid Grid

	clipboardOnce sync.Once
	clipboardOK   bool

	face text.Face
}

// NewEbitenDisplay wires a display onto c; c.OnOutput is overwritten to
// keep the display's snapshot current.
func NewEbitenDisplay(c *Console) *EbitenDisplay {
	d := &EbitenDisplay{console: c, grid: c.Grid().Clone(), face: text.NewGoXFace(basicfont.Face7x13)}
	c.OnOutput(func(g Grid) {
		d.mu.Lock()
		d.grid = g
		d.mu.Unlock()
	})
	return d
}

// Run opens the window and blocks until it is closed. Call it from its
// own goroutine; closing the window does not halt the machine.
func (d *EbitenDisplay) Run() error {
	g := d.console.Grid()
	ebiten.SetWindowSize(g.Cols*cellWidth, g.Rows*cellHeight)
	ebiten.SetWindowTitle("rubbish console")
	ebiten.SetWindowResizable(true)
	return ebiten.RunGame(d)
}

func (d *EbitenDisplay) Update() error {
	d.handleKeyboard()
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	d.mu.RLock()
	g := d.grid
	d.mu.RUnlock()

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			cell := g.At(row, col)
			if cell.Ch == 0 || cell.Ch == ' ' {
				continue
			}
			col0 := sgrPalette[0]
			if cell.Color >= 0 && cell.Color < len(sgrPalette) {
				col0 = sgrPalette[cell.Color]
			}
			op := &text.DrawOptions{}
			op.GeoM.Translate(float64(col*cellWidth), float64(row*cellHeight))
			op.ColorScale.ScaleWithColor(col0)
			text.Draw(screen, string(cell.Ch), d.face, op)
		}
	}
}

func (d *EbitenDisplay) Layout(_, _ int) (int, int) {
	g := d.console.Grid()
	return g.Cols * cellWidth, g.Rows * cellHeight
}

func (d *EbitenDisplay) handleKeyboard() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	shift := ebiten.IsKeyPressed(ebiten.KeyShiftLeft) || ebiten.IsKeyPressed(ebiten.KeyShiftRight)

	if ctrl && shift && inpututil.IsKeyJustPressed(ebiten.KeyV) {
		d.pasteClipboard()
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		if r > 0 && r <= 0xFF {
			d.console.PushKey(bus.Cell(r))
		}
	}

	type seqKey struct {
		key ebiten.Key
		b   bus.Cell
	}
	for _, sk := range []seqKey{
		{ebiten.KeyEnter, 13},
		{ebiten.KeyNumpadEnter, 13},
		{ebiten.KeyBackspace, 8},
		{ebiten.KeyTab, 9},
		{ebiten.KeyEscape, 27},
	} {
		if inpututil.IsKeyJustPressed(sk.key) {
			d.console.PushKey(sk.b)
		}
	}
}

func (d *EbitenDisplay) pasteClipboard() {
	d.clipboardOnce.Do(func() {
		d.clipboardOK = clipboard.Init() == nil
	})
	if !d.clipboardOK {
		return
	}
	data := clipboard.Read(clipboard.FmtText)
	for _, b := range data {
		d.console.PushKey(bus.Cell(b))
	}
}
