package console

// Cell is one character position: the rune drawn there and the SGR
// foreground color index currently in effect (0-7, ANSI 30-37 minus
// the 30 offset).
type Cell struct {
	Ch    rune
	Color int
}

// Grid is the character buffer a console device renders into. It is
// not itself a bus device; Console owns one and drives it from the
// output-processing state machine.
type Grid struct {
	Rows, Cols int
	cells      [][]Cell
	row, col   int
	color      int
}

// DefaultRows and DefaultCols match a conventional 80x25 text screen.
const (
	DefaultRows = 25
	DefaultCols = 80
)

// NewGrid returns a cleared grid of the given dimensions.
func NewGrid(rows, cols int) *Grid {
	g := &Grid{Rows: rows, Cols: cols}
	g.cells = make([][]Cell, rows)
	for i := range g.cells {
		g.cells[i] = make([]Cell, cols)
	}
	return g
}

// Cursor returns the current write position.
func (g *Grid) Cursor() (row, col int) { return g.row, g.col }

// At returns the cell at (row, col).
func (g *Grid) At(row, col int) Cell { return g.cells[row][col] }

// Clone returns a deep copy, safe to read after the grid's owner has
// released its lock and kept mutating the original.
func (g *Grid) Clone() Grid {
	cp := Grid{Rows: g.Rows, Cols: g.Cols, row: g.row, col: g.col, color: g.color}
	cp.cells = make([][]Cell, len(g.cells))
	for i, row := range g.cells {
		cp.cells[i] = append([]Cell(nil), row...)
	}
	return cp
}

// Clear blanks the whole grid and homes the cursor, per FF (form feed).
func (g *Grid) Clear() {
	for r := range g.cells {
		for c := range g.cells[r] {
			g.cells[r][c] = Cell{Ch: ' ', Color: g.color}
		}
	}
	g.row, g.col = 0, 0
}

// PutChar writes a printable character at the cursor and advances it,
// wrapping to the next line (with scroll) at the right edge.
func (g *Grid) PutChar(ch rune) {
	g.cells[g.row][g.col] = Cell{Ch: ch, Color: g.color}
	g.col++
	if g.col >= g.Cols {
		g.col = 0
		g.newline()
	}
}

// CarriageReturn moves the cursor to column 0 (CR, 13).
func (g *Grid) CarriageReturn() { g.col = 0 }

// LineFeed moves the cursor down one row, scrolling if needed (LF, 10).
func (g *Grid) LineFeed() { g.newline() }

func (g *Grid) newline() {
	g.row++
	if g.row >= g.Rows {
		g.row = g.Rows - 1
		g.scroll()
	}
}

func (g *Grid) scroll() {
	copy(g.cells, g.cells[1:])
	last := make([]Cell, g.Cols)
	for i := range last {
		last[i] = Cell{Ch: ' ', Color: g.color}
	}
	g.cells[g.Rows-1] = last
}

// Tab advances the cursor four columns, clamped to the last column
// (HT, 9).
func (g *Grid) Tab() {
	next := g.col + 4
	if next >= g.Cols {
		next = g.Cols - 1
	}
	g.col = next
}

// Backspace moves the cursor left, wrapping to the end of the previous
// line's non-blank run (not the hard line end) at column 0, and erases
// the landing cell with a space (BS, 8).
func (g *Grid) Backspace() {
	if g.col > 0 {
		g.col--
	} else if g.row > 0 {
		g.row--
		g.col = g.lastNonSpaceColumn(g.row)
	}
	g.cells[g.row][g.col] = Cell{Ch: ' ', Color: g.color}
}

// lastNonSpaceColumn returns the column just past the last non-space
// character on row (or that character's own column when it sits in the
// last column), or 0 if the row is blank.
func (g *Grid) lastNonSpaceColumn(row int) int {
	for c := g.Cols - 1; c >= 0; c-- {
		if g.cells[row][c].Ch != ' ' && g.cells[row][c].Ch != 0 {
			if c+1 < g.Cols {
				return c + 1
			}
			return c
		}
	}
	return 0
}

// SetColor changes the foreground color used by subsequent PutChar
// calls, per an ESC [ <n> m sequence.
func (g *Grid) SetColor(n int) { g.color = n }
