//go:build headless

package console

import "errors"

// EbitenDisplay is a headless stand-in so callers don't need a build
// tag of their own to construct one; Run always fails since there is
// no window system to open.
type EbitenDisplay struct{}

func NewEbitenDisplay(c *Console) *EbitenDisplay { return &EbitenDisplay{} }

func (d *EbitenDisplay) Run() error {
	return errors.New("console: ebiten display unavailable in a headless build")
}
