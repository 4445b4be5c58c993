// Package machine implements the Rubbish backplane: the passive carrier
// that owns the four shared buses and starts every attached device on
// its own goroutine.
package machine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/rlog"
)

var log = rlog.New("backplane")

// Device is anything the backplane can run: a starting address/size
// window plus a Run loop that returns when the device's running flag
// goes false.
type Device interface {
	ID() string
	StartingAddress() bus.Cell
	Size() bus.Cell
	Run(ctx context.Context) error
	Finished() bool
}

// Backplane owns the shared buses and the device registry.
type Backplane struct {
	Address   *bus.AddressBus
	Data      *bus.DataBus
	Control   *bus.ControlBus
	Interrupt *bus.InterruptBus

	devices []Device
}

// New builds an unpowered backplane with fresh, empty buses.
func New() *Backplane {
	return &Backplane{
		Address:   &bus.AddressBus{},
		Data:      &bus.DataBus{},
		Control:   &bus.ControlBus{},
		Interrupt: bus.NewInterruptBus(),
	}
}

// AddDevice registers a device. Overlap checking is advisory and lives
// in the builder, not here, matching the original machine builder's
// warn-don't-block behaviour.
func (bp *Backplane) AddDevice(d Device) {
	bp.devices = append(bp.devices, d)
}

// Devices returns the registered devices in attachment order.
func (bp *Backplane) Devices() []Device { return bp.devices }

// Run powers the bus on, starts every device concurrently, and blocks
// until every device's goroutine has returned (which happens once the
// halt interrupt is observed and each device's own loop unwinds).
func (bp *Backplane) Run(ctx context.Context) error {
	bp.Control.Lock()
	bp.Control.PowerUp()
	bp.Control.Unlock()

	log.Info("powered on with %d device(s)", len(bp.devices))

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range bp.devices {
		d := d
		g.Go(func() error {
			return d.Run(gctx)
		})
	}

	err := g.Wait()

	bp.Control.Lock()
	bp.Control.PowerDown()
	bp.Control.Unlock()

	log.Info("halted, power off")
	return err
}
