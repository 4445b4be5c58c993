// Package buildcfg turns a flat list of device specifications (as
// produced by cmd/rubbish's flag parsing) into a wired-up Backplane.
//
// Grounded on class_machine_builder.py's attach_device dispatch: each
// spec names a device kind plus a handful of key=value parameters, and
// is turned into a concrete device wired to the backplane's four
// shared buses. Unlike the original's overlap check (which appears to
// stop after looking at only the first other device), Build's overlap
// check walks every device added before it and warns about each overlap
// it finds — it never blocks a build.
package buildcfg

import (
	"context"
	"fmt"
	"time"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/compiler"
	"github.com/rubbishvm/rubbish/internal/console"
	"github.com/rubbishvm/rubbish/internal/cpu"
	"github.com/rubbishvm/rubbish/internal/device"
	"github.com/rubbishvm/rubbish/internal/machine"
	"github.com/rubbishvm/rubbish/internal/memory"
	"github.com/rubbishvm/rubbish/internal/rlog"
	"github.com/rubbishvm/rubbish/internal/rtc"
	"github.com/rubbishvm/rubbish/internal/soundcard"
)

var log = rlog.New("builder")

// DeviceSpec describes one --<kind>[N] flag's worth of key=value pairs.
type DeviceSpec struct {
	Kind   string
	Params map[string]string
}

// Player is the sound backend a soundcard spec attaches to; callers
// supply the concrete oto-backed or headless implementation so this
// package doesn't need a build tag of its own.
type Player = soundcard.Player

// Build validates and wires every spec onto a fresh Backplane.
func Build(specs []DeviceSpec, newPlayer func() (Player, error)) (*machine.Backplane, error) {
	bp := machine.New()
	b := device.Buses{Address: bp.Address, Data: bp.Data, Control: bp.Control, Interrupt: bp.Interrupt}

	type window struct {
		kind         string
		start, size  bus.Cell
	}
	var windows []window
	checkOverlap := func(kind string, start, size bus.Cell) {
		for _, w := range windows {
			if start < w.start+w.size && w.start < start+size {
				log.Warn("%s at [%d,%d) overlaps %s at [%d,%d)", kind, start, start+size, w.kind, w.start, w.start+w.size)
			}
		}
		windows = append(windows, window{kind, start, size})
	}

	for _, spec := range specs {
		switch spec.Kind {
		case "ram":
			start, size, err := addressAndSize(spec)
			if err != nil {
				return nil, err
			}
			checkOverlap(spec.Kind, start, size)
			ram := memory.NewRAM(start, size, b)
			if prog, ok := spec.Params["program"]; ok {
				code, err := compiler.New(start).Compile(prog)
				if err != nil {
					return nil, fmt.Errorf("compiling %s: %w", prog, err)
				}
				if bus.Cell(len(code)) > size {
					log.Warn("program %s (%d cells) exceeds ram size %d; truncating", prog, len(code), size)
					code = code[:size]
				}
				if err := ram.LoadData(code); err != nil {
					return nil, err
				}
			}
			bp.AddDevice(ram)

		case "compiler":
			// Mirrors the original builder's "compiler" device: a
			// program is assembled and loaded into a freshly created
			// RAM device, which is what actually gets attached to the
			// backplane.
			start, size, err := addressAndSize(spec)
			if err != nil {
				return nil, err
			}
			prog, err := requireParam(spec, "program")
			if err != nil {
				return nil, err
			}
			checkOverlap(spec.Kind, start, size)
			code, err := compiler.New(start).Compile(prog)
			if err != nil {
				return nil, fmt.Errorf("compiling %s: %w", prog, err)
			}
			if bus.Cell(len(code)) > size {
				log.Warn("program %s (%d cells) exceeds ram size %d; truncating", prog, len(code), size)
				code = code[:size]
			}
			ram := memory.NewRAM(start, size, b)
			if err := ram.LoadData(code); err != nil {
				return nil, err
			}
			bp.AddDevice(ram)

		case "rom":
			start, size, err := addressAndSize(spec)
			if err != nil {
				return nil, err
			}
			checkOverlap(spec.Kind, start, size)
			var image []bus.Cell
			if prog, ok := spec.Params["program"]; ok {
				image, err = compiler.New(start).Compile(prog)
				if err != nil {
					return nil, fmt.Errorf("compiling %s: %w", prog, err)
				}
			}
			rom, err := memory.NewROM(start, size, image, b)
			if err != nil {
				return nil, err
			}
			bp.AddDevice(rom)

		case "processor":
			start, size, err := addressAndSize(spec)
			if err != nil {
				start, size = 0, 0
			}
			bp.AddDevice(cpu.New(start, size, b))

		case "console":
			start, err := address(spec)
			if err != nil {
				return nil, err
			}
			interrupt, err := intParam(spec, "interrupt")
			if err != nil {
				return nil, err
			}
			width, err := intParam(spec, "width")
			if err != nil {
				return nil, err
			}
			height, err := intParam(spec, "height")
			if err != nil {
				return nil, err
			}
			checkOverlap(spec.Kind, start, 1)
			bp.AddDevice(console.New(start, interrupt, width, height, b))

		case "soundcard":
			start, err := address(spec)
			if err != nil {
				return nil, err
			}
			checkOverlap(spec.Kind, start, 1)
			player, err := newPlayer()
			if err != nil {
				return nil, fmt.Errorf("audio backend: %w", err)
			}
			bp.AddDevice(soundcard.New(start, player, b))

		case "rtc":
			start, err := address(spec)
			if err != nil {
				return nil, err
			}
			interrupt, err := intParam(spec, "interrupt")
			if err != nil {
				return nil, err
			}
			interval := time.Second
			if s, ok := spec.Params["interval_ms"]; ok {
				ms, err := intFromString(s)
				if err != nil {
					return nil, err
				}
				interval = time.Duration(ms) * time.Millisecond
			}
			checkOverlap(spec.Kind, start, rtc.Size)
			bp.AddDevice(rtc.New(start, interrupt, interval, b))

		default:
			log.Warn("device %q not found", spec.Kind)
		}
	}

	return bp, nil
}

func requireParam(spec DeviceSpec, key string) (string, error) {
	v, ok := spec.Params[key]
	if !ok {
		return "", fmt.Errorf("%s: missing required parameter %q", spec.Kind, key)
	}
	return v, nil
}

func intParam(spec DeviceSpec, key string) (int, error) {
	s, err := requireParam(spec, key)
	if err != nil {
		return 0, err
	}
	return intFromString(s)
}

func intFromString(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func address(spec DeviceSpec) (bus.Cell, error) {
	n, err := intParam(spec, "address")
	return bus.Cell(n), err
}

func addressAndSize(spec DeviceSpec) (bus.Cell, bus.Cell, error) {
	start, err := address(spec)
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(spec, "size")
	if err != nil {
		return 0, 0, err
	}
	return start, bus.Cell(size), nil
}

// Run is a thin convenience wrapper so cmd/rubbish doesn't need to
// import context itself just to call Backplane.Run.
func Run(bp *machine.Backplane) error {
	return bp.Run(context.Background())
}
