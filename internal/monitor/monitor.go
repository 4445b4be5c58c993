// Package monitor is a Lua-scriptable hook for driving a running
// Rubbish machine from outside: peek and poke memory, send keystrokes,
// nudge the RTC, or halt the machine. It exists to give the teacher's
// unwired gopher-lua dependency a genuine role rather than dropping it:
// scripted external control is the natural use for a Lua binding in an
// emulator, the same role the teacher's own interactive debugger
// (debug_monitor.go) plays but driven by a script instead of a REPL.
package monitor

import (
	"github.com/yuin/gopher-lua"

	"github.com/rubbishvm/rubbish/internal/bus"
	"github.com/rubbishvm/rubbish/internal/console"
	"github.com/rubbishvm/rubbish/internal/machine"
	"github.com/rubbishvm/rubbish/internal/rtc"
)

// Machine is the subset of a running backplane a script can drive.
type Machine struct {
	Backplane *machine.Backplane
	Console   *console.Console // may be nil if no console is attached
	RTC       *rtc.RTC         // may be nil if no RTC is attached
}

// RunScript executes the Lua source at path against m, exposing
// peek(addr), poke(addr, value), sendkey(code), setrtc(whole, frac),
// and halt() to it.
func RunScript(path string, m *Machine) error {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("peek", L.NewFunction(func(L *lua.LState) int {
		addr := bus.Cell(L.CheckInt64(1))
		L.Push(lua.LNumber(peek(m, addr)))
		return 1
	}))

	L.SetGlobal("poke", L.NewFunction(func(L *lua.LState) int {
		addr := bus.Cell(L.CheckInt64(1))
		value := bus.Cell(L.CheckInt64(2))
		poke(m, addr, value)
		return 0
	}))

	L.SetGlobal("sendkey", L.NewFunction(func(L *lua.LState) int {
		if m.Console != nil {
			m.Console.PushKey(bus.Cell(L.CheckInt64(1)))
		}
		return 0
	}))

	L.SetGlobal("setrtc", L.NewFunction(func(L *lua.LState) int {
		if m.RTC != nil {
			whole := bus.Cell(L.CheckInt64(1))
			frac := bus.Cell(L.CheckInt64(2))
			poke(m, m.RTC.StartingAddress()+rtc.OffsetUTCWhole, whole)
			poke(m, m.RTC.StartingAddress()+rtc.OffsetUTCFrac, frac)
		}
		return 0
	}))

	L.SetGlobal("halt", L.NewFunction(func(L *lua.LState) int {
		m.Backplane.Control.Lock()
		m.Backplane.Interrupt.Set(bus.Halt)
		m.Backplane.Control.Unlock()
		return 0
	}))

	return L.DoFile(path)
}

// peek and poke perform a single bus transaction directly against the
// shared buses, the same protocol a device would use, except no
// device owns the address: the monitor is an honorary bus master.
func peek(m *Machine, addr bus.Cell) bus.Cell {
	m.Backplane.Control.Lock()
	m.Backplane.Address.Set(addr)
	m.Backplane.Control.SetReadRequest(true)
	m.Backplane.Control.Unlock()

	for {
		m.Backplane.Control.Lock()
		if m.Backplane.Control.PeekResponse() {
			break
		}
		m.Backplane.Control.Unlock()
	}
	v := m.Backplane.Data.Get()
	m.Backplane.Control.SetResponse(false)
	m.Backplane.Control.Unlock()
	return v
}

func poke(m *Machine, addr, value bus.Cell) {
	m.Backplane.Control.Lock()
	m.Backplane.Address.Set(addr)
	m.Backplane.Data.Set(value)
	m.Backplane.Control.SetWriteRequest(true)
	m.Backplane.Control.Unlock()

	for {
		m.Backplane.Control.Lock()
		if m.Backplane.Control.PeekResponse() {
			break
		}
		m.Backplane.Control.Unlock()
	}
	m.Backplane.Control.SetResponse(false)
	m.Backplane.Control.Unlock()
}
