// Command rubbish builds and runs a Rubbish machine from a flat list
// of device flags, in the spirit of the teacher's own main.go: a short
// banner, then straight into wiring devices and running.
//
// Flag parsing is grounded on the original Python CLI's
// parse_command_line (original_source/src/main.py): every device kind
// has an unnumbered flag plus up to ten numbered repeats, each holding
// a list of key=value parameters.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rubbishvm/rubbish/internal/buildcfg"
	"github.com/rubbishvm/rubbish/internal/console"
	"github.com/rubbishvm/rubbish/internal/machine"
	"github.com/rubbishvm/rubbish/internal/monitor"
	"github.com/rubbishvm/rubbish/internal/rlog"
	"github.com/rubbishvm/rubbish/internal/rtc"
	"github.com/rubbishvm/rubbish/internal/soundcard"
)

var log = rlog.New("rubbish")

var deviceKinds = []string{"ram", "rom", "processor", "console", "compiler", "soundcard", "rtc"}

const maxNumberedFlags = 10

func banner() {
	fmt.Println("Rubbish — a small 32-bit fantasy machine")
	fmt.Println("Session started.")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rubbish", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: rubbish [--ram key=value...] [--ram1..10 key=value...] ... [--script path]")
		fmt.Fprintln(os.Stderr, "Device kinds:", strings.Join(deviceKinds, ", "))
	}

	flagValues := map[string]*multiFlag{}
	for _, kind := range deviceKinds {
		registerDeviceFlag(fs, flagValues, kind)
		for n := 1; n <= maxNumberedFlags; n++ {
			registerDeviceFlag(fs, flagValues, fmt.Sprintf("%s%d", kind, n))
		}
	}
	scriptPath := fs.String("script", "", "run a Lua script against the machine after boot")
	displayKind := fs.String("display", "ebiten", "console front end: ebiten, term, or none")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	var specs []buildcfg.DeviceSpec
	for _, kind := range deviceKinds {
		for _, name := range numberedNames(kind) {
			mf := flagValues[name]
			if mf == nil || len(mf.params) == 0 {
				continue
			}
			specs = append(specs, buildcfg.DeviceSpec{Kind: kind, Params: mf.params})
		}
	}

	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "no devices configured. Use --help for help.")
		return 1
	}

	banner()

	newPlayer := func() (buildcfg.Player, error) { return soundcard.NewOtoPlayer() }

	bp, err := buildcfg.Build(specs, newPlayer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		fmt.Fprintln(os.Stderr, "Use --help for help.")
		return 1
	}

	if *scriptPath != "" {
		go runMonitorScript(*scriptPath, bp)
	}

	stopDisplay := startDisplay(*displayKind, bp)
	defer stopDisplay()

	if err := buildcfg.Run(bp); err != nil {
		log.Fatalf("machine stopped: %v", err)
		return 1
	}
	return 0
}

// startDisplay attaches the requested console front end to the first
// console device found, if any, and returns a function that tears it
// back down. "none" and a machine with no console device are both
// valid: the machine still runs, just without a visible screen.
func startDisplay(kind string, bp *machine.Backplane) func() {
	if kind == "none" {
		return func() {}
	}
	var con *console.Console
	for _, d := range bp.Devices() {
		if c, ok := d.(*console.Console); ok {
			con = c
			break
		}
	}
	if con == nil {
		return func() {}
	}

	switch kind {
	case "term":
		td := console.NewTermDisplay(con)
		if err := td.Start(); err != nil {
			log.Warn("console: %v", err)
			return func() {}
		}
		return td.Stop
	case "ebiten":
		ed := console.NewEbitenDisplay(con)
		go func() {
			if err := ed.Run(); err != nil {
				log.Warn("console: %v", err)
			}
		}()
		return func() {}
	default:
		log.Warn("unknown display %q; running headless", kind)
		return func() {}
	}
}

func runMonitorScript(path string, bp *machine.Backplane) {
	var con *console.Console
	var clock *rtc.RTC
	for _, d := range bp.Devices() {
		if c, ok := d.(*console.Console); ok {
			con = c
		}
		if r, ok := d.(*rtc.RTC); ok {
			clock = r
		}
	}
	if err := monitor.RunScript(path, &monitor.Machine{Backplane: bp, Console: con, RTC: clock}); err != nil {
		log.Warn("script %s: %v", path, err)
	}
}

// multiFlag accumulates key=value pairs given to one --kind flag. Each
// flag takes a single argument, split on whitespace, so the pairs are
// passed quoted together (`--kind "k=v k=v"`) or by repeating the flag
// (`--kind k=v --kind k=v`). An unquoted `--kind k=v k=v` ends flag
// parsing at the second pair, and everything from there on is ignored.
type multiFlag struct {
	params map[string]string
}

func (m *multiFlag) String() string {
	if m == nil {
		return ""
	}
	var parts []string
	for k, v := range m.params {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func (m *multiFlag) Set(value string) error {
	for _, pair := range strings.Fields(value) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		if m.params == nil {
			m.params = map[string]string{}
		}
		m.params[k] = v
	}
	return nil
}

func registerDeviceFlag(fs *flag.FlagSet, into map[string]*multiFlag, name string) {
	mf := &multiFlag{}
	into[name] = mf
	fs.Var(mf, name, fmt.Sprintf("device parameters for --%s, e.g. address=0 size=1024", name))
}

func numberedNames(kind string) []string {
	names := []string{kind}
	for n := 1; n <= maxNumberedFlags; n++ {
		names = append(names, fmt.Sprintf("%s%d", kind, n))
	}
	return names
}
