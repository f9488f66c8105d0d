package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/VladMinzatu/selfdiag/internal/diag"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
)

var cfg struct {
	verbose bool
	crash   struct {
		kind string
	}
	signal struct {
		name string
		wait time.Duration
	}
	resolve struct {
		addrs []string
	}
}

var signals = map[string]syscall.Signal{
	"segv": syscall.SIGSEGV,
	"bus":  syscall.SIGBUS,
	"usr1": syscall.SIGUSR1,
	"usr2": syscall.SIGUSR2,
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Exercises the in-process crash diagnostics.")
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable debug logging.").Short('v').Default("false").BoolVar(&cfg.verbose)

	crashCmd := app.Command("crash", "Fault inside a guarded function.")
	crashCmd.Flag("kind", "Kind of fault: nil or divide.").Default("nil").EnumVar(&cfg.crash.kind, "nil", "divide")

	signalCmd := app.Command("signal", "Install the handler and send a signal to ourselves.")
	signalCmd.Arg("name", "Signal to send: segv, bus, usr1 or usr2.").Default("usr1").EnumVar(&cfg.signal.name, "segv", "bus", "usr1", "usr2")
	signalCmd.Flag("wait", "How long to wait for the handler.").Default("2s").DurationVar(&cfg.signal.wait)

	reportCmd := app.Command("report", "Print the diagnostic report of this goroutine and continue.")

	tableCmd := app.Command("table", "Describe the dynamic symbol table of this process.")

	resolveCmd := app.Command("resolve", "Resolve addresses against the dynamic symbol table.")
	resolveCmd.Arg("addr", "Addresses, in hex with 0x prefix or decimal.").Required().StringsVar(&cfg.resolve.addrs)

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	if cfg.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	var err error
	switch cmd {
	case crashCmd.FullCommand():
		diag.Guard(func() { crash(cfg.crash.kind) })
	case signalCmd.FullCommand():
		err = sendSignal(signals[cfg.signal.name], cfg.signal.wait)
	case reportCmd.FullCommand():
		diag.Default().Report(os.Stdout)
	case tableCmd.FullCommand():
		describeTable()
	case resolveCmd.FullCommand():
		err = resolve(cfg.resolve.addrs)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

var divisor = 0

//go:noinline
func crash(kind string) {
	switch kind {
	case "divide":
		fmt.Println(1 / divisor)
	default:
		var p *[16]byte
		p[3] = 1
	}
}

func sendSignal(sig syscall.Signal, wait time.Duration) error {
	diag.InstallFatalSignalHandler(syscall.SIGSEGV)
	diag.Default().Install(syscall.SIGBUS, syscall.SIGUSR1, syscall.SIGUSR2)
	defer diag.Default().Stop()

	if err := unix.Kill(unix.Getpid(), sig); err != nil {
		return fmt.Errorf("send %s: %w", sig, err)
	}
	// fatal signals never get here
	time.Sleep(wait)
	return nil
}

func describeTable() {
	table := symbolizer.Process()
	fmt.Println(table.DebugString())
	if !table.HasLibraries() {
		fmt.Println("no link map, the executable is statically linked")
		return
	}
	for lib := range table.Libraries() {
		fmt.Printf("[0x%08X]:[%s]\n", lib.Base, lib.Path)
	}
}

func resolve(addrs []string) error {
	table := symbolizer.Process()
	for _, a := range addrs {
		addr, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return fmt.Errorf("parse address %q: %w", a, err)
		}
		name, off := table.Resolve(addr)
		if off == symbolizer.UnresolvedOffset {
			fmt.Printf("0x%X  %s\n", addr, name)
			continue
		}
		fmt.Printf("0x%X  %s+0x%X(%d)\n", addr, name, off, off)
	}
	return nil
}
