// Package diag prints a diagnostic report when the process receives a fatal
// or informational signal, and terminates it on fatal ones.
package diag

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
	"github.com/VladMinzatu/selfdiag/internal/unwind"
)

type State int32

const (
	Armed State = iota
	Handling
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Handling:
		return "handling"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// depth counts fatal signals being handled anywhere in the process. It has to
// outlive the handler invocation it guards, so it cannot belong to a Handler.
var depth atomic.Int32

type Handler struct {
	name       string
	executable string
	out        io.Writer
	exit       func(int)
	table      func() *symbolizer.ProcessSymbolTable
	maps       func() (ModuleMaps, error)
	arch       unwind.Arch
	mem        procmem.Reader
	floor      uint64
	maxFrames  int
	depth      *atomic.Int32

	state atomic.Int32

	mu         sync.Mutex
	signals    chan os.Signal
	stop       chan struct{}
	dispatched chan struct{}
}

func New(opts ...Option) *Handler {
	h := &Handler{
		name:  filepath.Base(os.Args[0]),
		out:   os.Stderr,
		exit:  os.Exit,
		table: symbolizer.Process,
		maps: func() (ModuleMaps, error) {
			return symbolizer.NewSelfMaps()
		},
		arch:  unwind.Current(),
		mem:   procmem.SelfReader(),
		depth: &depth,
	}
	if exe, err := os.Executable(); err == nil {
		h.executable = exe
	} else {
		h.executable = os.Args[0]
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var defaultHandler = sync.OnceValue(func() *Handler { return New() })

// Default returns the process-wide handler writing to stderr.
func Default() *Handler {
	return defaultHandler()
}

func (h *Handler) State() State {
	return State(h.state.Load())
}

// IsFatal reports whether sig terminates the process once reported.
func IsFatal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL, syscall.SIGFPE:
		return true
	}
	return false
}

func faultName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGSEGV:
		return "Segmentation Fault"
	case syscall.SIGBUS:
		return "Bus Error"
	case syscall.SIGILL:
		return "Illegal Instruction"
	case syscall.SIGFPE:
		return "Floating Point Exception"
	}
	return fmt.Sprintf("Signal %d", int(sig))
}

// Handle reports sig. ctx holds the registers at the point of the fault and
// may be nil, in which case the backtrace comes from the handling goroutine.
// Fatal signals end in exit(1); a fatal signal that arrives while one is
// already being handled exits at once, without a report.
func (h *Handler) Handle(sig syscall.Signal, ctx *unwind.SignalContext) {
	fatal := IsFatal(sig)
	if fatal {
		fmt.Fprintf(h.out, "%s trapped", faultName(sig))
		if h.depth.Add(1) > 1 {
			fmt.Fprintf(h.out, "\n")
			h.exit(1)
			return
		}
		fmt.Fprintf(h.out, " in %s.\n", h.name)
	} else {
		fmt.Fprintf(h.out, "Non-critical Signal %d trapped in %s.\n", int(sig), h.name)
	}

	prev := State(h.state.Swap(int32(Handling)))
	h.report(ctx)
	if fatal {
		h.writeGuidance()
		h.exit(1)
		return
	}
	h.state.Store(int32(prev))
}

func (h *Handler) report(ctx *unwind.SignalContext) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		if r := recover(); r != nil {
			// treated like a fault inside a signal handler
			h.Handle(syscall.SIGSEGV, nil)
		}
	}()
	h.writeReport(h.out, ctx, 3)
}

// Report writes the diagnostic report for the calling goroutine to w, without
// the banner and without terminating.
//
//go:noinline
func (h *Handler) Report(w io.Writer) {
	h.writeReport(w, nil, 2)
}

func (h *Handler) writeReport(w io.Writer, ctx *unwind.SignalContext, skip int) {
	fmt.Fprintf(w, "Printing Debug Information :\n")

	table := h.table()
	var maps ModuleMaps
	if h.maps != nil {
		m, err := h.maps()
		if err != nil {
			slog.Debug("Module maps unavailable", "error", err)
		} else {
			maps = m
		}
	}

	h.writeLibraries(w, table, maps)
	if ctx != nil {
		h.writeRegisters(w, ctx)
	}

	walker := &unwind.Walker{
		Memory:    h.mem,
		Fallback:  symbolizer.NewRuntimeSymbolizer(maps),
		Floor:     h.floor,
		MaxFrames: h.maxFrames,
	}
	if table.Available() {
		walker.Resolver = table
	}
	if ctx != nil && h.arch.HasFramePointers() {
		walker.Walk(w, ctx.FP, ctx.SP, ctx.IP)
		return
	}
	if !h.arch.CanCaptureReturnAddresses() {
		return
	}
	calls := unwind.CaptureCallList(skip)
	if calls.Len() > 0 {
		walker.WriteCalls(w, &calls)
	}
}

func (h *Handler) writeLibraries(w io.Writer, table *symbolizer.ProcessSymbolTable, maps ModuleMaps) {
	header := false
	emit := func(lib symbolizer.Library) {
		if !header {
			fmt.Fprintf(w, " Loaded dynamic libraries :\n")
			header = true
		}
		fmt.Fprintf(w, "   [0x%08X]:[%s]\n", lib.Base, lib.Path)
	}
	for lib := range table.Libraries() {
		emit(lib)
	}
	if header || maps == nil {
		return
	}
	// statically linked, no link map to walk
	for _, lib := range maps.Modules() {
		emit(lib)
	}
}

const registersPerLine = 4

func (h *Handler) writeRegisters(w io.Writer, ctx *unwind.SignalContext) {
	if len(ctx.Registers) == 0 {
		return
	}
	fmt.Fprintf(w, " Signal Context :\n")
	fmt.Fprintf(w, "  Registers\n")
	for i, r := range ctx.Registers {
		switch {
		case i == 0:
			fmt.Fprintf(w, "   ")
		case i%registersPerLine == 0:
			fmt.Fprintf(w, "\n   ")
		default:
			fmt.Fprintf(w, "  ")
		}
		fmt.Fprintf(w, "%s: 0x%08X", r.Name, r.Value)
	}
	fmt.Fprintf(w, "\n")
}

func (h *Handler) writeGuidance() {
	fmt.Fprintf(h.out, "Please collect all the listed information and submit a bug report.\n")
	fmt.Fprintf(h.out, "If core dump was generated by this fault, please examine it with gdb and attach results to your report.\n")
	fmt.Fprintf(h.out, " You can use the following sequence to do so :\n")
	fmt.Fprintf(h.out, "   gdb -core core %s\n", h.executable)
	fmt.Fprintf(h.out, "   gdb>backtrace\n")
	fmt.Fprintf(h.out, "   gdb>info frame\n")
	fmt.Fprintf(h.out, "   gdb>info all-registers\n")
	fmt.Fprintf(h.out, "   gdb>disassemble\n")
}
