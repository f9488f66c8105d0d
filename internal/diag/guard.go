package diag

import (
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/VladMinzatu/selfdiag/internal/unwind"
)

// Guard runs fn with faults turned into panics and hands a fault to h as the
// signal that caused it, along with the registers at the point of recovery.
// Panics that are not faults propagate unchanged.
func (h *Handler) Guard(fn func()) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer h.Recover()
	fn()
}

// Guard runs fn under the default handler.
func Guard(fn func()) {
	Default().Guard(fn)
}

// Recover handles a fault panic. It must be deferred directly:
//
//	defer h.Recover()
func (h *Handler) Recover() {
	r := recover()
	if r == nil {
		return
	}
	sig, ok := faultSignal(r)
	if !ok {
		panic(r)
	}
	var ctx *unwind.SignalContext
	if h.arch.CanDumpRegisters() {
		unwind.ReserveStack()
		ctx = h.arch.Snapshot()
	}
	h.Handle(sig, ctx)
}

// faultSignal maps a runtime panic back to the signal the runtime turned into
// it.
func faultSignal(r any) (syscall.Signal, bool) {
	err, ok := r.(runtime.Error)
	if !ok {
		return 0, false
	}
	// faults at a known address, from SetPanicOnFault
	if _, ok := r.(interface{ Addr() uintptr }); ok {
		return syscall.SIGSEGV, true
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "nil pointer dereference"), strings.Contains(msg, "invalid memory address"):
		return syscall.SIGSEGV, true
	case strings.Contains(msg, "integer divide by zero"), strings.Contains(msg, "integer overflow"):
		return syscall.SIGFPE, true
	}
	return 0, false
}
