// Package unwind captures and walks native call stacks of the running process.
package unwind

import (
	"runtime"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
)

// Register is one saved register, named the way the CPU manual names it.
type Register struct {
	Name  string
	Value uint64
}

// SignalContext is a read-only register snapshot taken at the point of a
// fault. Registers are kept in dump order.
type SignalContext struct {
	Registers []Register
	FP        uint64
	SP        uint64
	IP        uint64
}

// Arch describes what the current CPU and toolchain let us do.
type Arch interface {
	Name() string
	// HasFramePointers reports whether every frame keeps the classic
	// (saved frame pointer, return address) record at its frame pointer.
	HasFramePointers() bool
	CanCaptureReturnAddresses() bool
	CanDumpRegisters() bool
	// Snapshot returns the registers of the calling function's frame, or nil.
	// The frame described is only valid while the caller has not returned.
	Snapshot() *SignalContext
}

// Current returns the capabilities of the architecture the binary was built for.
func Current() Arch {
	return current
}

// None is an architecture that supports nothing. Everything written against
// Arch degrades to empty output with it.
type None struct{}

func (None) Name() string                    { return runtime.GOARCH }
func (None) HasFramePointers() bool          { return false }
func (None) CanCaptureReturnAddresses() bool { return false }
func (None) CanDumpRegisters() bool          { return false }
func (None) Snapshot() *SignalContext        { return nil }

// portable covers targets without a frame pointer convention we can rely on.
// The Go runtime still knows how to list return addresses there.
type portable struct{ None }

func (portable) CanCaptureReturnAddresses() bool { return true }

// framePointerArch is shared by targets whose frame record is laid out as
// [fp] saved frame pointer, [fp+word] return address.
type framePointerArch struct {
	fpName, spName, ipName string
}

func (*framePointerArch) Name() string                    { return runtime.GOARCH }
func (*framePointerArch) HasFramePointers() bool          { return true }
func (*framePointerArch) CanCaptureReturnAddresses() bool { return true }
func (*framePointerArch) CanDumpRegisters() bool          { return true }

// Snapshot must be reached through Arch without a generated wrapper frame in
// between, hence the pointer receiver.
//
//go:noinline
func (a *framePointerArch) Snapshot() *SignalContext {
	// our own frame record links to the caller's
	fp := uint64(framePointer())
	r := procmem.SelfReader()
	word := uint64(r.WordSize)
	callerFP, err := r.Word(fp)
	if err != nil {
		return nil
	}
	callerIP, err := r.Word(fp + word)
	if err != nil {
		return nil
	}
	callerSP := fp + 2*word
	return &SignalContext{
		Registers: []Register{
			{Name: a.fpName, Value: callerFP},
			{Name: a.spName, Value: callerSP},
			{Name: a.ipName, Value: callerIP},
		},
		FP: callerFP,
		SP: callerSP,
		IP: callerIP,
	}
}
