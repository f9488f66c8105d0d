package unwind

import (
	"fmt"
	"io"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
)

const (
	// DefaultFloor is the lowest address a frame pointer may hold. Nothing
	// is ever mapped below it on Linux (vm.mmap_min_addr).
	DefaultFloor = 0x10000
	// DefaultMaxFrames bounds the work done on a looping chain.
	DefaultMaxFrames = 128
)

// Resolver names code addresses. *symbolizer.ProcessSymbolTable implements it.
type Resolver interface {
	Resolve(addr uint64) (string, int64)
}

// Walker follows a frame pointer chain and prints one line per frame.
type Walker struct {
	Memory   procmem.Reader
	Resolver Resolver
	// Fallback names addresses the Resolver does not know. With no fallback
	// such frames print as [unrecognized code location].
	Fallback  symbolizer.AddrSymbolizer
	Floor     uint64
	MaxFrames int
}

func (w *Walker) floor() uint64 {
	if w.Floor == 0 {
		return DefaultFloor
	}
	return w.Floor
}

func (w *Walker) maxFrames() int {
	if w.MaxFrames <= 0 {
		return DefaultMaxFrames
	}
	return w.MaxFrames
}

// Walk writes the Stack Backtrace section for the chain starting at fp and
// returns the number of frame lines written. sp and ip are the stack and
// instruction pointers of the innermost frame.
func (w *Walker) Walk(out io.Writer, fp, sp, ip uint64) int {
	fmt.Fprintf(out, " Stack Backtrace :\n")
	if fp == 0 || w.Memory.Memory == nil {
		return 0
	}
	floor := w.floor()
	if fp < floor {
		fmt.Fprintf(out, "  heh, looks like we've got corrupted stack, so no backtrace for you.\n")
		if ip != 0 {
			fmt.Fprintf(out, "  all I can say is that we failed at 0x%X", ip)
			if name, off := w.resolve(ip); off != symbolizer.UnresolvedOffset {
				fmt.Fprintf(out, " in %s", symbolText(name, off))
			} else if name, ok := w.fallback(ip); ok {
				fmt.Fprintf(out, " in %s()", name)
			}
			fmt.Fprintf(out, "\n")
		}
		return 0
	}

	fmt.Fprintf(out, "   FRAME               NEXT FRAME          STACK               FUNCTION\n")
	word := uint64(w.Memory.WordSize)
	frames := 0
	for frames < w.maxFrames() && fp >= floor {
		next, err := w.Memory.Word(fp)
		if err != nil {
			fmt.Fprintf(out, "  frame at 0x%X is unreadable, stopping.\n", fp)
			break
		}
		ret, err := w.Memory.Word(fp + word)
		if err != nil {
			fmt.Fprintf(out, "  frame at 0x%X is unreadable, stopping.\n", fp)
			break
		}
		frames++
		var fn string
		if next == 0 {
			fn = "[program entry point]"
		} else {
			fn = w.describeFrame(sp, ip, frames == 1)
		}
		fmt.Fprintf(out, "   0x%08X  0x%08X  0x%08X  %s\n", fp, next, sp, fn)

		if next >= floor && next <= fp {
			// stacks grow down, so callers live at higher addresses
			fmt.Fprintf(out, "  heh, the frame chain loops back to 0x%X, giving up.\n", next)
			break
		}
		sp, fp = ret, next
	}
	return frames
}

func (w *Walker) describeFrame(sp, ip uint64, innermost bool) string {
	name, off := w.resolve(sp)
	if off == symbolizer.UnresolvedOffset && innermost && ip != 0 {
		name, off = w.resolve(ip)
	}
	if off != symbolizer.UnresolvedOffset {
		return symbolText(name, off)
	}
	if w.Fallback == nil {
		return "[unrecognized code location]"
	}
	if name, ok := w.fallback(sp); ok {
		return "[" + name + "]"
	}
	if innermost && ip != 0 {
		if name, ok := w.fallback(ip); ok {
			return "[" + name + "]"
		}
	}
	return "[some silly code]"
}

// Describe names a single code address the way frame lines do.
func (w *Walker) Describe(addr uint64) string {
	return w.describeFrame(addr, 0, false)
}

func (w *Walker) resolve(addr uint64) (string, int64) {
	if w.Resolver == nil {
		return symbolizer.Unknown, symbolizer.UnresolvedOffset
	}
	return w.Resolver.Resolve(addr)
}

func (w *Walker) fallback(addr uint64) (string, bool) {
	if w.Fallback == nil {
		return "", false
	}
	return w.Fallback.SymbolizeAddr(addr)
}

// WriteCalls writes the Call Backtrace section for a captured call list and
// returns the number of lines written.
func (w *Walker) WriteCalls(out io.Writer, calls *CallList) int {
	fmt.Fprintf(out, " Call Backtrace :\n")
	fmt.Fprintf(out, " CALL#: ADDRESS:            FUNCTION:\n")
	addrs := calls.Addrs()
	for i, pc := range addrs {
		fmt.Fprintf(out, " %6d  0x%08X  %s\n", i, pc, w.Describe(uint64(pc)))
	}
	return len(addrs)
}

func symbolText(name string, off int64) string {
	return fmt.Sprintf("[%s+0x%X(%d)]", name, off, off)
}
