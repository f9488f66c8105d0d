package diag

import (
	"io"
	"sync/atomic"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
	"github.com/VladMinzatu/selfdiag/internal/unwind"
)

// ModuleMaps names addresses by module and lists the mapped modules.
// *symbolizer.ProcMaps implements it.
type ModuleMaps interface {
	symbolizer.ProcMapsProvider
	Modules() []symbolizer.Library
}

type Option func(*Handler)

// WithName sets the program name printed in banners.
func WithName(name string) Option {
	return func(h *Handler) {
		h.name = name
	}
}

// WithExecutable sets the path suggested to gdb in the guidance text.
func WithExecutable(path string) Option {
	return func(h *Handler) {
		h.executable = path
	}
}

func WithOutput(w io.Writer) Option {
	return func(h *Handler) {
		h.out = w
	}
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(h *Handler) {
		h.exit = exit
	}
}

// WithSymbolTable replaces symbolizer.Process as the source of symbols.
func WithSymbolTable(table func() *symbolizer.ProcessSymbolTable) Option {
	return func(h *Handler) {
		h.table = table
	}
}

// WithMaps replaces the /proc/self/maps reader. A nil function disables
// module lookups.
func WithMaps(maps func() (ModuleMaps, error)) Option {
	return func(h *Handler) {
		h.maps = maps
	}
}

func WithArch(arch unwind.Arch) Option {
	return func(h *Handler) {
		h.arch = arch
	}
}

// WithMemory sets where frame records are read from.
func WithMemory(r procmem.Reader) Option {
	return func(h *Handler) {
		h.mem = r
	}
}

// WithWalkLimits bounds the frame pointer walk. Zero values keep the defaults.
func WithWalkLimits(floor uint64, maxFrames int) Option {
	return func(h *Handler) {
		h.floor = floor
		h.maxFrames = maxFrames
	}
}

// WithDepthCounter replaces the process-wide recursion counter. Handlers that
// share a counter treat each other's faults as nested.
func WithDepthCounter(depth *atomic.Int32) Option {
	return func(h *Handler) {
		h.depth = depth
	}
}
