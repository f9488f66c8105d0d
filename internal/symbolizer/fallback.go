package symbolizer

import (
	"fmt"
	"runtime"
)

// AddrSymbolizer names an address by whatever means the platform offers,
// returning false when it cannot.
type AddrSymbolizer interface {
	SymbolizeAddr(addr uint64) (string, bool)
}

// RuntimeSymbolizer is the backtrace-by-address fallback for return
// addresses. It asks the Go runtime's function table first and otherwise
// reports the module the address falls into, as path(+offset).
type RuntimeSymbolizer struct {
	maps ProcMapsProvider
}

// NewRuntimeSymbolizer accepts a nil maps provider, in which case only Go
// functions are named.
func NewRuntimeSymbolizer(maps ProcMapsProvider) *RuntimeSymbolizer {
	return &RuntimeSymbolizer{maps: maps}
}

func (s *RuntimeSymbolizer) SymbolizeAddr(addr uint64) (string, bool) {
	if addr == 0 {
		return "", false
	}
	// addr is a return address: CallersFrames looks up addr-1 so that a call
	// followed by inlined code is still named after the caller.
	frame, _ := runtime.CallersFrames([]uintptr{uintptr(addr)}).Next()
	if frame.Function != "" && frame.Entry != 0 && addr >= uint64(frame.Entry) {
		return fmt.Sprintf("%s+0x%x", frame.Function, addr-uint64(frame.Entry)), true
	}
	if s.maps == nil {
		return "", false
	}
	r := s.maps.FindRegion(addr)
	if r == nil || !isFileBacked(r.Path) {
		return "", false
	}
	return fmt.Sprintf("%s(+0x%x)", r.Path, addr-r.Start+r.Offset), true
}
