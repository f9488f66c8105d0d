package symbolizer

import (
	"bytes"
	"math"

	"github.com/ianlancetaylor/demangle"
)

// Resolve finds the function symbol that most tightly encloses addr (a
// run-time address, the load bias is removed first) and
// returns its name with addr's offset into it. Among the STT_FUNC entries
// starting at or below addr whose declared size still covers addr, the one
// with the smallest offset wins; ties keep the earliest entry. Misses return
// (Unknown, UnresolvedOffset).
//
// The scan is linear in the number of symbols. It is only used a few dozen
// times per report.
func (t *ProcessSymbolTable) Resolve(addr uint64) (string, int64) {
	if !t.Available() || addr < t.bias {
		return Unknown, UnresolvedOffset
	}
	target := addr - t.bias
	var (
		found   bool
		bestOff uint64 = math.MaxUint64
		bestIdx uint32
	)
	// entry 0 is the reserved undefined symbol
	for i := 1; i < t.entryCount; i++ {
		e := t.layout.decode(t.symbols[i*t.entrySize:], t.reader.Order)
		if !e.isFunc() || e.value > target {
			continue
		}
		off := target - e.value
		if off < bestOff && off < e.size {
			found = true
			bestOff = off
			bestIdx = e.name
		}
	}
	if !found {
		return Unknown, UnresolvedOffset
	}
	name := t.symbolName(bestIdx)
	if name == "" {
		return Unknown, UnresolvedOffset
	}
	return name, int64(bestOff)
}

// ResolveSymbol is Resolve returning a Symbol, nil on a miss.
func (t *ProcessSymbolTable) ResolveSymbol(addr uint64) *Symbol {
	name, off := t.Resolve(addr)
	if off == UnresolvedOffset {
		return nil
	}
	return &Symbol{Name: name, Addr: addr, Offset: off}
}

func (t *ProcessSymbolTable) symbolName(idx uint32) string {
	if uint64(idx) >= uint64(len(t.strings)) {
		return ""
	}
	raw := t.strings[idx:]
	if end := bytes.IndexByte(raw, 0); end >= 0 {
		raw = raw[:end]
	}
	if len(raw) > maxSymbolName {
		raw = raw[:maxSymbolName]
	}
	name := string(raw)
	if t.demangle {
		name = demangle.Filter(name, t.demangleOptions...)
	}
	return name
}
