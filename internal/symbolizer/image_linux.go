package symbolizer

import (
	"fmt"
	"log/slog"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"golang.org/x/sys/unix"
)

// auxiliary vector tags, see getauxval(3)
const (
	atPHDR  = 3
	atPHENT = 4
	atPHNUM = 5
)

// LoadProcessSymbolTable builds the symbol table of the running executable
// from its in-memory program headers, found through the auxiliary vector.
// Nothing is read from disk.
func LoadProcessSymbolTable() *ProcessSymbolTable {
	r := procmem.SelfReader()
	dyn, bias, err := selfDynamic(r)
	if err != nil {
		slog.Debug("Process dynamic section unavailable", "error", err)
		return LoadSymbolTable(r, 0, 0)
	}
	t := LoadSymbolTable(r, dyn, bias, WithDemangle())
	slog.Debug("Loaded process symbol table", "table", t.DebugString())
	return t
}

func selfDynamic(r procmem.Reader) (uint64, uint64, error) {
	auxv, err := unix.Auxv()
	if err != nil {
		return 0, 0, fmt.Errorf("read auxv: %w", err)
	}
	var phdr, phent, phnum uint64
	for _, kv := range auxv {
		switch kv[0] {
		case atPHDR:
			phdr = uint64(kv[1])
		case atPHENT:
			phent = uint64(kv[1])
		case atPHNUM:
			phnum = uint64(kv[1])
		}
	}
	return FindDynamic(r, phdr, phnum, phent)
}
