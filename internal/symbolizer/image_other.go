//go:build !linux

package symbolizer

import "github.com/VladMinzatu/selfdiag/internal/procmem"

// LoadProcessSymbolTable returns an empty table: locating the running image
// needs the ELF auxiliary vector.
func LoadProcessSymbolTable() *ProcessSymbolTable {
	return LoadSymbolTable(procmem.SelfReader(), 0, 0)
}
