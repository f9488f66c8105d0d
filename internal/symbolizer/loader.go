package symbolizer

import (
	"debug/elf"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/ianlancetaylor/demangle"
)

const (
	maxDynEntries  = 512
	maxSymbols     = 1 << 22
	maxGnuBuckets  = 1 << 20
	maxLibraries   = 1024
	maxPathLen     = 4096
	maxSymbolName  = 1024
	bucketsPerRead = 64
)

// ProcessSymbolTable holds the dynamic symbol table of an ELF image as found
// in memory. The zero value is a valid table that resolves nothing.
type ProcessSymbolTable struct {
	reader procmem.Reader
	// bias is added to symbol values, which stay link-time addresses in memory
	bias uint64

	layout     symLayout
	entrySize  int
	entryCount int
	symbols    []byte
	strings    []byte

	symtabAddr  uint64
	strtabAddr  uint64
	strtabSize  uint64
	hashAddr    uint64
	gnuHashAddr uint64
	pltgot      uint64
	debug       uint64

	demangle        bool
	demangleOptions []demangle.Option
}

// LoadSymbolTable reads the ElfN_Dyn array at dynAddr and copies the symbol
// and string tables it points to. Pointers below bias are treated as
// unrelocated and have bias added. It never fails: missing or unreadable
// metadata produces a table without symbol information.
func LoadSymbolTable(r procmem.Reader, dynAddr, bias uint64, opts ...Option) *ProcessSymbolTable {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	t := &ProcessSymbolTable{
		reader:          r,
		bias:            bias,
		demangle:        o.demangle,
		demangleOptions: o.demangleOptions,
	}
	if dynAddr == 0 {
		slog.Debug("No dynamic section, symbol information unavailable")
		return t
	}
	if err := t.readDynamic(dynAddr, bias); err != nil {
		slog.Debug("Failed to read dynamic section", "addr", fmt.Sprintf("0x%x", dynAddr), "error", err)
		return t
	}
	if err := t.readTables(o.maxTableBytes); err != nil {
		slog.Debug("Symbol tables unavailable", "error", err)
		t.layout = nil
		t.entryCount = 0
		t.symbols = nil
		t.strings = nil
	}
	return t
}

func (t *ProcessSymbolTable) readDynamic(dynAddr, bias uint64) error {
	r := t.reader
	word := uint64(r.WordSize)
	relocate := func(ptr uint64) uint64 {
		if bias != 0 && ptr != 0 && ptr < bias {
			return ptr + bias
		}
		return ptr
	}
	for i := uint64(0); i < maxDynEntries; i++ {
		entry := dynAddr + i*2*word
		tag, err := r.Word(entry)
		if err != nil {
			return err
		}
		if elf.DynTag(tag) == elf.DT_NULL {
			return nil
		}
		val, err := r.Word(entry + word)
		if err != nil {
			return err
		}
		switch elf.DynTag(tag) {
		case elf.DT_SYMTAB:
			t.symtabAddr = relocate(val)
		case elf.DT_HASH:
			t.hashAddr = relocate(val)
		case elf.DT_GNU_HASH:
			t.gnuHashAddr = relocate(val)
		case elf.DT_SYMENT:
			t.entrySize = int(val)
		case elf.DT_STRTAB:
			t.strtabAddr = relocate(val)
		case elf.DT_STRSZ:
			t.strtabSize = val
		case elf.DT_DEBUG:
			t.debug = val
		case elf.DT_PLTGOT:
			t.pltgot = relocate(val)
		}
	}
	return fmt.Errorf("no DT_NULL within %d entries", maxDynEntries)
}

func (t *ProcessSymbolTable) readTables(maxBytes int) error {
	t.layout = layoutForEntrySize(t.entrySize)
	if t.layout == nil {
		return fmt.Errorf("unsupported symbol entry size %d", t.entrySize)
	}
	if t.symtabAddr == 0 || t.strtabAddr == 0 || t.strtabSize == 0 {
		return errors.New("symbol or string table missing")
	}
	count, err := t.symbolCount()
	if err != nil {
		return err
	}
	if count <= 1 || count > maxSymbols {
		return fmt.Errorf("implausible symbol count %d", count)
	}
	t.entryCount = count

	symBytes := uint64(count) * uint64(t.entrySize)
	if symBytes+t.strtabSize > uint64(maxBytes) {
		return fmt.Errorf("tables need %d bytes, limit is %d", symBytes+t.strtabSize, maxBytes)
	}
	buf := make([]byte, symBytes+t.strtabSize)
	if err := t.reader.Memory.ReadAt(buf[:symBytes], t.symtabAddr); err != nil {
		return fmt.Errorf("read symbol table: %w", err)
	}
	if err := t.reader.Memory.ReadAt(buf[symBytes:], t.strtabAddr); err != nil {
		return fmt.Errorf("read string table: %w", err)
	}
	t.symbols = buf[:symBytes:symBytes]
	t.strings = buf[symBytes:]
	return nil
}

func (t *ProcessSymbolTable) symbolCount() (int, error) {
	if t.hashAddr != 0 {
		// DT_HASH: nbucket, nchain; nchain equals the number of symbols
		nchain, err := t.reader.Uint32(t.hashAddr + 4)
		if err != nil {
			return 0, fmt.Errorf("read hash table: %w", err)
		}
		return int(nchain), nil
	}
	if t.gnuHashAddr != 0 {
		return gnuHashSymbolCount(t.reader, t.gnuHashAddr)
	}
	return 0, errors.New("no hash table to size the symbol table")
}

// gnuHashSymbolCount derives the number of dynamic symbols from a
// DT_GNU_HASH table: one past the end of the chain that starts at the highest
// bucket.
func gnuHashSymbolCount(r procmem.Reader, addr uint64) (int, error) {
	nbuckets, err := r.Uint32(addr)
	if err != nil {
		return 0, err
	}
	symoffset, err := r.Uint32(addr + 4)
	if err != nil {
		return 0, err
	}
	bloomSize, err := r.Uint32(addr + 8)
	if err != nil {
		return 0, err
	}
	if nbuckets == 0 || nbuckets > maxGnuBuckets {
		return 0, fmt.Errorf("implausible gnu hash bucket count %d", nbuckets)
	}
	buckets := addr + 16 + uint64(bloomSize)*uint64(r.WordSize)

	var last uint32
	var chunk [bucketsPerRead * 4]byte
	for i := uint32(0); i < nbuckets; i += bucketsPerRead {
		n := min(bucketsPerRead, nbuckets-i)
		if err := r.Memory.ReadAt(chunk[:n*4], buckets+uint64(i)*4); err != nil {
			return 0, err
		}
		for j := uint32(0); j < n; j++ {
			if b := r.Order.Uint32(chunk[j*4:]); b > last {
				last = b
			}
		}
	}
	if last < symoffset {
		return int(symoffset), nil
	}

	chain := buckets + uint64(nbuckets)*4
	for idx := last; idx-symoffset < maxSymbols; idx++ {
		h, err := r.Uint32(chain + uint64(idx-symoffset)*4)
		if err != nil {
			return 0, err
		}
		if h&1 != 0 {
			return int(idx) + 1, nil
		}
	}
	return 0, errors.New("unterminated gnu hash chain")
}

// Available reports whether the table can resolve addresses at all.
func (t *ProcessSymbolTable) Available() bool {
	return t != nil && t.layout != nil && t.entryCount > 1 && len(t.strings) > 0
}

// HasLibraries reports whether the runtime linker exposed its link map.
func (t *ProcessSymbolTable) HasLibraries() bool {
	return t != nil && t.debug != 0
}

// Libraries walks the runtime linker's link map (r_debug.r_map). The list is
// owned by the dynamic linker and is read on every iteration.
func (t *ProcessSymbolTable) Libraries() iter.Seq[Library] {
	return func(yield func(Library) bool) {
		if !t.HasLibraries() {
			return
		}
		r := t.reader
		word := uint64(r.WordSize)
		// r_debug: int r_version, then struct link_map *r_map at pointer alignment
		lm, err := r.Word(t.debug + word)
		if err != nil {
			return
		}
		// link_map: l_addr, l_name, l_ld, l_next, l_prev
		for i := 0; lm != 0 && i < maxLibraries; i++ {
			base, err := r.Word(lm)
			if err != nil {
				return
			}
			nameAddr, err := r.Word(lm + word)
			if err != nil {
				return
			}
			next, err := r.Word(lm + 3*word)
			if err != nil {
				return
			}
			if base != 0 && nameAddr != 0 {
				if name, err := r.CString(nameAddr, maxPathLen); err == nil && name != "" {
					if !yield(Library{Base: base, Path: name}) {
						return
					}
				}
			}
			lm = next
		}
	}
}

// StringTable exposes the copied string table bytes.
func (t *ProcessSymbolTable) StringTable() []byte {
	if t == nil {
		return nil
	}
	return t.strings
}

func (t *ProcessSymbolTable) DebugString() string {
	if t == nil {
		return "ProcessSymbolTable{nil}"
	}
	return fmt.Sprintf("ProcessSymbolTable{ symtab = 0x%x, entsize = %d, entries = %d, strtab = 0x%x (%d bytes), hash = 0x%x, gnu_hash = 0x%x, debug = 0x%x, pltgot = 0x%x }",
		t.symtabAddr, t.entrySize, t.entryCount, t.strtabAddr, t.strtabSize, t.hashAddr, t.gnuHashAddr, t.debug, t.pltgot)
}
