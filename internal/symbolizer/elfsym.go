package symbolizer

import (
	"debug/elf"
	"encoding/binary"
)

// symEntry is a decoded symbol table record, independent of the ELF class.
type symEntry struct {
	name  uint32
	info  uint8
	value uint64
	size  uint64
}

func (e symEntry) isFunc() bool {
	return elf.ST_TYPE(e.info) == elf.STT_FUNC
}

// symLayout decodes one on-disk symbol record width. The table picks one
// layout when it is loaded and uses it for every entry.
type symLayout interface {
	entrySize() int
	decode(b []byte, order binary.ByteOrder) symEntry
}

type sym32Layout struct{}

func (sym32Layout) entrySize() int { return elf.Sym32Size }

// Elf32_Sym: name, value, size, info, other, shndx
func (sym32Layout) decode(b []byte, order binary.ByteOrder) symEntry {
	_ = b[elf.Sym32Size-1]
	return symEntry{
		name:  order.Uint32(b[0:]),
		value: uint64(order.Uint32(b[4:])),
		size:  uint64(order.Uint32(b[8:])),
		info:  b[12],
	}
}

type sym64Layout struct{}

func (sym64Layout) entrySize() int { return elf.Sym64Size }

// Elf64_Sym: name, info, other, shndx, value, size
func (sym64Layout) decode(b []byte, order binary.ByteOrder) symEntry {
	_ = b[elf.Sym64Size-1]
	return symEntry{
		name:  order.Uint32(b[0:]),
		info:  b[4],
		value: order.Uint64(b[8:]),
		size:  order.Uint64(b[16:]),
	}
}

// layoutForEntrySize maps DT_SYMENT to a decoder, nil when the size is not one
// of the two known record widths.
func layoutForEntrySize(n int) symLayout {
	switch n {
	case elf.Sym32Size:
		return sym32Layout{}
	case elf.Sym64Size:
		return sym64Layout{}
	}
	return nil
}
