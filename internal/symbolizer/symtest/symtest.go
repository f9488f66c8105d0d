// Package symtest lays out synthetic ELF dynamic sections in a procmem.Image,
// the way a dynamic linker leaves them in a running process.
package symtest

import (
	"debug/elf"
	"encoding/binary"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
)

// Fixed layout offsets, relative to the image bias.
const (
	DynAddr     = 0x10000
	SymtabAddr  = 0x11000
	StrtabAddr  = 0x20000
	HashAddr    = 0x30000
	RDebugAddr  = 0x38000
	LinkMapAddr = 0x39000
	PathsAddr   = 0x3a000
	PhdrAddr    = 0x40
)

type Func struct {
	Name string
	Addr uint64
	Size uint64
	// Type defaults to STT_FUNC
	Type elf.SymType
}

type Spec struct {
	// Class defaults to ELFCLASS64.
	Class     elf.Class
	Symbols   []Func
	Libraries []Library
	// GNUHash emits DT_GNU_HASH instead of DT_HASH.
	GNUHash bool
	// EntrySize overrides DT_SYMENT.
	EntrySize int
	// Bias maps the whole image at Bias. Pointers in the dynamic section and
	// symbol values stay unrelocated, as in a position independent executable.
	Bias uint64
	// NoDebug omits DT_DEBUG.
	NoDebug bool
}

type Library struct {
	Base uint64
	Path string
}

type Image struct {
	*procmem.Image
	Reader  procmem.Reader
	DynAddr uint64
	Bias    uint64
	// PhdrAddr, PhdrCount describe program headers with PT_PHDR and PT_DYNAMIC.
	PhdrAddr  uint64
	PhdrCount uint64
}

func Build(spec Spec) *Image {
	class := spec.Class
	if class == elf.ELFCLASSNONE {
		class = elf.ELFCLASS64
	}
	word := 8
	symSize := elf.Sym64Size
	if class == elf.ELFCLASS32 {
		word = 4
		symSize = elf.Sym32Size
	}
	order := binary.LittleEndian
	img := procmem.NewImage()
	b := spec.Bias

	// string table, starting with the empty name
	strtab := []byte{0}
	nameOff := make([]uint32, len(spec.Symbols))
	for i, s := range spec.Symbols {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	img.Map(b+StrtabAddr, strtab)

	// symbol table, entry 0 reserved
	count := len(spec.Symbols) + 1
	symtab := make([]byte, count*symSize)
	for i, s := range spec.Symbols {
		typ := s.Type
		if typ == elf.STT_NOTYPE {
			typ = elf.STT_FUNC
		}
		info := elf.ST_INFO(elf.STB_GLOBAL, typ)
		e := symtab[(i+1)*symSize:]
		if class == elf.ELFCLASS32 {
			order.PutUint32(e[0:], nameOff[i])
			order.PutUint32(e[4:], uint32(s.Addr))
			order.PutUint32(e[8:], uint32(s.Size))
			e[12] = info
		} else {
			order.PutUint32(e[0:], nameOff[i])
			e[4] = info
			order.PutUint64(e[8:], s.Addr)
			order.PutUint64(e[16:], s.Size)
		}
	}
	img.Map(b+SymtabAddr, symtab)

	var hashTag elf.DynTag
	if spec.GNUHash {
		hashTag = elf.DT_GNU_HASH
		img.Map(b+HashAddr, gnuHash(count, word))
	} else {
		hashTag = elf.DT_HASH
		hash := make([]byte, 4*(2+1+count))
		order.PutUint32(hash[0:], 1)
		order.PutUint32(hash[4:], uint32(count))
		img.Map(b+HashAddr, hash)
	}

	putWord := func(buf []byte, v uint64) {
		if word == 4 {
			order.PutUint32(buf, uint32(v))
		} else {
			order.PutUint64(buf, v)
		}
	}

	// link map
	if len(spec.Libraries) > 0 {
		rdebug := make([]byte, 5*word)
		order.PutUint32(rdebug, 1)
		putWord(rdebug[word:], b+LinkMapAddr)
		img.Map(b+RDebugAddr, rdebug)

		nodeSize := 5 * word
		nodes := make([]byte, nodeSize*len(spec.Libraries))
		var paths []byte
		for i, lib := range spec.Libraries {
			n := nodes[i*nodeSize:]
			putWord(n[0:], lib.Base)
			putWord(n[word:], b+PathsAddr+uint64(len(paths)))
			if i+1 < len(spec.Libraries) {
				putWord(n[3*word:], b+LinkMapAddr+uint64((i+1)*nodeSize))
			}
			paths = append(paths, lib.Path...)
			paths = append(paths, 0)
		}
		img.Map(b+LinkMapAddr, nodes)
		img.Map(b+PathsAddr, paths)
	}

	entrySize := symSize
	if spec.EntrySize != 0 {
		entrySize = spec.EntrySize
	}
	type dynEntry struct {
		tag elf.DynTag
		val uint64
	}
	entries := []dynEntry{
		{elf.DT_PLTGOT, 0x8000},
		{hashTag, HashAddr},
		{elf.DT_STRTAB, StrtabAddr},
		{elf.DT_SYMTAB, SymtabAddr},
		{elf.DT_STRSZ, uint64(len(strtab))},
		{elf.DT_SYMENT, uint64(entrySize)},
	}
	if !spec.NoDebug && len(spec.Libraries) > 0 {
		// the dynamic linker stores an absolute address here
		entries = append(entries, dynEntry{elf.DT_DEBUG, b + RDebugAddr})
	}
	entries = append(entries, dynEntry{elf.DT_NULL, 0})
	dyn := make([]byte, len(entries)*2*word)
	for i, e := range entries {
		putWord(dyn[i*2*word:], uint64(e.tag))
		putWord(dyn[i*2*word+word:], e.val)
	}
	img.Map(b+DynAddr, dyn)

	// PT_PHDR followed by PT_DYNAMIC
	phent := 56
	vaddrOff := 16
	if word == 4 {
		phent = 32
		vaddrOff = 8
	}
	phdrs := make([]byte, 2*phent)
	order.PutUint32(phdrs[0:], uint32(elf.PT_PHDR))
	putWord(phdrs[vaddrOff:], PhdrAddr)
	order.PutUint32(phdrs[phent:], uint32(elf.PT_DYNAMIC))
	putWord(phdrs[phent+vaddrOff:], DynAddr)
	img.Map(b+PhdrAddr, phdrs)

	return &Image{
		Image:     img,
		Reader:    procmem.NewReader(img, order, word),
		DynAddr:   b + DynAddr,
		Bias:      b,
		PhdrAddr:  b + PhdrAddr,
		PhdrCount: 2,
	}
}

// gnuHash builds a one-bucket DT_GNU_HASH table covering symbols 1..count-1.
func gnuHash(count, word int) []byte {
	order := binary.LittleEndian
	const symoffset = 1
	chainLen := max(count-symoffset, 0)
	buf := make([]byte, 16+word+4+4*chainLen)
	order.PutUint32(buf[0:], 1)
	order.PutUint32(buf[4:], symoffset)
	order.PutUint32(buf[8:], 1)
	bucket := 16 + word
	if chainLen > 0 {
		order.PutUint32(buf[bucket:], symoffset)
	}
	chain := bucket + 4
	for i := 0; i < chainLen; i++ {
		h := uint32(0x1000 + 2*i)
		if i == chainLen-1 {
			h |= 1
		}
		order.PutUint32(buf[chain+4*i:], h)
	}
	return buf
}
