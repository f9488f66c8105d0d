package symbolizer

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
)

const (
	maxProgHeaders = 256
	elf32PhdrSize  = 32
	elf64PhdrSize  = 56
)

var errNoDynamic = errors.New("no PT_DYNAMIC program header")

type progHeader struct {
	typ   elf.ProgType
	vaddr uint64
}

// FindDynamic locates the dynamic section of an image whose program headers
// are mapped at phdr. It returns the run-time address of the ElfN_Dyn array and
// the load bias, computed from PT_PHDR the same way a mapping slide is
// computed from the lowest PT_LOAD.
func FindDynamic(r procmem.Reader, phdr, phnum, phent uint64) (dyn, bias uint64, err error) {
	if phdr == 0 || phnum == 0 {
		return 0, 0, errors.New("program headers not available")
	}
	if phnum > maxProgHeaders {
		return 0, 0, fmt.Errorf("implausible program header count %d", phnum)
	}
	if phent == 0 {
		phent = elf64PhdrSize
		if r.WordSize == 4 {
			phent = elf32PhdrSize
		}
	}
	progs := make([]progHeader, 0, phnum)
	for i := uint64(0); i < phnum; i++ {
		p, err := readProgHeader(r, phdr+i*phent)
		if err != nil {
			return 0, 0, fmt.Errorf("read program header %d: %w", i, err)
		}
		progs = append(progs, p)
	}

	for _, p := range progs {
		if p.typ == elf.PT_PHDR {
			bias = phdr - p.vaddr
			break
		}
	}
	for _, p := range progs {
		if p.typ == elf.PT_DYNAMIC {
			return p.vaddr + bias, bias, nil
		}
	}
	return 0, bias, errNoDynamic
}

// Elf64_Phdr: type u32, flags u32, offset, vaddr, ...
// Elf32_Phdr: type, offset, vaddr, ... (all u32)
func readProgHeader(r procmem.Reader, addr uint64) (progHeader, error) {
	typ, err := r.Uint32(addr)
	if err != nil {
		return progHeader{}, err
	}
	vaddrOff := uint64(16)
	if r.WordSize == 4 {
		vaddrOff = 8
	}
	vaddr, err := r.Word(addr + vaddrOff)
	if err != nil {
		return progHeader{}, err
	}
	return progHeader{typ: elf.ProgType(typ), vaddr: vaddr}, nil
}
