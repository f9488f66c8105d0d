// Package procmem reads memory of the running process without dereferencing raw pointers,
// so that a bad address turns into an error instead of a second fault.
package procmem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrUnmapped = errors.New("address not mapped")

// Memory is anything that can copy bytes out of an address space.
type Memory interface {
	ReadAt(p []byte, addr uint64) error
}

// Reader decodes fixed-width values out of a Memory.
type Reader struct {
	Memory   Memory
	Order    binary.ByteOrder
	WordSize int // 4 or 8
}

func NewReader(mem Memory, order binary.ByteOrder, wordSize int) Reader {
	return Reader{Memory: mem, Order: order, WordSize: wordSize}
}

func (r Reader) Uint32(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := r.Memory.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return r.Order.Uint32(buf[:]), nil
}

func (r Reader) Uint64(addr uint64) (uint64, error) {
	var buf [8]byte
	if err := r.Memory.ReadAt(buf[:], addr); err != nil {
		return 0, err
	}
	return r.Order.Uint64(buf[:]), nil
}

// Word reads a pointer-sized value.
func (r Reader) Word(addr uint64) (uint64, error) {
	if r.WordSize == 4 {
		v, err := r.Uint32(addr)
		return uint64(v), err
	}
	return r.Uint64(addr)
}

// CString reads a NUL terminated string of at most limit bytes.
func (r Reader) CString(addr uint64, limit int) (string, error) {
	const chunk = 64
	var sb []byte
	var buf [chunk]byte
	for len(sb) < limit {
		n := min(chunk, limit-len(sb))
		if err := r.Memory.ReadAt(buf[:n], addr+uint64(len(sb))); err != nil {
			// the end of a string may sit right before an unmapped page
			return r.cstringBytewise(addr, sb, limit)
		}
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			sb = append(sb, buf[:i]...)
			return string(sb), nil
		}
		sb = append(sb, buf[:n]...)
	}
	return "", fmt.Errorf("string at 0x%x longer than %d bytes", addr, limit)
}

func (r Reader) cstringBytewise(addr uint64, sb []byte, limit int) (string, error) {
	var b [1]byte
	for i := len(sb); i < limit; i++ {
		if err := r.Memory.ReadAt(b[:], addr+uint64(i)); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(sb), nil
		}
		sb = append(sb, b[0])
	}
	return "", fmt.Errorf("string at 0x%x longer than %d bytes", addr, limit)
}
