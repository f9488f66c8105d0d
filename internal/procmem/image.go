package procmem

import (
	"fmt"
	"sort"
)

type segment struct {
	addr uint64
	data []byte
}

// Image is a sparse synthetic address space. Reads outside of the mapped
// segments fail with ErrUnmapped.
type Image struct {
	segments []segment
}

func NewImage() *Image {
	return &Image{}
}

// Map places data at addr. Segments must not overlap.
func (m *Image) Map(addr uint64, data []byte) {
	m.segments = append(m.segments, segment{addr: addr, data: data})
	sort.Slice(m.segments, func(i, j int) bool { return m.segments[i].addr < m.segments[j].addr })
}

func (m *Image) ReadAt(p []byte, addr uint64) error {
	for len(p) > 0 {
		s := m.find(addr)
		if s == nil {
			return fmt.Errorf("read %d bytes at 0x%x: %w", len(p), addr, ErrUnmapped)
		}
		n := copy(p, s.data[addr-s.addr:])
		p = p[n:]
		addr += uint64(n)
	}
	return nil
}

func (m *Image) find(addr uint64) *segment {
	i := sort.Search(len(m.segments), func(i int) bool { return m.segments[i].addr > addr })
	if i == 0 {
		return nil
	}
	s := &m.segments[i-1]
	if addr-s.addr >= uint64(len(s.data)) {
		return nil
	}
	return s
}
