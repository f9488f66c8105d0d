//go:build !linux

package procmem

import (
	"encoding/binary"
	"errors"
	"strconv"
)

type noMemory struct{}

func Self() Memory {
	return noMemory{}
}

func SelfReader() Reader {
	return NewReader(Self(), binary.NativeEndian, strconv.IntSize/8)
}

func (noMemory) ReadAt(p []byte, addr uint64) error {
	return errors.New("reading own memory is not supported on this platform")
}
