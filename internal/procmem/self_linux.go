package procmem

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

type selfMemory struct {
	pid int
}

// Self returns a Memory over the calling process. Reads go through
// process_vm_readv, which reports EFAULT for unmapped addresses rather than
// raising SIGSEGV.
func Self() Memory {
	return &selfMemory{pid: unix.Getpid()}
}

// SelfReader is a Reader over the calling process using its native word size.
func SelfReader() Reader {
	return NewReader(Self(), binary.NativeEndian, strconv.IntSize/8)
}

func (m *selfMemory) ReadAt(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: (*byte)(unsafe.Pointer(&p[0]))}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}
	n, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_readv 0x%x: %w", addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("short read at 0x%x: %d of %d bytes", addr, n, len(p))
	}
	return nil
}
