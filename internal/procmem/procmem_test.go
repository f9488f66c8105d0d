package procmem

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestImage_ReadAt(t *testing.T) {
	img := NewImage()
	img.Map(0x2000, []byte{5, 6, 7, 8})
	img.Map(0x1000, []byte{1, 2, 3, 4})
	img.Map(0x1004, []byte{9, 10})

	t.Run("within_segment", func(t *testing.T) {
		buf := make([]byte, 2)
		require.NoError(t, img.ReadAt(buf, 0x2001))
		require.Equal(t, []byte{6, 7}, buf)
	})

	t.Run("across_adjacent_segments", func(t *testing.T) {
		buf := make([]byte, 4)
		require.NoError(t, img.ReadAt(buf, 0x1002))
		require.Equal(t, []byte{3, 4, 9, 10}, buf)
	})

	t.Run("unmapped", func(t *testing.T) {
		buf := make([]byte, 1)
		err := img.ReadAt(buf, 0x3000)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrUnmapped))
	})

	t.Run("runs_off_the_end", func(t *testing.T) {
		buf := make([]byte, 8)
		require.ErrorIs(t, img.ReadAt(buf, 0x2002), ErrUnmapped)
	})
}

func TestReader_Words(t *testing.T) {
	img := NewImage()
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 0x1122334455667788)
	binary.LittleEndian.PutUint32(data[8:], 0xdeadbeef)
	img.Map(0x4000, data)

	r64 := NewReader(img, binary.LittleEndian, 8)
	w, err := r64.Word(0x4000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), w)

	r32 := NewReader(img, binary.LittleEndian, 4)
	w, err = r32.Word(0x4008)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), w)

	_, err = r64.Word(0x4010)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestReader_CString(t *testing.T) {
	img := NewImage()
	img.Map(0x1000, []byte("hello\x00world\x00"))
	// no terminator before the end of the mapping
	img.Map(0x5000, []byte("abc"))
	// a string that ends a few bytes before an unmapped page
	img.Map(0x8000, []byte("tail\x00"))

	r := NewReader(img, binary.LittleEndian, 8)

	s, err := r.CString(0x1000, 64)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	s, err = r.CString(0x1006, 64)
	require.NoError(t, err)
	require.Equal(t, "world", s)

	s, err = r.CString(0x8000, 4096)
	require.NoError(t, err)
	require.Equal(t, "tail", s)

	_, err = r.CString(0x5000, 64)
	require.Error(t, err)

	_, err = r.CString(0x1000, 3)
	require.Error(t, err)
}

func TestSelfReader_ReadsOwnMemory(t *testing.T) {
	value := uint64(0xcafef00d)
	r := SelfReader()
	got, err := r.Uint64(uint64(addrOf(&value)))
	if err != nil {
		t.Skipf("process_vm_readv unavailable in this environment: %v", err)
	}
	require.Equal(t, value, got)

	_, err = r.Word(8)
	require.Error(t, err, "reading the zero page must fail instead of faulting")
}

func addrOf(p *uint64) uintptr {
	return uintptr(unsafe.Pointer(p))
}
