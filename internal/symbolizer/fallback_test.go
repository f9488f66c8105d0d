package symbolizer

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

type mockMapsProvider struct {
	region *MapRegion
}

func (m *mockMapsProvider) FindRegion(pc uint64) *MapRegion {
	if m.region != nil && pc >= m.region.Start && pc < m.region.End {
		return m.region
	}
	return nil
}

func (m *mockMapsProvider) Refresh() error { return nil }

func TestRuntimeSymbolizer_GoFunction(t *testing.T) {
	s := NewRuntimeSymbolizer(nil)
	pc := uint64(reflect.ValueOf(TestRuntimeSymbolizer_GoFunction).Pointer())

	got, ok := s.SymbolizeAddr(pc + 1)
	if !ok {
		t.Fatalf("expected Go function to be named")
	}
	want := runtime.FuncForPC(uintptr(pc)).Name() + "+0x1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !strings.Contains(got, "TestRuntimeSymbolizer_GoFunction") {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestRuntimeSymbolizer_Module(t *testing.T) {
	maps := &mockMapsProvider{region: &MapRegion{
		Start:  0x10000,
		End:    0x20000,
		Offset: 0x3000,
		Perms:  "r-xp",
		Path:   "/lib/libfoo.so",
	}}
	s := NewRuntimeSymbolizer(maps)

	got, ok := s.SymbolizeAddr(0x10010)
	if !ok || got != "/lib/libfoo.so(+0x3010)" {
		t.Fatalf("unexpected result %q, %v", got, ok)
	}

	if _, ok := s.SymbolizeAddr(0x30000); ok {
		t.Fatalf("expected miss outside any mapping")
	}
	if _, ok := s.SymbolizeAddr(0); ok {
		t.Fatalf("expected miss for null address")
	}
}

func TestRuntimeSymbolizer_PseudoMapping(t *testing.T) {
	s := NewRuntimeSymbolizer(&mockMapsProvider{region: &MapRegion{Start: 0x10000, End: 0x20000, Path: "[vdso]"}})
	if got, ok := s.SymbolizeAddr(0x10010); ok {
		t.Fatalf("expected pseudo mapping to be skipped, got %q", got)
	}
}

var tailBuf bytes.Buffer

// returnAddress returns the address its caller resumes at.
//
//go:noinline
func returnAddress() uint64 {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	return uint64(pcs[0])
}

// callFollowedByInlinedCode makes the return address of returnAddress land on
// code inlined from bytes.(*Buffer).String.
//
//go:noinline
func callFollowedByInlinedCode() (uint64, string) {
	ret := returnAddress()
	return ret, tailBuf.String()
}

func TestRuntimeSymbolizer_ReturnAddressBeforeInlinedCall(t *testing.T) {
	ret, _ := callFollowedByInlinedCode()
	entry := uint64(reflect.ValueOf(callFollowedByInlinedCode).Pointer())

	got, ok := NewRuntimeSymbolizer(nil).SymbolizeAddr(ret)
	if !ok {
		t.Fatalf("expected return address to be named")
	}
	want := fmt.Sprintf("%s+0x%x", runtime.FuncForPC(uintptr(entry)).Name(), ret-entry)
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !strings.Contains(got, ".callFollowedByInlinedCode+0x") {
		t.Fatalf("expected the caller to be named, got %q", got)
	}
}
