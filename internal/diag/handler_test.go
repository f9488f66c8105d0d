package diag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer/symtest"
	"github.com/VladMinzatu/selfdiag/internal/unwind"
	"github.com/stretchr/testify/require"
)

type exitRecorder struct {
	codes []int
}

func (e *exitRecorder) Exit(code int) {
	e.codes = append(e.codes, code)
}

type mockModuleMaps struct {
	modules []symbolizer.Library
}

func (m *mockModuleMaps) FindRegion(pc uint64) *symbolizer.MapRegion { return nil }
func (m *mockModuleMaps) Refresh() error                             { return nil }
func (m *mockModuleMaps) Modules() []symbolizer.Library              { return m.modules }

// fpArch claims frame pointers without being able to snapshot registers.
type fpArch struct{ unwind.None }

func (fpArch) HasFramePointers() bool          { return true }
func (fpArch) CanCaptureReturnAddresses() bool { return true }

func testTable(libs ...symtest.Library) func() *symbolizer.ProcessSymbolTable {
	img := symtest.Build(symtest.Spec{
		Symbols: []symtest.Func{
			{Name: "alpha", Addr: 0x1000, Size: 0x50},
			{Name: "beta", Addr: 0x2000, Size: 0x30},
		},
		Libraries: libs,
	})
	table := symbolizer.LoadSymbolTable(img.Reader, img.DynAddr, img.Bias)
	return func() *symbolizer.ProcessSymbolTable { return table }
}

func newTestHandler(out *bytes.Buffer, exit *exitRecorder, opts ...Option) *Handler {
	base := []Option{
		WithName("selfdiag-test"),
		WithExecutable("/usr/bin/selfdiag-test"),
		WithOutput(out),
		WithExit(exit.Exit),
		WithSymbolTable(testTable()),
		WithMaps(nil),
		WithDepthCounter(new(atomic.Int32)),
	}
	return New(append(base, opts...)...)
}

func TestHandle_Informational(t *testing.T) {
	var out bytes.Buffer
	exit := &exitRecorder{}
	h := newTestHandler(&out, exit)

	h.Handle(syscall.SIGUSR1, nil)

	require.Empty(t, exit.codes)
	require.Equal(t, Armed, h.State())
	got := out.String()
	require.True(t, strings.HasPrefix(got, fmt.Sprintf("Non-critical Signal %d trapped in selfdiag-test.\nPrinting Debug Information :\n", int(syscall.SIGUSR1))), got)
	require.Contains(t, got, " Call Backtrace :\n")
	require.Contains(t, got, "TestHandle_Informational")
	require.NotContains(t, got, "gdb")
}

func TestHandle_Fatal(t *testing.T) {
	var out bytes.Buffer
	exit := &exitRecorder{}
	h := newTestHandler(&out, exit)

	h.Handle(syscall.SIGSEGV, nil)

	require.Equal(t, []int{1}, exit.codes)
	require.Equal(t, Handling, h.State())
	got := out.String()
	require.True(t, strings.HasPrefix(got, "Segmentation Fault trapped in selfdiag-test.\nPrinting Debug Information :\n"), got)
	require.Contains(t, got, "Please collect all the listed information and submit a bug report.\n")
	require.Contains(t, got, "   gdb -core core /usr/bin/selfdiag-test\n")
	require.True(t, strings.HasSuffix(got, "   gdb>disassemble\n"))
}

func TestHandle_FaultNames(t *testing.T) {
	tests := []struct {
		sig  syscall.Signal
		want string
	}{
		{sig: syscall.SIGSEGV, want: "Segmentation Fault trapped in"},
		{sig: syscall.SIGBUS, want: "Bus Error trapped in"},
		{sig: syscall.SIGILL, want: "Illegal Instruction trapped in"},
		{sig: syscall.SIGFPE, want: "Floating Point Exception trapped in"},
	}
	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			var out bytes.Buffer
			exit := &exitRecorder{}
			newTestHandler(&out, exit).Handle(tt.sig, nil)
			require.True(t, strings.HasPrefix(out.String(), tt.want), out.String())
			require.Equal(t, []int{1}, exit.codes)
		})
	}
}

func TestHandle_DoubleFatal(t *testing.T) {
	var out bytes.Buffer
	exit := &exitRecorder{}
	h := newTestHandler(&out, exit)

	h.Handle(syscall.SIGSEGV, nil)
	h.Handle(syscall.SIGSEGV, nil)

	require.Equal(t, []int{1, 1}, exit.codes)
	got := out.String()
	require.Equal(t, 1, strings.Count(got, "Printing Debug Information"))
	require.Equal(t, 2, strings.Count(got, "Segmentation Fault trapped"))
	require.True(t, strings.HasSuffix(got, "gdb>disassemble\nSegmentation Fault trapped\n"), got)
}

func TestHandle_SharedDepthCounter(t *testing.T) {
	var out bytes.Buffer
	exit := &exitRecorder{}
	depth := new(atomic.Int32)
	first := newTestHandler(&out, exit, WithDepthCounter(depth))
	second := newTestHandler(&out, exit, WithDepthCounter(depth))

	first.Handle(syscall.SIGBUS, nil)
	second.Handle(syscall.SIGSEGV, nil)

	require.Equal(t, 1, strings.Count(out.String(), "Printing Debug Information"))
	require.Equal(t, []int{1, 1}, exit.codes)
}

func TestHandle_PanicWhileReporting(t *testing.T) {
	var out bytes.Buffer
	exit := &exitRecorder{}
	table := testTable()
	var calls atomic.Int32
	h := newTestHandler(&out, exit, WithSymbolTable(func() *symbolizer.ProcessSymbolTable {
		if calls.Add(1) == 1 {
			panic(errors.New("table blew up"))
		}
		return table()
	}))

	h.Handle(syscall.SIGUSR2, nil)

	got := out.String()
	require.Contains(t, got, "Non-critical Signal")
	require.Contains(t, got, "Segmentation Fault trapped in selfdiag-test.\n")
	require.Equal(t, []int{1}, exit.codes)
}

func TestReport_Libraries(t *testing.T) {
	t.Run("link map", func(t *testing.T) {
		var out bytes.Buffer
		h := newTestHandler(&out, &exitRecorder{},
			WithSymbolTable(testTable(
				symtest.Library{Base: 0, Path: ""},
				symtest.Library{Base: 0x7f0000001000, Path: "/lib/libc.so.6"},
			)),
			WithMaps(func() (ModuleMaps, error) {
				return &mockModuleMaps{modules: []symbolizer.Library{{Base: 0x400000, Path: "/usr/bin/ignored"}}}, nil
			}),
		)
		h.Report(&out)
		require.Contains(t, out.String(), " Loaded dynamic libraries :\n   [0x7F0000001000]:[/lib/libc.so.6]\n")
		require.NotContains(t, out.String(), "ignored")
	})

	t.Run("module maps", func(t *testing.T) {
		var out bytes.Buffer
		h := newTestHandler(&out, &exitRecorder{},
			WithMaps(func() (ModuleMaps, error) {
				return &mockModuleMaps{modules: []symbolizer.Library{{Base: 0x400000, Path: "/usr/bin/selfdiag-test"}}}, nil
			}),
		)
		h.Report(&out)
		require.Contains(t, out.String(), " Loaded dynamic libraries :\n   [0x00400000]:[/usr/bin/selfdiag-test]\n")
	})

	t.Run("none", func(t *testing.T) {
		var out bytes.Buffer
		h := newTestHandler(&out, &exitRecorder{},
			WithMaps(func() (ModuleMaps, error) { return nil, errors.New("no procfs") }),
		)
		h.Report(&out)
		require.NotContains(t, out.String(), "Loaded dynamic libraries")
		require.True(t, strings.HasPrefix(out.String(), "Printing Debug Information :\n Call Backtrace :\n"), out.String())
	})
}

func TestReport_CallBacktraceStartsAtCaller(t *testing.T) {
	var out bytes.Buffer
	h := newTestHandler(&out, &exitRecorder{})
	h.Report(&out)

	lines := strings.Split(out.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	require.Equal(t, " CALL#: ADDRESS:            FUNCTION:", lines[2])
	require.Contains(t, lines[3], "TestReport_CallBacktraceStartsAtCaller")
}

func TestReport_NoCapabilities(t *testing.T) {
	var out bytes.Buffer
	h := newTestHandler(&out, &exitRecorder{}, WithArch(unwind.None{}))
	h.Handle(syscall.SIGUSR1, &unwind.SignalContext{FP: 0x7f0000})

	require.Equal(t, fmt.Sprintf("Non-critical Signal %d trapped in selfdiag-test.\nPrinting Debug Information :\n", int(syscall.SIGUSR1)), out.String())
}

func TestHandle_WithSignalContext(t *testing.T) {
	img := procmem.NewImage()
	for _, f := range []struct{ fp, next, ret uint64 }{
		{0x7f0000, 0x7f0100, 0x2010},
		{0x7f0100, 0, 0},
	} {
		rec := make([]byte, 16)
		binary.LittleEndian.PutUint64(rec, f.next)
		binary.LittleEndian.PutUint64(rec[8:], f.ret)
		img.Map(f.fp, rec)
	}

	var out bytes.Buffer
	exit := &exitRecorder{}
	h := newTestHandler(&out, exit,
		WithArch(fpArch{}),
		WithMemory(procmem.NewReader(img, binary.LittleEndian, 8)),
	)
	ctx := &unwind.SignalContext{
		Registers: []unwind.Register{
			{Name: "RAX", Value: 1},
			{Name: "RBX", Value: 2},
			{Name: "RBP", Value: 0x7f0000},
			{Name: "RSP", Value: 0x7eff00},
			{Name: "RIP", Value: 0x1020},
		},
		FP: 0x7f0000,
		SP: 0x7eff00,
		IP: 0x1020,
	}
	h.Handle(syscall.SIGSEGV, ctx)

	require.Equal(t, "Segmentation Fault trapped in selfdiag-test.\n"+
		"Printing Debug Information :\n"+
		" Signal Context :\n"+
		"  Registers\n"+
		"   RAX: 0x00000001  RBX: 0x00000002  RBP: 0x007F0000  RSP: 0x007EFF00\n"+
		"   RIP: 0x00001020\n"+
		" Stack Backtrace :\n"+
		"   FRAME               NEXT FRAME          STACK               FUNCTION\n"+
		"   0x007F0000  0x007F0100  0x007EFF00  [alpha+0x20(32)]\n"+
		"   0x007F0100  0x00000000  0x00002010  [program entry point]\n",
		strings.SplitAfter(out.String(), "[program entry point]\n")[0])
	require.NotContains(t, out.String(), "Call Backtrace")
	require.Equal(t, []int{1}, exit.codes)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "armed", Armed.String())
	require.Equal(t, "handling", Handling.String())
	require.Equal(t, "State(7)", State(7).String())
}

func TestIsFatal(t *testing.T) {
	require.True(t, IsFatal(syscall.SIGSEGV))
	require.True(t, IsFatal(syscall.SIGFPE))
	require.False(t, IsFatal(syscall.SIGUSR1))
	require.False(t, IsFatal(syscall.SIGHUP))
}
