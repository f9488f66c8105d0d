package unwind

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/VladMinzatu/selfdiag/internal/procmem"
	"github.com/VladMinzatu/selfdiag/internal/symbolizer"
	"github.com/stretchr/testify/require"
)

//go:noinline
func captureHere() CallList {
	return CaptureCallList(0)
}

func TestCaptureCallList(t *testing.T) {
	calls := captureHere()

	require.Greater(t, calls.Len(), 0)
	require.LessOrEqual(t, calls.Len(), MaxCalls)
	require.Zero(t, calls[MaxCalls])

	frames := runtime.CallersFrames(calls.Addrs())
	f, _ := frames.Next()
	require.True(t, strings.HasSuffix(f.Function, ".captureHere"), f.Function)
}

func TestCaptureCallList_Deterministic(t *testing.T) {
	var lists []CallList
	for range 2 {
		lists = append(lists, captureHere())
	}
	require.Equal(t, lists[0], lists[1])
}

func TestCaptureCallList_Deep(t *testing.T) {
	var recurse func(n int) CallList
	recurse = func(n int) CallList {
		if n == 0 {
			return CaptureCallList(0)
		}
		return recurse(n - 1)
	}
	calls := recurse(2 * MaxCalls)
	require.Equal(t, MaxCalls, calls.Len())
	require.Zero(t, calls[MaxCalls])
}

func TestCaptureCallList_Unsupported(t *testing.T) {
	calls := captureCallList(None{}, 0)
	require.Zero(t, calls.Len())
	require.Empty(t, calls.Addrs())
}

func TestSnapshotAndWalk(t *testing.T) {
	arch := Current()
	if !arch.HasFramePointers() {
		t.Skipf("no frame pointers on %s", arch.Name())
	}
	ReserveStack()
	ctx := arch.Snapshot()
	if ctx == nil {
		t.Skip("process memory is not readable")
	}
	require.Len(t, ctx.Registers, 3)
	require.NotZero(t, ctx.FP)
	require.NotZero(t, ctx.IP)

	w := &Walker{
		Memory:   procmem.SelfReader(),
		Fallback: symbolizer.NewRuntimeSymbolizer(nil),
	}
	var out bytes.Buffer
	n := w.Walk(&out, ctx.FP, ctx.SP, ctx.IP)
	require.GreaterOrEqual(t, n, 2, out.String())
	require.Contains(t, out.String(), "TestSnapshotAndWalk", out.String())
	require.Contains(t, out.String(), "testing.tRunner", out.String())
}

//go:noinline
func snapshotFromHere() *SignalContext {
	return Current().Snapshot()
}

func TestSnapshot_DescribesDirectCaller(t *testing.T) {
	if !Current().HasFramePointers() {
		t.Skipf("no frame pointers on %s", Current().Name())
	}
	ctx := snapshotFromHere()
	if ctx == nil {
		t.Skip("process memory is not readable")
	}
	fn := runtime.FuncForPC(uintptr(ctx.IP - 1))
	require.NotNil(t, fn)
	require.True(t, strings.HasSuffix(fn.Name(), ".snapshotFromHere"), fn.Name())
}

func TestNone(t *testing.T) {
	var arch Arch = None{}
	require.False(t, arch.HasFramePointers())
	require.False(t, arch.CanCaptureReturnAddresses())
	require.False(t, arch.CanDumpRegisters())
	require.Nil(t, arch.Snapshot())
	require.Equal(t, runtime.GOARCH, arch.Name())
}
