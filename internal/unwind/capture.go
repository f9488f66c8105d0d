package unwind

import "runtime"

// MaxCalls is the number of return addresses a CallList can hold.
const MaxCalls = 32

// CallList holds up to MaxCalls return addresses, innermost first, followed
// by at least one zero.
type CallList [MaxCalls + 1]uintptr

// CaptureCallList records the return addresses of the calling goroutine,
// skipping CaptureCallList itself and skip further callers. The list is empty
// when the architecture cannot capture return addresses.
func CaptureCallList(skip int) CallList {
	return captureCallList(Current(), skip+1)
}

func captureCallList(arch Arch, skip int) CallList {
	var calls CallList
	if !arch.CanCaptureReturnAddresses() {
		return calls
	}
	// 0 is runtime.Callers, 1 is this function
	runtime.Callers(skip+2, calls[:MaxCalls])
	return calls
}

// Len returns the number of addresses before the first zero.
func (c *CallList) Len() int {
	for i, pc := range c {
		if pc == 0 {
			return i
		}
	}
	return len(c)
}

func (c *CallList) Addrs() []uintptr {
	return c[:c.Len()]
}
