package unwind

const reserveBytes = 128 << 10

// ReserveStack grows the calling goroutine's stack ahead of a report. Frame
// addresses in a SignalContext are plain integers, so a stack copy triggered
// halfway through the report would leave them pointing at the old stack.
//
//go:noinline
func ReserveStack() {
	var pad [reserveBytes]byte
	touch(pad[:])
}

//go:noinline
func touch(b []byte) byte {
	return b[len(b)-1]
}
