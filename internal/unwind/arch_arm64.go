package unwind

// SP is approximate on arm64: it points just past the frame record, not at
// the end of the caller's locals.
var current Arch = &framePointerArch{fpName: "X29", spName: "SP", ipName: "PC"}

// framePointer returns the frame pointer of its caller.
func framePointer() uintptr
