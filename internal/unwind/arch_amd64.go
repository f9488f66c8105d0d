package unwind

var current Arch = &framePointerArch{fpName: "RBP", spName: "RSP", ipName: "RIP"}

// framePointer returns the frame pointer of its caller.
func framePointer() uintptr
