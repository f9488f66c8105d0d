package symbolizer

const (
	// Unknown is returned by resolvers when no function symbol covers an address.
	Unknown = "unknown"
	// UnresolvedOffset accompanies Unknown.
	UnresolvedOffset int64 = -1
)

type Symbol struct {
	Name   string
	Addr   uint64
	Offset int64
}

// Library is a shared object mapped into the process.
type Library struct {
	Base uint64
	Path string
}

type ProcMapsProvider interface {
	FindRegion(pc uint64) *MapRegion
	Refresh() error
}
