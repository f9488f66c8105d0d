package symbolizer

import "github.com/ianlancetaylor/demangle"

// DefaultMaxTableBytes bounds the single allocation made for the symbol and
// string tables.
const DefaultMaxTableBytes = 64 << 20

// Option configures how a ProcessSymbolTable is loaded.
type Option func(*options)

type options struct {
	maxTableBytes   int
	demangle        bool
	demangleOptions []demangle.Option
}

func defaultOptions() options {
	return options{maxTableBytes: DefaultMaxTableBytes}
}

// WithMaxTableBytes caps the bytes copied out of the symbol and string tables.
// Larger tables are treated as unavailable.
func WithMaxTableBytes(n int) Option {
	return func(o *options) {
		o.maxTableBytes = n
	}
}

// WithDemangle demangles C++ and Rust names returned by Resolve.
func WithDemangle(opts ...demangle.Option) Option {
	return func(o *options) {
		o.demangle = true
		o.demangleOptions = opts
	}
}
