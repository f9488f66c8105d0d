package symbolizer

import "sync/atomic"

// TableCache publishes a ProcessSymbolTable at most once. It takes no locks,
// so it can be used from a crash report that interrupted anything, including
// a previous call to Get.
type TableCache struct {
	table atomic.Pointer[ProcessSymbolTable]
	load  func() *ProcessSymbolTable
}

func NewTableCache(load func() *ProcessSymbolTable) *TableCache {
	return &TableCache{load: load}
}

// Get returns the cached table, loading it on first use. If two callers race
// the first published table wins and both get it.
func (c *TableCache) Get() *ProcessSymbolTable {
	if t := c.table.Load(); t != nil {
		return t
	}
	t := c.load()
	if t == nil {
		t = &ProcessSymbolTable{}
	}
	if c.table.CompareAndSwap(nil, t) {
		return t
	}
	return c.table.Load()
}

var processTables = NewTableCache(LoadProcessSymbolTable)

// Process returns the symbol table of the running executable, loading it on
// first use. It lives for the rest of the process.
func Process() *ProcessSymbolTable {
	return processTables.Get()
}
