package symbolizer

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

type MapRegion struct {
	Start, End uint64
	Offset     uint64
	Perms      string
	Path       string
}

// MapsSource lists the mappings of a process. procfs.Proc implements it.
type MapsSource interface {
	ProcMaps() ([]*procfs.ProcMap, error)
}

// ProcMaps is a snapshot of /proc/<pid>/maps, used to name addresses that the
// dynamic symbol table cannot, and to list loaded modules when the dynamic
// linker's link map is not available.
type ProcMaps struct {
	source  MapsSource
	regions []MapRegion
}

// NewSelfMaps reads the mappings of the calling process.
func NewSelfMaps() (*ProcMaps, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	return NewProcMaps(self)
}

func NewProcMaps(source MapsSource) (*ProcMaps, error) {
	p := &ProcMaps{source: source}
	err := p.Refresh()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TODO: regions are sorted by start address, switch to a binary search
func (m *ProcMaps) FindRegion(pc uint64) *MapRegion {
	for i := range m.regions {
		r := &m.regions[i]
		if pc >= r.Start && pc < r.End {
			return r
		}
	}
	return nil
}

func (m *ProcMaps) Refresh() error {
	maps, err := m.source.ProcMaps()
	if err != nil {
		return err
	}
	regions := make([]MapRegion, 0, len(maps))
	for _, pm := range maps {
		if pm == nil {
			continue
		}
		if pm.EndAddr <= pm.StartAddr {
			slog.Warn("Skipping malformed map entry", "start", pm.StartAddr, "end", pm.EndAddr, "path", pm.Pathname)
			continue
		}
		regions = append(regions, MapRegion{
			Start:  uint64(pm.StartAddr),
			End:    uint64(pm.EndAddr),
			Offset: uint64(pm.Offset),
			Perms:  permString(pm.Perms),
			Path:   pm.Pathname,
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	m.regions = regions
	return nil
}

// Modules lists file backed mappings once per path, at the lowest address the
// file is mapped at, in address order.
func (m *ProcMaps) Modules() []Library {
	seen := make(map[string]bool)
	var mods []Library
	for _, r := range m.regions {
		if !isFileBacked(r.Path) || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		mods = append(mods, Library{Base: r.Start, Path: r.Path})
	}
	return mods
}

func isFileBacked(path string) bool {
	// pseudo mappings look like [heap], [stack], [vdso]
	return path != "" && !strings.HasPrefix(path, "[") && !strings.HasPrefix(path, "anon_inode:")
}

func permString(p *procfs.ProcMapPermissions) string {
	if p == nil {
		return "----"
	}
	b := []byte("----")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	if p.Shared {
		b[3] = 's'
	} else if p.Private {
		b[3] = 'p'
	}
	return string(b)
}
