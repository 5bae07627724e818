package catalog

import "time"

// Snapshot is an immutable view of the catalog at one point in time.
type Snapshot struct {
	Initiatives []Initiative
	Skipped     []SkippedRow
	LoadedAt    time.Time
}

// Len returns the number of initiatives; a nil snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Initiatives)
}

// Lookup resolves a 1-based initiative id. ok is false when id falls outside
// the snapshot.
func (s *Snapshot) Lookup(id int) (Initiative, bool) {
	if id < 1 || id > s.Len() {
		return Initiative{}, false
	}
	return s.Initiatives[id-1], true
}
