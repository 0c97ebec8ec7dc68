package series

import (
	"sort"

	"main/internal/schema"
)

// Cursor iterates a finite, ordered set of closed windows. The matching
// window pointers are copied out under the read lock when the cursor is
// created, so iteration is unaffected by concurrent appends, amendments,
// or eviction, and Reset replays the same snapshot.
type Cursor struct {
	windows []*schema.Window
	idx     int
}

// Next returns the next window in the range.
func (c *Cursor) Next() (schema.Window, bool) {
	if c == nil || c.idx >= len(c.windows) {
		return schema.Window{}, false
	}
	w := *c.windows[c.idx]
	c.idx++
	return w, true
}

// Reset restarts iteration from the beginning of the snapshot.
func (c *Cursor) Reset() {
	if c != nil {
		c.idx = 0
	}
}

// Len returns the number of windows in the snapshot.
func (c *Cursor) Len() int {
	if c == nil {
		return 0
	}
	return len(c.windows)
}

// RangeQuery returns a cursor over closed windows whose start falls in
// [startNano, endNano).
func (s *Store) RangeQuery(id schema.InstrumentID, g schema.Granularity, startNano, endNano int64) *Cursor {
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst == nil {
		return &Cursor{}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()
	list := inst.byGranularity[g]
	if list == nil || len(list.windows) == 0 {
		return &Cursor{}
	}

	lo := sort.Search(len(list.windows), func(i int) bool {
		return list.windows[i].StartNano >= startNano
	})
	hi := sort.Search(len(list.windows), func(i int) bool {
		return list.windows[i].StartNano >= endNano
	})
	if lo >= hi {
		return &Cursor{}
	}
	snapshot := make([]*schema.Window, hi-lo)
	copy(snapshot, list.windows[lo:hi])
	return &Cursor{windows: snapshot}
}

// TailQuery returns a cursor over the most recent n closed windows.
func (s *Store) TailQuery(id schema.InstrumentID, g schema.Granularity, n int) *Cursor {
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst == nil || n <= 0 {
		return &Cursor{}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()
	list := inst.byGranularity[g]
	if list == nil || len(list.windows) == 0 {
		return &Cursor{}
	}
	lo := len(list.windows) - n
	if lo < 0 {
		lo = 0
	}
	snapshot := make([]*schema.Window, len(list.windows)-lo)
	copy(snapshot, list.windows[lo:])
	return &Cursor{windows: snapshot}
}
