package series

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// Sweep evicts closed windows older than the retention horizon, oldest
// first per instrument. The exclusive section covers only the removal
// points; cursors created before the sweep keep their copied pointers.
func (s *Sweep) run(now time.Time) int {
	cutoff := now.Add(-s.store.cfg.RetentionHorizon).UnixNano()
	evicted := 0

	s.store.mu.RLock()
	ids := make([]schema.InstrumentID, 0, len(s.store.instruments))
	for id := range s.store.instruments {
		ids = append(ids, id)
	}
	s.store.mu.RUnlock()

	for _, id := range ids {
		s.store.mu.RLock()
		inst := s.store.instruments[id]
		s.store.mu.RUnlock()
		if inst == nil {
			continue
		}

		inst.mu.Lock()
		for _, list := range inst.byGranularity {
			drop := 0
			for drop < len(list.windows) && list.windows[drop].EndNano < cutoff {
				drop++
			}
			if drop > 0 {
				remaining := make([]*schema.Window, len(list.windows)-drop)
				copy(remaining, list.windows[drop:])
				list.windows = remaining
				evicted += drop
			}
		}
		inst.mu.Unlock()
	}

	s.store.metrics.AddEvicted(evicted)
	return evicted
}

// Sweep drives periodic retention eviction for a store.
type Sweep struct {
	store *Store
}

// NewSweep creates a sweeper bound to the store.
func NewSweep(store *Store) *Sweep {
	return &Sweep{store: store}
}

// Once runs a single eviction pass and returns the evicted window count.
func (s *Sweep) Once(now time.Time) int {
	return s.run(now)
}

// Run sweeps on the configured interval until the context is done.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.store.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.run(now); n > 0 {
				logs.Infof("retention evicted %d windows", n)
			}
		}
	}
}
