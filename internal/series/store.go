package series

import (
	"math"
	"sort"
	"sync"
	"time"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// Config controls retention and amendment behavior.
type Config struct {
	// RetentionHorizon evicts closed windows whose end is older than this.
	RetentionHorizon time.Duration
	// AmendTolerance accepts late ticks for windows that closed within it.
	AmendTolerance time.Duration
	// SweepInterval paces the background eviction sweep.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetentionHorizon <= 0 {
		c.RetentionHorizon = 24 * time.Hour
	}
	if c.AmendTolerance <= 0 {
		c.AmendTolerance = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
	return c
}

// Store owns all closed windows plus the last trade per instrument.
// Closed windows are immutable; amendments swap in a fresh copy, so a
// reader holding a window pointer never observes a partial update.
type Store struct {
	cfg     Config
	metrics *obs.Metrics
	clock   func() time.Time

	mu          sync.RWMutex
	instruments map[schema.InstrumentID]*instrumentSeries
}

type instrumentSeries struct {
	mu            sync.RWMutex
	byGranularity map[schema.Granularity]*windowList
	lastTrade     schema.Price
	lastTradeTs   int64
	hasTrade      bool
}

type windowList struct {
	windows []*schema.Window
}

// NewStore creates an empty store.
func NewStore(cfg Config, metrics *obs.Metrics) *Store {
	return &Store{
		cfg:         cfg.withDefaults(),
		metrics:     metrics,
		clock:       time.Now,
		instruments: make(map[schema.InstrumentID]*instrumentSeries),
	}
}

// WithClock swaps the wall clock; tests use it to drive eviction.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Store) series(id schema.InstrumentID) *instrumentSeries {
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst != nil {
		return inst
	}

	s.mu.Lock()
	inst = s.instruments[id]
	if inst == nil {
		inst = &instrumentSeries{byGranularity: make(map[schema.Granularity]*windowList)}
		s.instruments[id] = inst
	}
	s.mu.Unlock()
	return inst
}

// Append stores a closed window. Appends are ordered per instrument by
// the owning shard; out-of-order starts are inserted at the right slot.
func (s *Store) Append(w schema.Window) {
	inst := s.series(w.Instrument)
	cp := w

	inst.mu.Lock()
	list := inst.byGranularity[w.Granularity]
	if list == nil {
		list = &windowList{}
		inst.byGranularity[w.Granularity] = list
	}
	n := len(list.windows)
	if n == 0 || list.windows[n-1].StartNano < cp.StartNano {
		list.windows = append(list.windows, &cp)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return list.windows[i].StartNano >= cp.StartNano
		})
		if idx < n && list.windows[idx].StartNano == cp.StartNano {
			list.windows[idx] = &cp
		} else {
			list.windows = append(list.windows, nil)
			copy(list.windows[idx+1:], list.windows[idx:])
			list.windows[idx] = &cp
		}
	}
	inst.mu.Unlock()
}

// RecordTrade tracks the most recent trade print for an instrument.
func (s *Store) RecordTrade(id schema.InstrumentID, price schema.Price, tsNano int64) {
	inst := s.series(id)
	inst.mu.Lock()
	if !inst.hasTrade || tsNano >= inst.lastTradeTs {
		inst.lastTrade = price
		inst.lastTradeTs = tsNano
		inst.hasTrade = true
	}
	inst.mu.Unlock()
}

// Amend folds a late tick into the already-closed window it belongs to.
// The amended window replaces the original wholesale (copy-on-amend) and
// carries WindowFlagAmended. Past the tolerance it returns ErrWindowClosed.
func (s *Store) Amend(tick schema.Tick, g schema.Granularity) (schema.Window, error) {
	inst := s.series(tick.Instrument)
	start := g.AlignDown(tick.ExchangeTsNano)
	now := s.clock().UnixNano()

	inst.mu.Lock()
	defer inst.mu.Unlock()

	list := inst.byGranularity[g]
	if list == nil {
		s.metrics.IncAmendReject()
		return schema.Window{}, exception.ErrWindowNotFound
	}
	idx := sort.Search(len(list.windows), func(i int) bool {
		return list.windows[i].StartNano >= start
	})
	if idx >= len(list.windows) || list.windows[idx].StartNano != start {
		s.metrics.IncAmendReject()
		return schema.Window{}, exception.ErrWindowNotFound
	}
	old := list.windows[idx]
	if now-old.EndNano > int64(s.cfg.AmendTolerance) {
		s.metrics.IncAmendReject()
		return schema.Window{}, exception.ErrWindowClosed
	}

	amended := foldAmend(*old, tick)
	if !amended.CheckInvariants() {
		s.metrics.IncAmendReject()
		return schema.Window{}, exception.ErrWindowInvariant
	}
	list.windows[idx] = &amended
	s.metrics.IncAmendment()
	return amended, nil
}

// foldAmend merges a late tick into a closed window copy. The close price
// of a non-empty window is final; a gap window adopts the tick outright.
func foldAmend(w schema.Window, tick schema.Tick) schema.Window {
	w.Flags |= schema.WindowFlagAmended
	if w.Empty() {
		w.Flags &^= schema.WindowFlagGapFill
		w.Open = tick.Price
		w.High = tick.Price
		w.Low = tick.Price
		w.Close = tick.Price
		w.Volume = tick.Volume
		w.VWAP = tick.Price
		w.TickCount = 1
		return w
	}
	if tick.Price > w.High {
		w.High = tick.Price
	}
	if tick.Price < w.Low {
		w.Low = tick.Price
	}
	oldVol := float64(w.Volume)
	newVol := oldVol + float64(tick.Volume)
	if newVol > 0 {
		pv := float64(w.VWAP)*oldVol + float64(tick.Price)*float64(tick.Volume)
		w.VWAP = schema.Price(math.Round(pv / newVol))
	}
	w.Volume += tick.Volume
	w.TickCount++
	return w
}

// LatestClose returns the close of the most recent closed window.
func (s *Store) LatestClose(id schema.InstrumentID, g schema.Granularity) (schema.Price, bool) {
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst == nil {
		return 0, false
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()
	list := inst.byGranularity[g]
	if list == nil || len(list.windows) == 0 {
		return 0, false
	}
	return list.windows[len(list.windows)-1].Close, true
}

// LastTrade returns the most recent trade print.
func (s *Store) LastTrade(id schema.InstrumentID) (schema.Price, bool) {
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst == nil {
		return 0, false
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	if !inst.hasTrade {
		return 0, false
	}
	return inst.lastTrade, true
}

// CurrentPrice resolves the marking price: latest closed window close,
// falling back to the last trade when no window has closed yet.
func (s *Store) CurrentPrice(id schema.InstrumentID, g schema.Granularity) (schema.Price, bool) {
	if price, ok := s.LatestClose(id, g); ok {
		return price, true
	}
	return s.LastTrade(id)
}

// LastWindows returns the most recent closed window per granularity,
// used to restart a quarantined instrument from consistent state.
func (s *Store) LastWindows(id schema.InstrumentID) map[schema.Granularity]schema.Window {
	out := make(map[schema.Granularity]schema.Window)
	s.mu.RLock()
	inst := s.instruments[id]
	s.mu.RUnlock()
	if inst == nil {
		return out
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	for g, list := range inst.byGranularity {
		if n := len(list.windows); n > 0 {
			out[g] = *list.windows[n-1]
		}
	}
	return out
}
