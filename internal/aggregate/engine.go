package aggregate

import (
	"main/internal/schema"
	"main/pkg/exception"
)

// Result describes the effect of applying one tick.
type Result struct {
	// Closed holds windows finalized by this tick across all granularities,
	// gap windows included, in time order per granularity.
	Closed []schema.Window
	// Late holds the granularities whose current window the tick predates;
	// the store handles those as amendments.
	Late []schema.Granularity
}

// Engine maintains one builder per granularity for a single instrument.
// Each granularity aggregates the raw tick stream independently, so
// rounding never compounds across granularities. Not safe for concurrent
// use; owned by exactly one pipeline shard.
type Engine struct {
	instrument    schema.InstrumentID
	granularities []schema.Granularity
	builders      map[schema.Granularity]*Builder
}

// NewEngine creates builders for every configured granularity.
func NewEngine(instrument schema.InstrumentID, granularities []schema.Granularity, maxGapFill int) *Engine {
	builders := make(map[schema.Granularity]*Builder, len(granularities))
	for _, g := range granularities {
		builders[g] = NewBuilder(instrument, g, maxGapFill)
	}
	return &Engine{
		instrument:    instrument,
		granularities: granularities,
		builders:      builders,
	}
}

// Granularities returns the configured granularities.
func (e *Engine) Granularities() []schema.Granularity {
	return e.granularities
}

// Apply folds a tick into every granularity and validates closed windows.
// A window that fails its invariants is returned inside Result along with
// ErrWindowInvariant; the caller quarantines the instrument.
func (e *Engine) Apply(tick schema.Tick) (Result, error) {
	var res Result
	for _, g := range e.granularities {
		builder := e.builders[g]
		closed, inWindow := builder.Apply(tick)
		if !inWindow {
			res.Late = append(res.Late, g)
			continue
		}
		for _, w := range closed {
			if !w.CheckInvariants() {
				res.Closed = append(res.Closed, w)
				return res, exception.ErrWindowInvariant
			}
		}
		res.Closed = append(res.Closed, closed...)
	}
	return res, nil
}

// Current returns the open window for a granularity.
func (e *Engine) Current(g schema.Granularity) (schema.Window, bool) {
	builder, ok := e.builders[g]
	if !ok {
		return schema.Window{}, false
	}
	return builder.Current()
}

// Restart rebuilds every builder from the given last consistent closed
// windows (keyed by granularity); missing entries reset to empty.
func (e *Engine) Restart(last map[schema.Granularity]schema.Window) {
	for _, g := range e.granularities {
		e.builders[g] = NewBuilder(e.instrument, g, e.builders[g].maxGapFill)
		if w, ok := last[g]; ok {
			e.builders[g].Reset(w)
		}
	}
}
