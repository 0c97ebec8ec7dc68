package aggregate

import (
	"math"

	"main/internal/schema"
)

// Builder maintains the single mutable window for one
// (instrument, granularity) pair. It is not safe for concurrent use;
// the owning shard is the only writer.
type Builder struct {
	instrument  schema.InstrumentID
	granularity schema.Granularity
	maxGapFill  int

	started    bool
	cur        schema.Window
	pvSum      float64
	lastTickTs int64
	lastClose  schema.Price
}

// NewBuilder creates a builder with no open window.
func NewBuilder(instrument schema.InstrumentID, granularity schema.Granularity, maxGapFill int) *Builder {
	if maxGapFill <= 0 {
		maxGapFill = defaultMaxGapFill
	}
	return &Builder{
		instrument:  instrument,
		granularity: granularity,
		maxGapFill:  maxGapFill,
	}
}

const defaultMaxGapFill = 1000

// CurrentStart returns the start of the open window, if any.
func (b *Builder) CurrentStart() (int64, bool) {
	if !b.started {
		return 0, false
	}
	return b.cur.StartNano, true
}

// Current returns a copy of the open window with up-to-date vwap.
func (b *Builder) Current() (schema.Window, bool) {
	if !b.started {
		return schema.Window{}, false
	}
	w := b.cur
	w.VWAP = b.vwap()
	return w, true
}

// Apply folds a tick into the open window. Ticks in a later window close
// the current one first; the returned slice holds every newly closed
// window in time order (gap windows included). inWindow is false when the
// tick belongs to an already-closed window and was not applied.
func (b *Builder) Apply(tick schema.Tick) (closed []schema.Window, inWindow bool) {
	ts := tick.ExchangeTsNano
	start := b.granularity.AlignDown(ts)

	if !b.started {
		b.open(start, tick)
		return nil, true
	}

	switch {
	case start == b.cur.StartNano:
		b.fold(tick, ts)
		return nil, true
	case start > b.cur.StartNano:
		closed = b.roll(start)
		b.open(start, tick)
		return closed, true
	default:
		return nil, false
	}
}

// Close finalizes and returns the open window, leaving the builder empty.
// The carry-forward price survives so gap windows stay continuous.
func (b *Builder) Close() (schema.Window, bool) {
	if !b.started {
		return schema.Window{}, false
	}
	w := b.cur
	w.VWAP = b.vwap()
	b.lastClose = w.Close
	b.started = false
	b.pvSum = 0
	return w, true
}

// Reset discards the open window and resumes from the given closed window.
// Used when a shard restarts an instrument after a consistency fault.
func (b *Builder) Reset(last schema.Window) {
	b.started = false
	b.pvSum = 0
	b.lastTickTs = 0
	b.lastClose = last.Close
}

func (b *Builder) open(start int64, tick schema.Tick) {
	b.started = true
	b.cur = schema.Window{
		Instrument:  b.instrument,
		Granularity: b.granularity,
		StartNano:   start,
		EndNano:     start + int64(b.granularity),
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.Volume,
		TickCount:   1,
	}
	b.pvSum = float64(tick.Price) * float64(tick.Volume)
	b.lastTickTs = tick.ExchangeTsNano
}

func (b *Builder) fold(tick schema.Tick, ts int64) {
	if tick.Price > b.cur.High {
		b.cur.High = tick.Price
	}
	if tick.Price < b.cur.Low {
		b.cur.Low = tick.Price
	}
	if ts >= b.lastTickTs {
		b.cur.Close = tick.Price
		b.lastTickTs = ts
	}
	b.cur.Volume += tick.Volume
	b.cur.TickCount++
	b.pvSum += float64(tick.Price) * float64(tick.Volume)
}

// roll closes the current window and emits gap windows up to newStart.
func (b *Builder) roll(newStart int64) []schema.Window {
	closed := make([]schema.Window, 0, 2)
	w, _ := b.Close()
	closed = append(closed, w)

	step := int64(b.granularity)
	gaps := (newStart - w.EndNano) / step
	if gaps <= 0 {
		return closed
	}

	firstGap := w.EndNano
	if int(gaps) > b.maxGapFill {
		// A silent feed past the fill cap would flood the store with
		// windows already beyond any retention horizon.
		firstGap = newStart - int64(b.maxGapFill)*step
	}
	carry := b.lastClose
	for start := firstGap; start < newStart; start += step {
		closed = append(closed, schema.Window{
			Instrument:  b.instrument,
			Granularity: b.granularity,
			Flags:       schema.WindowFlagGapFill,
			StartNano:   start,
			EndNano:     start + step,
			Open:        carry,
			High:        carry,
			Low:         carry,
			Close:       carry,
			VWAP:        carry,
			TickCount:   0,
		})
	}
	return closed
}

func (b *Builder) vwap() schema.Price {
	if b.cur.Volume <= 0 {
		return b.cur.Close
	}
	v := b.pvSum / float64(b.cur.Volume)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return b.cur.Close
	}
	return schema.Price(math.Round(v))
}
