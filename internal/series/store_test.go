package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

func minuteWindow(inst schema.InstrumentID, minute int64, close schema.Price) schema.Window {
	start := minute * int64(time.Minute)
	return schema.Window{
		Instrument:  inst,
		Granularity: schema.Granularity1m,
		StartNano:   start,
		EndNano:     start + int64(time.Minute),
		Open:        close, High: close, Low: close, Close: close,
		Volume:    1,
		VWAP:      close,
		TickCount: 1,
	}
}

func TestRangeQueryIsFiniteAndRestartable(t *testing.T) {
	store := NewStore(Config{}, nil)
	for m := int64(0); m < 5; m++ {
		store.Append(minuteWindow(1, m, schema.Price(100+m)))
	}

	cur := store.RangeQuery(1, schema.Granularity1m, int64(time.Minute), 4*int64(time.Minute))
	require.Equal(t, 3, cur.Len())

	var first []schema.Price
	for w, ok := cur.Next(); ok; w, ok = cur.Next() {
		first = append(first, w.Close)
	}
	assert.Equal(t, []schema.Price{101, 102, 103}, first)

	cur.Reset()
	w, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, schema.Price(101), w.Close)
}

func TestAmendWithinToleranceVisibleToQueries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewStore(Config{AmendTolerance: time.Hour * 24 * 365 * 100}, nil).
		WithClock(func() time.Time { return now })

	store.Append(minuteWindow(1, 0, 100))

	late := schema.Tick{
		Instrument:     1,
		Price:          120,
		Volume:         2,
		ExchangeTsNano: int64(30 * time.Second),
		Flags:          schema.TickFlagLateArrival,
	}
	amended, err := store.Amend(late, schema.Granularity1m)
	require.NoError(t, err)
	assert.Equal(t, schema.WindowFlagAmended, amended.Flags&schema.WindowFlagAmended)

	cur := store.RangeQuery(1, schema.Granularity1m, 0, int64(time.Minute))
	w, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, schema.WindowFlagAmended, w.Flags&schema.WindowFlagAmended)
	assert.Equal(t, schema.Price(120), w.High)
	assert.Equal(t, uint32(2), w.TickCount)
	assert.Equal(t, schema.Quantity(3), w.Volume)
	// Close of a non-empty window is final.
	assert.Equal(t, schema.Price(100), w.Close)
}

func TestAmendPastToleranceRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewStore(Config{AmendTolerance: time.Second}, nil).
		WithClock(func() time.Time { return now })

	store.Append(minuteWindow(1, 0, 100))

	late := schema.Tick{Instrument: 1, Price: 99, Volume: 1, ExchangeTsNano: int64(10 * time.Second)}
	_, err := store.Amend(late, schema.Granularity1m)
	assert.ErrorIs(t, err, exception.ErrWindowClosed)
}

func TestAmendMissingWindow(t *testing.T) {
	store := NewStore(Config{}, nil)
	_, err := store.Amend(schema.Tick{Instrument: 1, Price: 1, Volume: 1}, schema.Granularity1m)
	assert.ErrorIs(t, err, exception.ErrWindowNotFound)
}

func TestAmendRejectsAreCounted(t *testing.T) {
	metrics := obs.NewMetrics()
	now := time.Unix(1_700_000_000, 0)
	store := NewStore(Config{AmendTolerance: time.Second}, metrics).
		WithClock(func() time.Time { return now })

	store.Append(minuteWindow(1, 0, 100))

	// unknown instrument, unmatched start, and past tolerance all count
	_, err := store.Amend(schema.Tick{Instrument: 2, Price: 1, Volume: 1}, schema.Granularity1m)
	assert.ErrorIs(t, err, exception.ErrWindowNotFound)

	miss := schema.Tick{Instrument: 1, Price: 1, Volume: 1, ExchangeTsNano: int64(5 * time.Minute)}
	_, err = store.Amend(miss, schema.Granularity1m)
	assert.ErrorIs(t, err, exception.ErrWindowNotFound)

	late := schema.Tick{Instrument: 1, Price: 99, Volume: 1, ExchangeTsNano: int64(10 * time.Second)}
	_, err = store.Amend(late, schema.Granularity1m)
	assert.ErrorIs(t, err, exception.ErrWindowClosed)

	assert.Equal(t, uint64(3), metrics.Snapshot().AmendRejects)
}

func TestAmendGapWindowAdoptsTick(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewStore(Config{AmendTolerance: time.Hour * 24 * 365 * 100}, nil).
		WithClock(func() time.Time { return now })

	gap := minuteWindow(1, 0, 100)
	gap.Flags = schema.WindowFlagGapFill
	gap.Volume = 0
	gap.TickCount = 0
	store.Append(gap)

	late := schema.Tick{Instrument: 1, Price: 105, Volume: 4, ExchangeTsNano: int64(30 * time.Second)}
	_, err := store.Amend(late, schema.Granularity1m)
	require.NoError(t, err)

	cur := store.RangeQuery(1, schema.Granularity1m, 0, int64(time.Minute))
	w, ok := cur.Next()
	require.True(t, ok)
	assert.False(t, w.Empty())
	assert.Equal(t, schema.Price(105), w.Close)
	assert.Equal(t, uint32(1), w.TickCount)
	assert.Zero(t, w.Flags&schema.WindowFlagGapFill)
}

func TestEvictionIsFIFOAndSparesCursors(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	store := NewStore(Config{RetentionHorizon: time.Hour}, nil)

	for m := int64(0); m < 4; m++ {
		w := minuteWindow(1, m, schema.Price(100+m))
		w.StartNano += base.UnixNano()
		w.EndNano += base.UnixNano()
		store.Append(w)
	}

	cur := store.RangeQuery(1, schema.Granularity1m, base.UnixNano(), base.UnixNano()+4*int64(time.Minute))
	require.Equal(t, 4, cur.Len())

	// Cutoff lands between the second and third window ends.
	sweepAt := base.Add(time.Hour + 2*time.Minute + time.Second)
	evicted := NewSweep(store).Once(sweepAt)
	assert.Equal(t, 2, evicted)

	after := store.RangeQuery(1, schema.Granularity1m, base.UnixNano(), base.UnixNano()+4*int64(time.Minute))
	assert.Equal(t, 2, after.Len())
	w, ok := after.Next()
	require.True(t, ok)
	assert.Equal(t, schema.Price(102), w.Close)

	// The pre-sweep cursor still iterates its full snapshot.
	var count int
	for _, ok := cur.Next(); ok; _, ok = cur.Next() {
		count++
	}
	assert.Equal(t, 4, count)
}

func TestCurrentPriceFallsBackToLastTrade(t *testing.T) {
	store := NewStore(Config{}, nil)

	if _, ok := store.CurrentPrice(1, schema.Granularity1m); ok {
		t.Fatal("no price should be available yet")
	}

	store.RecordTrade(1, 250, 10)
	price, ok := store.CurrentPrice(1, schema.Granularity1m)
	require.True(t, ok)
	assert.Equal(t, schema.Price(250), price)

	store.Append(minuteWindow(1, 0, 300))
	price, ok = store.CurrentPrice(1, schema.Granularity1m)
	require.True(t, ok)
	assert.Equal(t, schema.Price(300), price)
}
