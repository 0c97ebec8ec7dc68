package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func tickAt(inst schema.InstrumentID, price schema.Price, vol schema.Quantity, at time.Duration, seq uint64) schema.Tick {
	return schema.Tick{
		Instrument:     inst,
		Price:          price,
		Volume:         vol,
		ExchangeTsNano: int64(at),
		Seq:            seq,
	}
}

func TestSingleWindowScenario(t *testing.T) {
	// Three ticks inside one 60s window: open=100 high=102 low=99 close=99.
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1m}, 0)

	for i, tk := range []schema.Tick{
		tickAt(1, 100, 1, 0, 1),
		tickAt(1, 102, 1, 30*time.Second, 2),
		tickAt(1, 99, 1, 45*time.Second, 3),
	} {
		res, err := eng.Apply(tk)
		require.NoError(t, err, "tick %d", i)
		require.Empty(t, res.Closed)
	}

	// A tick in the next minute closes the window.
	res, err := eng.Apply(tickAt(1, 101, 1, 61*time.Second, 4))
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)

	w := res.Closed[0]
	assert.Equal(t, schema.Price(100), w.Open)
	assert.Equal(t, schema.Price(102), w.High)
	assert.Equal(t, schema.Price(99), w.Low)
	assert.Equal(t, schema.Price(99), w.Close)
	assert.Equal(t, uint32(3), w.TickCount)
	assert.Equal(t, schema.Quantity(3), w.Volume)
	assert.True(t, w.CheckInvariants())
}

func TestVWAPUsesRunningSums(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1m}, 0)

	_, err := eng.Apply(tickAt(1, 100, 3, 0, 1))
	require.NoError(t, err)
	_, err = eng.Apply(tickAt(1, 110, 1, time.Second, 2))
	require.NoError(t, err)

	cur, ok := eng.Current(schema.Granularity1m)
	require.True(t, ok)
	// (100*3 + 110*1) / 4 = 102.5, rounded half away from zero.
	assert.Equal(t, schema.Price(103), cur.VWAP)
}

func TestGapWindowsCarryForwardClose(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1m}, 0)

	_, err := eng.Apply(tickAt(1, 100, 1, 0, 1))
	require.NoError(t, err)

	// Next tick is three minutes later: one real close plus two gap windows.
	res, err := eng.Apply(tickAt(1, 105, 1, 3*time.Minute, 2))
	require.NoError(t, err)
	require.Len(t, res.Closed, 3)

	assert.Equal(t, uint32(1), res.Closed[0].TickCount)
	for _, gap := range res.Closed[1:] {
		assert.True(t, gap.Empty())
		assert.Equal(t, schema.WindowFlagGapFill, gap.Flags&schema.WindowFlagGapFill)
		assert.Equal(t, schema.Price(100), gap.Open)
		assert.Equal(t, schema.Price(100), gap.Close)
		assert.True(t, gap.CheckInvariants())
	}
	assert.Equal(t, res.Closed[0].EndNano, res.Closed[1].StartNano)
	assert.Equal(t, res.Closed[1].EndNano, res.Closed[2].StartNano)
}

func TestGranularitiesAggregateIndependently(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1s, schema.Granularity1m}, 0)

	_, err := eng.Apply(tickAt(1, 100, 1, 0, 1))
	require.NoError(t, err)

	res, err := eng.Apply(tickAt(1, 101, 1, 2*time.Second, 2))
	require.NoError(t, err)

	// The 1s builder closed a window (plus a gap); the 1m builder did not.
	for _, w := range res.Closed {
		assert.Equal(t, schema.Granularity1s, w.Granularity)
	}
	_, oneMinOpen := eng.Current(schema.Granularity1m)
	assert.True(t, oneMinOpen)
}

func TestOutOfOrderInsideWindowKeepsLatestClose(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1m}, 0)

	_, err := eng.Apply(tickAt(1, 100, 1, 40*time.Second, 1))
	require.NoError(t, err)
	// Reordered tick earlier in the same window: affects high/low, not close.
	_, err = eng.Apply(tickAt(1, 120, 1, 10*time.Second, 2))
	require.NoError(t, err)

	cur, ok := eng.Current(schema.Granularity1m)
	require.True(t, ok)
	assert.Equal(t, schema.Price(120), cur.High)
	assert.Equal(t, schema.Price(100), cur.Close)
}

func TestLateTickReportedPerGranularity(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1s, schema.Granularity1m}, 0)

	_, err := eng.Apply(tickAt(1, 100, 1, 90*time.Second, 1))
	require.NoError(t, err)

	// 30s back: before the 1s current window but inside the 1m one.
	res, err := eng.Apply(tickAt(1, 99, 1, 60*time.Second, 2))
	require.NoError(t, err)
	require.Len(t, res.Late, 1)
	assert.Equal(t, schema.Granularity1s, res.Late[0])
}

func TestGapFillCapBoundsFlood(t *testing.T) {
	eng := NewEngine(1, []schema.Granularity{schema.Granularity1s}, 10)

	_, err := eng.Apply(tickAt(1, 100, 1, 0, 1))
	require.NoError(t, err)

	res, err := eng.Apply(tickAt(1, 101, 1, time.Hour, 2))
	require.NoError(t, err)
	// 1 real close + at most 10 gap windows.
	require.LessOrEqual(t, len(res.Closed), 11)
	last := res.Closed[len(res.Closed)-1]
	assert.Equal(t, int64(time.Hour), last.EndNano)
}
