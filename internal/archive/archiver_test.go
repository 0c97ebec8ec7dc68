package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/schema"
)

func newTestArchiver(t *testing.T, cfg Config) *Archiver {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	a, err := New(db, cfg)
	require.NoError(t, err)
	return a
}

func windowEvent(w schema.Window) bus.Event {
	eventType := schema.EventWindowClosed
	if w.Flags&schema.WindowFlagAmended != 0 {
		eventType = schema.EventWindowAmended
	}
	return bus.Event{
		Header:  schema.NewHeader(eventType, 1, w.Instrument, 0, w.EndNano, w.EndNano),
		Payload: codec.EncodeWindow(nil, w),
	}
}

func archiveWindow(start int64) schema.Window {
	return schema.Window{
		Instrument:  1,
		Granularity: schema.Granularity1m,
		StartNano:   start,
		EndNano:     start + int64(schema.Granularity1m),
		Open:        10000,
		High:        10200,
		Low:         9900,
		Close:       10100,
		Volume:      500,
		VWAP:        10050,
		TickCount:   3,
	}
}

func TestArchiverStoresClosedWindows(t *testing.T) {
	a := newTestArchiver(t, Config{})

	a.Observe(windowEvent(archiveWindow(0)))
	a.Observe(windowEvent(archiveWindow(int64(schema.Granularity1m))))
	a.Flush()

	var rows []WindowRow
	require.NoError(t, a.db.Order("start_nano").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(10000), rows[0].Open)
	assert.Equal(t, int64(10100), rows[0].Close)
	assert.Equal(t, uint32(3), rows[0].TickCount)
	assert.Equal(t, int64(schema.Granularity1m), rows[1].StartNano)
}

func TestAmendmentReplacesArchivedWindow(t *testing.T) {
	a := newTestArchiver(t, Config{})

	a.Observe(windowEvent(archiveWindow(0)))
	a.Flush()

	amended := archiveWindow(0)
	amended.Close = 10300
	amended.TickCount = 4
	amended.Flags = schema.WindowFlagAmended
	a.Observe(windowEvent(amended))
	a.Flush()

	var rows []WindowRow
	require.NoError(t, a.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10300), rows[0].Close)
	assert.Equal(t, uint32(4), rows[0].TickCount)
	assert.Equal(t, schema.WindowFlagAmended, rows[0].Flags)
}

func TestArchiverStoresRiskSnapshots(t *testing.T) {
	a := newTestArchiver(t, Config{})

	snap := schema.RiskSnapshot{
		Portfolio:     7,
		TsNano:        1000,
		UnrealizedPnl: 5000,
		Exposure:      105000,
		Volatility:    0.02,
		VaR:           4800,
		SampleCount:   20,
	}
	a.Observe(bus.Event{
		Header:  schema.NewHeader(schema.EventRiskSnapshot, 1, 0, 1, snap.TsNano, snap.TsNano),
		Payload: codec.EncodeRiskSnapshot(nil, snap),
	})
	a.Flush()

	var rows []RiskRow
	require.NoError(t, a.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(7), rows[0].Portfolio)
	assert.Equal(t, int64(5000), rows[0].UnrealizedPnl)
	assert.Equal(t, 0.02, rows[0].Volatility)
	assert.Equal(t, uint32(20), rows[0].SampleCount)
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	a := newTestArchiver(t, Config{BatchSize: 2})

	a.Observe(windowEvent(archiveWindow(0)))
	a.Observe(windowEvent(archiveWindow(int64(schema.Granularity1m))))

	var count int64
	require.NoError(t, a.db.Model(&WindowRow{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestArchiverIgnoresOtherEvents(t *testing.T) {
	a := newTestArchiver(t, Config{})

	tick := schema.Tick{Instrument: 1, Price: 100, Volume: 1, Seq: 1}
	a.Observe(bus.Event{
		Header:  schema.NewHeader(schema.EventTick, 1, 1, 1, 0, 0),
		Payload: codec.EncodeTick(nil, tick),
	})
	a.Flush()

	var count int64
	require.NoError(t, a.db.Model(&WindowRow{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
