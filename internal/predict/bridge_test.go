package predict

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

type stubScorer struct {
	score  float64
	err    error
	swapID string
	calls  int64
	onCall func()
}

func (s *stubScorer) Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return ScoreResponse{}, s.err
	}
	id := req.ID
	if s.swapID != "" {
		id = s.swapID
	}
	return ScoreResponse{ID: id, Score: s.score}, nil
}

func feature(inst schema.InstrumentID) FeatureSnapshot {
	return FeatureSnapshot{
		Instrument:    inst,
		Granularity:   schema.Granularity1m,
		WindowEndNano: int64(time.Minute),
		Close:         10500,
		VWAP:          10400,
		Volume:        12,
		TickCount:     3,
	}
}

func drainOne(b *Bridge) {
	select {
	case j := <-b.in:
		b.score(context.Background(), j)
	default:
	}
}

func TestBridgePublishesPrediction(t *testing.T) {
	events := bus.NewQueue(8)
	scorer := &stubScorer{score: 0.4}
	bridge := NewBridge(Config{ScoreThreshold: 0.9}, scorer, events, obs.NewMetrics())

	require.NoError(t, bridge.Submit(feature(1)))
	drainOne(bridge)

	e, ok := events.TryNext()
	require.True(t, ok)
	assert.Equal(t, schema.EventPrediction, e.Header.Type)
	p, ok := codec.DecodePrediction(e.Payload)
	require.True(t, ok)
	assert.Equal(t, schema.InstrumentID(1), p.Instrument)
	assert.InDelta(t, 0.4, p.Score, 1e-9)

	// below threshold, no alert follows
	_, ok = events.TryNext()
	assert.False(t, ok)
	assert.Zero(t, bridge.InFlight())
}

func TestBridgeRaisesAnomalyAlert(t *testing.T) {
	events := bus.NewQueue(8)
	scorer := &stubScorer{score: 0.95}
	bridge := NewBridge(Config{ScoreThreshold: 0.9}, scorer, events, obs.NewMetrics())

	require.NoError(t, bridge.Submit(feature(2)))
	drainOne(bridge)

	e, ok := events.TryNext()
	require.True(t, ok)
	assert.Equal(t, schema.EventPrediction, e.Header.Type)

	e, ok = events.TryNext()
	require.True(t, ok)
	require.Equal(t, schema.EventAlert, e.Header.Type)
	alert, ok := codec.DecodeAlert(e.Payload)
	require.True(t, ok)
	assert.Equal(t, schema.AlertAnomaly, alert.Kind)
	assert.Equal(t, schema.InstrumentID(2), alert.Instrument)
	assert.InDelta(t, 0.95, alert.Score, 1e-9)
}

func TestBridgeDiscardsStaleResult(t *testing.T) {
	events := bus.NewQueue(8)
	metrics := obs.NewMetrics()
	now := time.Unix(1_756_500_000, 0)
	var monotonic atomic.Int64

	scorer := &stubScorer{score: 0.99}
	bridge := NewBridge(Config{ResultTTL: time.Second, ScoreThreshold: 0.9}, scorer, events, metrics).
		WithClock(func() time.Time { return now.Add(time.Duration(monotonic.Load())) })

	// the response lands after the TTL has passed
	scorer.onCall = func() { monotonic.Store(int64(2 * time.Second)) }

	require.NoError(t, bridge.Submit(feature(1)))
	drainOne(bridge)

	_, ok := events.TryNext()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), metrics.Snapshot().PredictStale)
}

func TestBridgeDiscardsMismatchedCorrelation(t *testing.T) {
	events := bus.NewQueue(8)
	metrics := obs.NewMetrics()
	scorer := &stubScorer{score: 0.99, swapID: "not-the-request-id"}
	bridge := NewBridge(Config{}, scorer, events, metrics)

	require.NoError(t, bridge.Submit(feature(1)))
	drainOne(bridge)

	_, ok := events.TryNext()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), metrics.Snapshot().PredictStale)
}

func TestBridgeSaturationDrops(t *testing.T) {
	metrics := obs.NewMetrics()
	bridge := NewBridge(Config{MaxInFlight: 1, QueueDepth: 1}, &stubScorer{}, nil, metrics)

	require.NoError(t, bridge.Submit(feature(1)))
	err := bridge.Submit(feature(1))
	assert.ErrorIs(t, err, exception.ErrBackendSaturated)
	assert.Equal(t, uint64(1), metrics.Snapshot().PredictSaturated)
}

func TestBridgeSkipsEmptyWindows(t *testing.T) {
	bridge := NewBridge(Config{}, &stubScorer{}, nil, obs.NewMetrics())
	bridge.OnWindowClosed(schema.Window{Instrument: 1, Flags: schema.WindowFlagGapFill})
	assert.Zero(t, bridge.InFlight())
}

func TestBridgeWorkerPool(t *testing.T) {
	events := bus.NewQueue(64)
	scorer := &stubScorer{score: 0.5}
	bridge := NewBridge(Config{Workers: 2}, scorer, events, obs.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	for i := 0; i < 8; i++ {
		require.NoError(t, bridge.Submit(feature(schema.InstrumentID(i+1))))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&scorer.calls) == 8 && bridge.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 8, events.Len())
}
