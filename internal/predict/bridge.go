package predict

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// FeatureSnapshot summarizes one closed window for the scoring backend.
type FeatureSnapshot struct {
	Instrument    schema.InstrumentID
	Granularity   schema.Granularity
	WindowEndNano int64
	Close         schema.Price
	VWAP          schema.Price
	Volume        schema.Quantity
	TickCount     uint32
}

// ScoreRequest is the wire form sent to a scorer.
type ScoreRequest struct {
	ID            string `json:"id"`
	Instrument    uint32 `json:"instrument"`
	WindowEndNano int64  `json:"window_end"`
	Close         int64  `json:"close"`
	VWAP          int64  `json:"vwap"`
	Volume        int64  `json:"volume"`
	TickCount     uint32 `json:"tick_count"`
}

// ScoreResponse is the scorer's answer, correlated by id.
type ScoreResponse struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

// Scorer scores one feature snapshot. Implementations must honor the
// context deadline.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error)
}

// Config tunes the bridge.
type Config struct {
	// Workers is the size of the scoring pool.
	Workers int
	// QueueDepth bounds the pending feature queue.
	QueueDepth int
	// MaxInFlight caps submissions awaiting a result.
	MaxInFlight int
	// CallTimeout bounds each scorer call.
	CallTimeout time.Duration
	// ResultTTL discards results arriving after it.
	ResultTTL time.Duration
	// ScoreThreshold raises an anomaly alert at or above it.
	ScoreThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 200 * time.Millisecond
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Second
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.9
	}
	return c
}

type job struct {
	id        string
	snapshot  FeatureSnapshot
	submitted time.Time
	deadline  time.Time
}

// Bridge decouples the hot path from the scoring backend. Submissions
// never block; saturation and staleness degrade to counters.
type Bridge struct {
	cfg     Config
	scorer  Scorer
	events  *bus.Queue
	metrics *obs.Metrics
	clock   func() time.Time

	in       chan job
	inFlight int64
	stopped  uint32
	seq      uint64
}

// NewBridge wires the bridge over a scorer and the event bus.
func NewBridge(cfg Config, scorer Scorer, events *bus.Queue, metrics *obs.Metrics) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:     cfg,
		scorer:  scorer,
		events:  events,
		metrics: metrics,
		clock:   time.Now,
		in:      make(chan job, cfg.QueueDepth),
	}
}

// WithClock swaps the wall clock for tests.
func (b *Bridge) WithClock(clock func() time.Time) *Bridge {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// OnWindowClosed satisfies the pipeline window observer; rejected
// submissions are already counted.
func (b *Bridge) OnWindowClosed(w schema.Window) {
	if w.Empty() {
		return
	}
	_ = b.Submit(FeatureSnapshot{
		Instrument:    w.Instrument,
		Granularity:   w.Granularity,
		WindowEndNano: w.EndNano,
		Close:         w.Close,
		VWAP:          w.VWAP,
		Volume:        w.Volume,
		TickCount:     w.TickCount,
	})
}

// Submit enqueues one snapshot for scoring without blocking. Past the
// in-flight cap or a full queue it drops and returns
// ErrBackendSaturated.
func (b *Bridge) Submit(snapshot FeatureSnapshot) error {
	if atomic.LoadUint32(&b.stopped) != 0 {
		return exception.ErrBridgeStopped
	}
	if atomic.LoadInt64(&b.inFlight) >= int64(b.cfg.MaxInFlight) {
		b.metrics.IncPredictSaturated()
		return exception.ErrBackendSaturated
	}

	now := b.clock()
	j := job{
		id:        uuid.NewString(),
		snapshot:  snapshot,
		submitted: now,
		deadline:  now.Add(b.cfg.ResultTTL),
	}
	select {
	case b.in <- j:
		atomic.AddInt64(&b.inFlight, 1)
		return nil
	default:
		b.metrics.IncPredictSaturated()
		return exception.ErrBackendSaturated
	}
}

// Run drives the worker pool until the context ends.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx)
		}()
	}
	wg.Wait()
	atomic.StoreUint32(&b.stopped, 1)
}

func (b *Bridge) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-b.in:
			b.score(ctx, j)
		}
	}
}

func (b *Bridge) score(ctx context.Context, j job) {
	defer atomic.AddInt64(&b.inFlight, -1)

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	resp, err := b.scorer.Score(callCtx, ScoreRequest{
		ID:            j.id,
		Instrument:    uint32(j.snapshot.Instrument),
		WindowEndNano: j.snapshot.WindowEndNano,
		Close:         int64(j.snapshot.Close),
		VWAP:          int64(j.snapshot.VWAP),
		Volume:        int64(j.snapshot.Volume),
		TickCount:     j.snapshot.TickCount,
	})
	cancel()
	if err != nil {
		logs.Warnf("score failed instrument=%d: %+v", j.snapshot.Instrument, err)
		return
	}
	b.deliver(j, resp)
}

// deliver publishes a fresh result; anything past the deadline or with a
// mismatched correlation id is discarded.
func (b *Bridge) deliver(j job, resp ScoreResponse) {
	now := b.clock()
	if resp.ID != j.id || now.After(j.deadline) {
		b.metrics.IncPredictStale()
		return
	}
	if resp.Error != "" {
		logs.Warnf("scorer error instrument=%d: %s", j.snapshot.Instrument, resp.Error)
		return
	}
	b.metrics.ObserveScore(now.Sub(j.submitted))

	prediction := schema.Prediction{
		Instrument:    j.snapshot.Instrument,
		TsNano:        now.UnixNano(),
		WindowEndNano: j.snapshot.WindowEndNano,
		Score:         resp.Score,
	}
	b.publish(schema.EventPrediction, prediction.Instrument, codec.EncodePrediction(nil, prediction), prediction.TsNano)

	if resp.Score >= b.cfg.ScoreThreshold {
		alert := schema.Alert{
			Kind:       schema.AlertAnomaly,
			Severity:   schema.SeverityWarning,
			Instrument: j.snapshot.Instrument,
			TsNano:     now.UnixNano(),
			Score:      resp.Score,
		}
		alert.SetDetail("anomaly score over threshold")
		b.publish(schema.EventAlert, alert.Instrument, codec.EncodeAlert(nil, alert), alert.TsNano)
	}
}

func (b *Bridge) publish(eventType schema.EventType, instrument schema.InstrumentID, payload []byte, tsNano int64) {
	if b.events == nil {
		return
	}
	seq := atomic.AddUint64(&b.seq, 1)
	header := schema.NewHeader(eventType, 0, instrument, seq, tsNano, tsNano)
	if err := b.events.TryPublish(bus.Event{Header: header, Payload: payload}); err != nil {
		logs.Warnf("prediction event drop instrument=%d: %+v", instrument, err)
	}
}

// InFlight reports submissions awaiting a result.
func (b *Bridge) InFlight() int {
	return int(atomic.LoadInt64(&b.inFlight))
}
