package obs

import (
	"errors"
	"sync/atomic"
	"time"

	"main/internal/schema"
	"main/pkg/exception"
)

const maxEventType = int(schema.EventPrediction)

// Metrics collects lightweight counters and latency stats for the engine.
// All methods accept a nil receiver, so callers may run unmetered.
type Metrics struct {
	eventCounts [maxEventType + 1]uint64

	rejectInstrument uint64
	rejectPrice      uint64
	rejectSkew       uint64
	rejectDuplicate  uint64
	lateArrivals     uint64
	amendments       uint64
	amendRejects     uint64

	shardDrops        uint64
	evictedWindows    uint64
	quarantines       uint64
	predictSaturated  uint64
	predictStale      uint64
	subscriberDrops   uint64
	overflowEpisodes  uint64

	ingestLatency LatencyStats
	riskLatency   LatencyStats
	scoreLatency  LatencyStats
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts an event and tracks feed-to-ingest latency.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.ingestLatency.Observe(time.Duration(delta))
		}
	}
}

// IncReject counts a tick rejection by reason.
func (m *Metrics) IncReject(err error) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, exception.ErrUnknownInstrument):
		atomic.AddUint64(&m.rejectInstrument, 1)
	case errors.Is(err, exception.ErrInvalidPrice), errors.Is(err, exception.ErrInvalidVolume):
		atomic.AddUint64(&m.rejectPrice, 1)
	case errors.Is(err, exception.ErrClockSkew):
		atomic.AddUint64(&m.rejectSkew, 1)
	case errors.Is(err, exception.ErrDuplicateTick):
		atomic.AddUint64(&m.rejectDuplicate, 1)
	}
}

// IncLateArrival counts an accepted late tick.
func (m *Metrics) IncLateArrival() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.lateArrivals, 1)
}

// IncAmendment counts a closed-window amendment.
func (m *Metrics) IncAmendment() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.amendments, 1)
}

// IncAmendReject counts an amendment rejected past tolerance.
func (m *Metrics) IncAmendReject() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.amendRejects, 1)
}

// IncShardDrop counts a tick dropped by a saturated shard queue.
func (m *Metrics) IncShardDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.shardDrops, 1)
}

// AddEvicted counts windows removed by retention.
func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.evictedWindows, uint64(n))
}

// IncQuarantine counts an instrument shard quarantine.
func (m *Metrics) IncQuarantine() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.quarantines, 1)
}

// IncPredictSaturated counts a dropped prediction submission.
func (m *Metrics) IncPredictSaturated() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.predictSaturated, 1)
}

// IncPredictStale counts a discarded stale prediction result.
func (m *Metrics) IncPredictStale() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.predictStale, 1)
}

// IncSubscriberDrop counts an event dropped from a subscriber queue.
func (m *Metrics) IncSubscriberDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.subscriberDrops, 1)
}

// IncOverflowEpisode counts a subscriber overflow episode.
func (m *Metrics) IncOverflowEpisode() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.overflowEpisodes, 1)
}

// ObserveIngest tracks tick processing latency through the pipeline.
func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestLatency.Observe(d)
}

// ObserveRisk tracks risk recomputation latency.
func (m *Metrics) ObserveRisk(d time.Duration) {
	if m == nil {
		return
	}
	m.riskLatency.Observe(d)
}

// ObserveScore tracks prediction round-trip latency.
func (m *Metrics) ObserveScore(d time.Duration) {
	if m == nil {
		return
	}
	m.scoreLatency.Observe(d)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	RejectInstrument uint64
	RejectPrice      uint64
	RejectSkew       uint64
	RejectDuplicate  uint64
	LateArrivals     uint64
	Amendments       uint64
	AmendRejects     uint64
	ShardDrops       uint64
	EvictedWindows   uint64
	Quarantines      uint64
	PredictSaturated uint64
	PredictStale     uint64
	SubscriberDrops  uint64
	OverflowEpisodes uint64
	IngestLatency    LatencySnapshot
	RiskLatency      LatencySnapshot
	ScoreLatency     LatencySnapshot
}

// Snapshot captures the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{EventCounts: map[schema.EventType]uint64{}}
	}
	snap := Snapshot{
		EventCounts:      make(map[schema.EventType]uint64, maxEventType+1),
		RejectInstrument: atomic.LoadUint64(&m.rejectInstrument),
		RejectPrice:      atomic.LoadUint64(&m.rejectPrice),
		RejectSkew:       atomic.LoadUint64(&m.rejectSkew),
		RejectDuplicate:  atomic.LoadUint64(&m.rejectDuplicate),
		LateArrivals:     atomic.LoadUint64(&m.lateArrivals),
		Amendments:       atomic.LoadUint64(&m.amendments),
		AmendRejects:     atomic.LoadUint64(&m.amendRejects),
		ShardDrops:       atomic.LoadUint64(&m.shardDrops),
		EvictedWindows:   atomic.LoadUint64(&m.evictedWindows),
		Quarantines:      atomic.LoadUint64(&m.quarantines),
		PredictSaturated: atomic.LoadUint64(&m.predictSaturated),
		PredictStale:     atomic.LoadUint64(&m.predictStale),
		SubscriberDrops:  atomic.LoadUint64(&m.subscriberDrops),
		OverflowEpisodes: atomic.LoadUint64(&m.overflowEpisodes),
		IngestLatency:    m.ingestLatency.Snapshot(),
		RiskLatency:      m.riskLatency.Snapshot(),
		ScoreLatency:     m.scoreLatency.Snapshot(),
	}
	for i := 0; i <= maxEventType; i++ {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			snap.EventCounts[schema.EventType(i)] = v
		}
	}
	return snap
}
