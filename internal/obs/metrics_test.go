package obs

import (
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"
)

func TestMetricsCountsRejectsByReason(t *testing.T) {
	m := NewMetrics()
	m.IncReject(exception.ErrDuplicateTick)
	m.IncReject(exception.ErrDuplicateTick)
	m.IncReject(exception.ErrInvalidPrice)
	m.IncReject(exception.ErrClockSkew)
	m.IncReject(exception.ErrUnknownInstrument)

	snap := m.Snapshot()
	if snap.RejectDuplicate != 2 || snap.RejectPrice != 1 || snap.RejectSkew != 1 || snap.RejectInstrument != 1 {
		t.Fatalf("reject counters mismatch: %+v", snap)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()
	header := schema.NewHeader(schema.EventTick, 0, 1, 1, 100, 400)
	m.ObserveEvent(header)
	m.ObserveEvent(schema.NewHeader(schema.EventTick, 0, 1, 2, 100, 200))

	snap := m.Snapshot()
	if snap.EventCounts[schema.EventTick] != 2 {
		t.Fatalf("event count mismatch: %+v", snap.EventCounts)
	}
	lat := snap.IngestLatency
	if lat.Count != 2 || lat.Min != 100*time.Nanosecond || lat.Max != 300*time.Nanosecond || lat.Avg != 200*time.Nanosecond {
		t.Fatalf("latency mismatch: %+v", lat)
	}
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics

	m.ObserveEvent(schema.NewHeader(schema.EventTick, 0, 1, 1, 100, 200))
	m.IncReject(exception.ErrInvalidPrice)
	m.IncLateArrival()
	m.IncAmendment()
	m.IncAmendReject()
	m.IncShardDrop()
	m.AddEvicted(3)
	m.IncQuarantine()
	m.IncPredictSaturated()
	m.IncPredictStale()
	m.IncSubscriberDrop()
	m.IncOverflowEpisode()
	m.ObserveIngest(time.Millisecond)
	m.ObserveRisk(time.Millisecond)
	m.ObserveScore(time.Millisecond)

	snap := m.Snapshot()
	if snap.SubscriberDrops != 0 || len(snap.EventCounts) != 0 {
		t.Fatalf("nil metrics produced counts: %+v", snap)
	}
}
