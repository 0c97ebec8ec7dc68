package pipeline

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/aggregate"
	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/series"
	"main/pkg/exception"
)

// WindowObserver is notified of every freshly closed window, after it has
// been appended to the store. Implementations must not block; the
// prediction bridge enqueues and returns.
type WindowObserver interface {
	OnWindowClosed(w schema.Window)
}

// Shard owns the aggregation state for a subset of instruments. Exactly
// one goroutine runs the shard loop, so engines and store writes for its
// instruments never race.
type Shard struct {
	cfg      Config
	store    *series.Store
	events   *bus.Queue
	metrics  *obs.Metrics
	observer WindowObserver

	in      chan schema.Tick
	engines map[schema.InstrumentID]*aggregate.Engine
}

func newShard(cfg Config, store *series.Store, events *bus.Queue, metrics *obs.Metrics, observer WindowObserver) *Shard {
	return &Shard{
		cfg:      cfg,
		store:    store,
		events:   events,
		metrics:  metrics,
		observer: observer,
		in:       make(chan schema.Tick, cfg.QueueDepth),
		engines:  make(map[schema.InstrumentID]*aggregate.Engine),
	}
}

// TrySubmit enqueues a tick without blocking.
func (s *Shard) TrySubmit(tick schema.Tick) error {
	select {
	case s.in <- tick:
		return nil
	default:
		return exception.ErrShardSaturated
	}
}

// Run drains the shard queue until the context ends.
func (s *Shard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-s.in:
			s.handle(tick)
		}
	}
}

func (s *Shard) drain() {
	for {
		select {
		case tick := <-s.in:
			s.handle(tick)
		default:
			return
		}
	}
}

func (s *Shard) handle(tick schema.Tick) {
	start := time.Now()

	eng := s.engines[tick.Instrument]
	if eng == nil {
		eng = aggregate.NewEngine(tick.Instrument, s.cfg.Granularities, s.cfg.MaxGapFill)
		s.engines[tick.Instrument] = eng
	}

	res, err := eng.Apply(tick)
	if err != nil {
		s.quarantine(tick, eng, err)
		return
	}

	s.store.RecordTrade(tick.Instrument, tick.Price, tick.ExchangeTsNano)

	for _, g := range res.Late {
		amended, err := s.store.Amend(tick, g)
		if err != nil {
			// missing, evicted, or past tolerance; the store counts the reject
			continue
		}
		s.publishWindow(schema.EventWindowAmended, amended, tick)
	}

	for _, w := range res.Closed {
		s.store.Append(w)
		s.publishWindow(schema.EventWindowClosed, w, tick)
		if s.observer != nil {
			s.observer.OnWindowClosed(w)
		}
	}

	s.publishTick(tick)
	s.metrics.ObserveIngest(time.Since(start))
}

// quarantine discards the instrument's aggregation state and rebuilds it
// from the last consistent closed windows in the store. The offending
// tick is dropped.
func (s *Shard) quarantine(tick schema.Tick, eng *aggregate.Engine, cause error) {
	s.metrics.IncQuarantine()
	logs.Errorf("instrument quarantined instrument=%d seq=%d: %+v", tick.Instrument, tick.Seq, cause)

	eng.Restart(s.store.LastWindows(tick.Instrument))
}

func (s *Shard) publishTick(tick schema.Tick) {
	header := schema.NewHeader(schema.EventTick, s.cfg.Source, tick.Instrument, tick.Seq, tick.ExchangeTsNano, tick.IngestTsNano)
	header.Flags = tick.Flags
	s.publish(bus.Event{Header: header, Payload: codec.EncodeTick(nil, tick)})
}

func (s *Shard) publishWindow(eventType schema.EventType, w schema.Window, tick schema.Tick) {
	header := schema.NewHeader(eventType, s.cfg.Source, w.Instrument, tick.Seq, w.EndNano, tick.IngestTsNano)
	header.Flags = w.Flags
	s.publish(bus.Event{Header: header, Payload: codec.EncodeWindow(nil, w)})
}

func (s *Shard) publish(e bus.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.TryPublish(e); err != nil {
		logs.Warnf("event bus drop type=%d instrument=%d: %+v", e.Header.Type, e.Header.Instrument, err)
	}
}
