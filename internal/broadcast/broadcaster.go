package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// Filter selects events for one subscriber. An empty field matches
// everything.
type Filter struct {
	Kinds       []schema.EventType
	Instruments []schema.InstrumentID
	Portfolios  []schema.PortfolioID
}

// Match reports whether the event passes the filter. Portfolio
// filtering inspects risk snapshot and alert payloads; other event
// types carry no portfolio and pass.
func (f Filter) Match(e bus.Event) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Header.Type) {
		return false
	}
	if len(f.Instruments) > 0 && !containsInstrument(f.Instruments, e.Header.Instrument) {
		return false
	}
	if len(f.Portfolios) > 0 {
		if portfolio, ok := eventPortfolio(e); ok && !containsPortfolio(f.Portfolios, portfolio) {
			return false
		}
	}
	return true
}

func containsKind(kinds []schema.EventType, kind schema.EventType) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func containsInstrument(ids []schema.InstrumentID, id schema.InstrumentID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func containsPortfolio(ids []schema.PortfolioID, id schema.PortfolioID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func eventPortfolio(e bus.Event) (schema.PortfolioID, bool) {
	switch e.Header.Type {
	case schema.EventRiskSnapshot:
		if snap, ok := codec.DecodeRiskSnapshot(e.Payload); ok {
			return snap.Portfolio, true
		}
	case schema.EventAlert:
		if alert, ok := codec.DecodeAlert(e.Payload); ok && alert.Portfolio != 0 {
			return alert.Portfolio, true
		}
	case schema.EventFill:
		if fill, ok := codec.DecodeFill(e.Payload); ok {
			return fill.Portfolio, true
		}
	}
	return 0, false
}

// Subscription is a pull-based event stream with a bounded queue.
type Subscription struct {
	id     uint64
	filter Filter
	queue  *eventQueue
}

// Next blocks until an event arrives or the subscription is closed.
func (s *Subscription) Next() (bus.Event, bool) {
	return s.queue.pop()
}

// TryNext dequeues without blocking.
func (s *Subscription) TryNext() (bus.Event, bool) {
	return s.queue.tryPop()
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	return s.queue.len()
}

// Config sizes subscriber queues.
type Config struct {
	// QueueCapacity bounds each subscriber's ring.
	QueueCapacity int
	// Source tags synthesized overflow notices.
	Source uint16
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	return c
}

// Broadcaster fans events out to subscribers. Slow subscribers lose
// their oldest events, never the publisher's time.
type Broadcaster struct {
	cfg     Config
	metrics *obs.Metrics
	clock   func() time.Time

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(cfg Config, metrics *obs.Metrics) *Broadcaster {
	return &Broadcaster{
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		clock:   time.Now,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber with its own bounded queue.
func (b *Broadcaster) Subscribe(filter Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, exception.ErrBroadcasterStopped
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		queue:  newEventQueue(b.cfg.QueueCapacity, b.makeOverflowNotice),
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its queue.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.queue.close()
}

// Publish delivers the event to every matching subscriber without
// blocking.
func (b *Broadcaster) Publish(e bus.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.Match(e) {
			continue
		}
		dropped, episodeStarted := sub.queue.push(e)
		if dropped {
			b.metrics.IncSubscriberDrop()
		}
		if episodeStarted {
			b.metrics.IncOverflowEpisode()
		}
	}
}

// Consume pumps a bus queue into the broadcaster until the context ends.
func (b *Broadcaster) Consume(ctx context.Context, q *bus.Queue) {
	q.Run(ctx, b.Publish)
}

// Close terminates every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.queue.close()
	}
}

func (b *Broadcaster) makeOverflowNotice(dropped uint64) bus.Event {
	now := b.clock().UnixNano()
	alert := schema.Alert{
		Kind:     schema.AlertSubscriberOverflow,
		Severity: schema.SeverityWarning,
		TsNano:   now,
		Score:    float64(dropped),
	}
	alert.SetDetail(fmt.Sprintf("dropped %d events", dropped))
	return bus.Event{
		Header:  schema.NewHeader(schema.EventAlert, b.cfg.Source, 0, 0, now, now),
		Payload: codec.EncodeAlert(nil, alert),
	}
}
