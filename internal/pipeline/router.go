package pipeline

import (
	"context"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/series"
)

// Config sizes the shard pool and the aggregation it hosts.
type Config struct {
	// Shards is the number of single-writer shard loops.
	Shards int
	// QueueDepth bounds each shard's pending tick queue.
	QueueDepth int
	// Granularities aggregated per instrument.
	Granularities []schema.Granularity
	// MaxGapFill caps consecutive carry-forward windows per granularity.
	MaxGapFill int
	// Source tags every event header emitted by the pipeline.
	Source uint16
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	if len(c.Granularities) == 0 {
		c.Granularities = []schema.Granularity{schema.Granularity1s, schema.Granularity1m, schema.Granularity1h}
	}
	return c
}

// Router fans accepted ticks out to shards. An instrument always maps to
// the same shard, which keeps its aggregation single-writer.
type Router struct {
	shards []*Shard
}

// NewRouter builds the shard pool over a shared store and event bus.
func NewRouter(cfg Config, store *series.Store, events *bus.Queue, metrics *obs.Metrics, observer WindowObserver) *Router {
	cfg = cfg.withDefaults()
	shards := make([]*Shard, cfg.Shards)
	for i := range shards {
		shards[i] = newShard(cfg, store, events, metrics, observer)
	}
	return &Router{shards: shards}
}

// Submit routes one tick to its shard. It never blocks; a saturated shard
// returns ErrShardSaturated and the tick is dropped.
func (r *Router) Submit(tick schema.Tick) error {
	return r.shard(tick.Instrument).TrySubmit(tick)
}

func (r *Router) shard(id schema.InstrumentID) *Shard {
	return r.shards[int(id)%len(r.shards)]
}

// Run starts every shard loop and blocks until the context ends and the
// loops return.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.shards {
		wg.Add(1)
		go func(s *Shard) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	wg.Wait()
}

// Drain processes whatever is already queued on every shard, for tests
// and replay where no shard goroutines run.
func (r *Router) Drain() {
	for _, s := range r.shards {
		s.drain()
	}
}

// Quiesce waits until every shard queue is empty or the timeout passes.
func (r *Router) Quiesce(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		empty := true
		for _, s := range r.shards {
			if len(s.in) > 0 {
				empty = false
				break
			}
		}
		if empty {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
