package ingest

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// Config controls tick validation.
type Config struct {
	// MaxClockSkew rejects ticks stamped further ahead of wall clock.
	MaxClockSkew time.Duration
	// LateTolerance flags ticks trailing the high-water mark further back.
	LateTolerance time.Duration
	// DedupDepth is the number of recent feed sequences remembered per
	// instrument for duplicate detection.
	DedupDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = 5 * time.Second
	}
	if c.LateTolerance <= 0 {
		c.LateTolerance = 2 * time.Second
	}
	if c.DedupDepth <= 0 {
		c.DedupDepth = 64
	}
	return c
}

// Sink receives accepted ticks, typically the pipeline router.
type Sink interface {
	Submit(schema.Tick) error
}

// Journal persists accepted ticks without blocking ingestion.
type Journal interface {
	TryAppend(header schema.EventHeader, payload []byte) error
}

// Ingestor validates raw feed ticks and forwards accepted ones.
// Per-instrument state is guarded by one lock per instrument, so
// distinct instruments never contend.
type Ingestor struct {
	cfg      Config
	registry *schema.Registry
	metrics  *obs.Metrics
	sink     Sink
	journal  Journal
	encode   func(schema.Tick) []byte
	clock    func() time.Time

	states []instrumentState
	source uint16
}

type instrumentState struct {
	mu        sync.Mutex
	seq       uint64
	highWater int64
	recent    []uint64
	recentIdx int
	primed    bool
}

// NewIngestor builds an ingestor over the instruments in the registry.
func NewIngestor(cfg Config, registry *schema.Registry, metrics *obs.Metrics, sink Sink, source uint16) *Ingestor {
	cfg = cfg.withDefaults()
	states := make([]instrumentState, registry.InstrumentCount()+1)
	for i := range states {
		states[i].recent = make([]uint64, cfg.DedupDepth)
	}
	return &Ingestor{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		sink:     sink,
		clock:    time.Now,
		states:   states,
		source:   source,
	}
}

// WithJournal attaches the durable tick log.
func (ing *Ingestor) WithJournal(journal Journal, encode func(schema.Tick) []byte) *Ingestor {
	ing.journal = journal
	ing.encode = encode
	return ing
}

// WithClock swaps the wall clock for tests.
func (ing *Ingestor) WithClock(clock func() time.Time) *Ingestor {
	if clock != nil {
		ing.clock = clock
	}
	return ing
}

// Submit validates one raw tick. On acceptance the returned tick carries
// the ingest timestamp, a per-instrument sequence, and the late-arrival
// flag when applicable; it has already been forwarded to the sink.
func (ing *Ingestor) Submit(raw RawTick) (schema.Tick, error) {
	id, ok := ing.registry.InstrumentIDBySymbol(raw.Symbol)
	if !ok {
		return schema.Tick{}, ing.reject(exception.ErrUnknownInstrument)
	}
	inst, _ := ing.registry.Instrument(id)

	price, err := ScaledFromDecimal(raw.Price, inst.Scale.PriceScale)
	if err != nil || price <= 0 {
		return schema.Tick{}, ing.reject(exception.ErrInvalidPrice)
	}
	volume, err := ScaledFromDecimal(raw.Size, inst.Scale.QuantityScale)
	if err != nil || volume <= 0 {
		return schema.Tick{}, ing.reject(exception.ErrInvalidVolume)
	}

	now := ing.clock()
	exchangeTs := raw.TimestampMs * int64(time.Millisecond)
	if exchangeTs-now.UnixNano() > int64(ing.cfg.MaxClockSkew) {
		return schema.Tick{}, ing.reject(exception.ErrClockSkew)
	}

	state := &ing.states[id]
	state.mu.Lock()
	if state.seen(raw.FeedSequence) {
		state.mu.Unlock()
		return schema.Tick{}, ing.reject(exception.ErrDuplicateTick)
	}
	state.remember(raw.FeedSequence)
	state.seq++

	var flags uint16
	if state.primed && state.highWater-exchangeTs > int64(ing.cfg.LateTolerance) {
		flags |= schema.TickFlagLateArrival
	}
	if exchangeTs > state.highWater {
		state.highWater = exchangeTs
	}
	state.primed = true
	seq := state.seq
	state.mu.Unlock()

	tick := schema.Tick{
		Instrument:     id,
		Flags:          flags,
		Price:          schema.Price(price),
		Volume:         schema.Quantity(volume),
		ExchangeTsNano: exchangeTs,
		IngestTsNano:   now.UnixNano(),
		Seq:            seq,
	}

	header := schema.NewHeader(schema.EventTick, ing.source, id, seq, exchangeTs, tick.IngestTsNano)
	header.Flags = flags
	ing.metrics.ObserveEvent(header)
	if flags&schema.TickFlagLateArrival != 0 {
		ing.metrics.IncLateArrival()
	}

	if ing.journal != nil && ing.encode != nil {
		if err := ing.journal.TryAppend(header, ing.encode(tick)); err != nil {
			logs.Warnf("tick journal append dropped: %+v", err)
		}
	}

	if ing.sink != nil {
		if err := ing.sink.Submit(tick); err != nil {
			ing.metrics.IncShardDrop()
			logs.Warnf("shard drop instrument=%d seq=%d: %+v", id, seq, err)
		}
	}
	return tick, nil
}

func (ing *Ingestor) reject(err error) error {
	ing.metrics.IncReject(err)
	return err
}

func (s *instrumentState) seen(feedSeq uint64) bool {
	if feedSeq == 0 {
		return false
	}
	for _, v := range s.recent {
		if v == feedSeq {
			return true
		}
	}
	return false
}

func (s *instrumentState) remember(feedSeq uint64) {
	if feedSeq == 0 {
		return
	}
	s.recent[s.recentIdx] = feedSeq
	s.recentIdx = (s.recentIdx + 1) % len(s.recent)
}
