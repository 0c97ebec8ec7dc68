package risk

import (
	"math"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/series"
	"main/pkg/exception"
)

// Config tunes the risk calculator.
type Config struct {
	// Lambda is the EWMA decay for the variance estimate.
	Lambda float64
	// SampleWindow is the number of closed-window returns fed into the
	// estimate; fewer samples flag the snapshot low-sample.
	SampleWindow int
	// ZScore converts volatility into parametric VaR.
	ZScore float64
	// LowSampleCap bounds the low-sample widening factor.
	LowSampleCap float64
	// HistoryDepth bounds the per-portfolio snapshot ring.
	HistoryDepth int
	// Granularity selects the closed windows used for prices and returns.
	Granularity schema.Granularity
	// NotionalScale scales portfolio-level money amounts.
	NotionalScale schema.Scale
	// Basket pins the volatility reference instruments; empty means the
	// portfolio's own holdings.
	Basket []schema.InstrumentID
	// MaxExposure and MaxVaR emit breach alerts when exceeded; zero
	// disables the check.
	MaxExposure schema.Notional
	MaxVaR      schema.Notional
}

func (c Config) withDefaults() Config {
	if c.Lambda <= 0 || c.Lambda >= 1 {
		c.Lambda = 0.94
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = 20
	}
	if c.ZScore <= 0 {
		c.ZScore = 2.326
	}
	if c.LowSampleCap <= 0 {
		c.LowSampleCap = 3
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 256
	}
	if c.Granularity == 0 {
		c.Granularity = schema.Granularity1m
	}
	if c.NotionalScale <= 0 {
		c.NotionalScale = 2
	}
	return c
}

// Engine derives portfolio risk from the position book and the
// time-series store.
type Engine struct {
	cfg      Config
	book     *Book
	store    *series.Store
	registry *schema.Registry
	events   *bus.Queue
	metrics  *obs.Metrics
	clock    func() time.Time
	source   uint16

	mu      sync.Mutex
	history map[schema.PortfolioID]*snapshotRing
	seq     uint64
}

// NewEngine wires the calculator over shared state.
func NewEngine(cfg Config, book *Book, store *series.Store, registry *schema.Registry, events *bus.Queue, metrics *obs.Metrics, source uint16) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		book:     book,
		store:    store,
		registry: registry,
		events:   events,
		metrics:  metrics,
		clock:    time.Now,
		source:   source,
		history:  make(map[schema.PortfolioID]*snapshotRing),
	}
}

// WithClock swaps the wall clock for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// OnWindowClosed recomputes every portfolio holding the instrument.
// Satisfies the pipeline window observer.
func (e *Engine) OnWindowClosed(w schema.Window) {
	for _, portfolio := range e.book.Holders(w.Instrument) {
		if _, err := e.Recompute(portfolio); err != nil {
			logs.Warnf("risk recompute portfolio=%d: %+v", portfolio, err)
		}
	}
}

// Recompute derives one snapshot from an isolated view of positions and
// prices. Instruments without any price are skipped and flagged; a
// portfolio with no priced instrument at all returns ErrPriceUnavailable.
func (e *Engine) Recompute(portfolio schema.PortfolioID) (schema.RiskSnapshot, error) {
	start := time.Now()

	positions := e.book.Positions(portfolio)
	if len(positions) == 0 {
		return schema.RiskSnapshot{}, exception.ErrUnknownPortfolio
	}

	var flags uint16
	var pnl, exposure float64
	priced := 0
	for _, pos := range positions {
		price, ok := e.store.CurrentPrice(pos.Instrument, e.cfg.Granularity)
		if !ok {
			flags |= schema.RiskFlagPriceUnavailable
			continue
		}
		priced++

		inst, _ := e.registry.Instrument(pos.Instrument)
		qty := float64(pos.Qty) / float64(inst.Scale.QuantityScale.Pow10())
		priceF := float64(price) / float64(inst.Scale.PriceScale.Pow10())
		avgF := float64(pos.AvgCost) / float64(inst.Scale.PriceScale.Pow10())

		pnl += qty * (priceF - avgF)
		exposure += math.Abs(qty * priceF)
	}
	if priced == 0 {
		return schema.RiskSnapshot{}, exception.ErrPriceUnavailable
	}

	basket := e.cfg.Basket
	if len(basket) == 0 {
		basket = make([]schema.InstrumentID, 0, len(positions))
		for _, pos := range positions {
			basket = append(basket, pos.Instrument)
		}
	}
	vol, samples := e.volatility(basket)
	if samples < e.cfg.SampleWindow {
		flags |= schema.RiskFlagLowSample
		vol *= e.widening(samples)
	}

	snap := schema.RiskSnapshot{
		Portfolio:     portfolio,
		Flags:         flags,
		TsNano:        e.clock().UnixNano(),
		UnrealizedPnl: e.toNotional(pnl),
		Exposure:      e.toNotional(exposure),
		Volatility:    vol,
		VaR:           e.toNotional(e.cfg.ZScore * vol * exposure),
		SampleCount:   uint32(samples),
	}

	e.record(snap)
	e.publishSnapshot(snap)
	e.checkBreaches(snap)
	e.metrics.ObserveRisk(time.Since(start))
	return snap, nil
}

// volatility pools EWMA variance over the basket's closed-window simple
// returns and reports the smallest per-instrument sample count.
func (e *Engine) volatility(basket []schema.InstrumentID) (float64, int) {
	sum := 0.0
	contributing := 0
	minSamples := math.MaxInt
	for _, id := range basket {
		returns := e.returns(id)
		if len(returns) < minSamples {
			minSamples = len(returns)
		}
		if len(returns) == 0 {
			continue
		}
		variance := returns[0] * returns[0]
		for _, r := range returns[1:] {
			variance = e.cfg.Lambda*variance + (1-e.cfg.Lambda)*r*r
		}
		sum += math.Sqrt(variance)
		contributing++
	}
	if contributing == 0 {
		return 0, 0
	}
	return sum / float64(contributing), minSamples
}

func (e *Engine) returns(id schema.InstrumentID) []float64 {
	cur := e.store.TailQuery(id, e.cfg.Granularity, e.cfg.SampleWindow+1)
	closes := make([]float64, 0, cur.Len())
	for {
		w, ok := cur.Next()
		if !ok {
			break
		}
		if w.Empty() {
			continue
		}
		closes = append(closes, float64(w.Close))
	}
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			out = append(out, closes[i]/closes[i-1]-1)
		}
	}
	return out
}

func (e *Engine) widening(samples int) float64 {
	n := samples - 1
	if n < 1 {
		n = 1
	}
	f := math.Sqrt(float64(e.cfg.SampleWindow) / float64(n))
	if f > e.cfg.LowSampleCap {
		f = e.cfg.LowSampleCap
	}
	return f
}

func (e *Engine) toNotional(v float64) schema.Notional {
	scaled := math.Round(v * float64(e.cfg.NotionalScale.Pow10()))
	if scaled > math.MaxInt64 {
		return schema.Notional(math.MaxInt64)
	}
	if scaled < math.MinInt64 {
		return schema.Notional(math.MinInt64)
	}
	return schema.Notional(scaled)
}

// History returns the retained snapshots, oldest first.
func (e *Engine) History(portfolio schema.PortfolioID) []schema.RiskSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	ring := e.history[portfolio]
	if ring == nil {
		return nil
	}
	return ring.slice()
}

func (e *Engine) record(snap schema.RiskSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ring := e.history[snap.Portfolio]
	if ring == nil {
		ring = newSnapshotRing(e.cfg.HistoryDepth)
		e.history[snap.Portfolio] = ring
	}
	ring.push(snap)
}

func (e *Engine) checkBreaches(snap schema.RiskSnapshot) {
	if e.cfg.MaxExposure > 0 && snap.Exposure > e.cfg.MaxExposure {
		e.publishAlert(snap, "exposure limit exceeded")
	}
	if e.cfg.MaxVaR > 0 && snap.VaR > e.cfg.MaxVaR {
		e.publishAlert(snap, "var limit exceeded")
	}
}

func (e *Engine) publishSnapshot(snap schema.RiskSnapshot) {
	if e.events == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	header := schema.NewHeader(schema.EventRiskSnapshot, e.source, 0, seq, snap.TsNano, snap.TsNano)
	header.Flags = snap.Flags
	if err := e.events.TryPublish(bus.Event{Header: header, Payload: codec.EncodeRiskSnapshot(nil, snap)}); err != nil {
		logs.Warnf("risk snapshot drop portfolio=%d: %+v", snap.Portfolio, err)
	}
}

func (e *Engine) publishAlert(snap schema.RiskSnapshot, detail string) {
	alert := schema.Alert{
		Kind:      schema.AlertRiskBreach,
		Severity:  schema.SeverityCritical,
		Portfolio: snap.Portfolio,
		TsNano:    snap.TsNano,
	}
	alert.SetDetail(detail)
	logs.Warnf("risk breach portfolio=%d detail=%s", snap.Portfolio, detail)

	if e.events == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	header := schema.NewHeader(schema.EventAlert, e.source, 0, seq, snap.TsNano, snap.TsNano)
	if err := e.events.TryPublish(bus.Event{Header: header, Payload: codec.EncodeAlert(nil, alert)}); err != nil {
		logs.Warnf("risk alert drop portfolio=%d: %+v", snap.Portfolio, err)
	}
}

type snapshotRing struct {
	buf  []schema.RiskSnapshot
	head int
	size int
}

func newSnapshotRing(capacity int) *snapshotRing {
	return &snapshotRing{buf: make([]schema.RiskSnapshot, capacity)}
}

func (r *snapshotRing) push(snap schema.RiskSnapshot) {
	r.buf[(r.head+r.size)%len(r.buf)] = snap
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

func (r *snapshotRing) slice() []schema.RiskSnapshot {
	out := make([]schema.RiskSnapshot, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
