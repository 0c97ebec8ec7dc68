package risk

import (
	"math"
	"sort"
	"sync"

	"main/internal/schema"
)

// Book tracks signed positions with average cost per portfolio and
// instrument. Increases move the average cost, reductions leave it
// unchanged, and a sign flip resets it to the fill price of the
// residual.
type Book struct {
	mu          sync.RWMutex
	portfolios  map[schema.PortfolioID]map[schema.InstrumentID]schema.Position
	lastSeq     uint64
	lastEventTs int64
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{portfolios: make(map[schema.PortfolioID]map[schema.InstrumentID]schema.Position)}
}

// ApplyFill folds one trade execution into the book and returns the
// resulting position. A position closed to zero is removed.
func (b *Book) ApplyFill(fill schema.Fill) schema.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(fill)
}

// ApplyRecorded folds a fill replayed from the event log, tracking the
// log sequence for snapshot metadata.
func (b *Book) ApplyRecorded(fill schema.Fill, seq uint64) schema.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.lastSeq {
		b.lastSeq = seq
	}
	if fill.TsNano > b.lastEventTs {
		b.lastEventTs = fill.TsNano
	}
	return b.applyLocked(fill)
}

func (b *Book) applyLocked(fill schema.Fill) schema.Position {
	port := b.portfolios[fill.Portfolio]
	if port == nil {
		port = make(map[schema.InstrumentID]schema.Position)
		b.portfolios[fill.Portfolio] = port
	}

	pos, ok := port[fill.Instrument]
	if !ok {
		pos = schema.Position{Portfolio: fill.Portfolio, Instrument: fill.Instrument}
	}

	oldQty := pos.Qty
	newQty := oldQty + fill.QtyDelta
	switch {
	case oldQty == 0 || sameSign(oldQty, fill.QtyDelta):
		if newQty != 0 {
			total := float64(pos.AvgCost)*absQty(oldQty) + float64(fill.FillPrice)*absQty(fill.QtyDelta)
			pos.AvgCost = schema.Price(math.Round(total / absQty(newQty)))
		}
	case newQty != 0 && !sameSign(oldQty, newQty):
		// sign flip: the residual opens at the fill price
		pos.AvgCost = fill.FillPrice
	}
	pos.Qty = newQty

	if newQty == 0 {
		delete(port, fill.Instrument)
		pos.AvgCost = 0
		return pos
	}
	port[fill.Instrument] = pos
	return pos
}

// Positions returns an immutable copy of one portfolio's positions,
// sorted by instrument.
func (b *Book) Positions(portfolio schema.PortfolioID) []schema.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	port := b.portfolios[portfolio]
	out := make([]schema.Position, 0, len(port))
	for _, pos := range port {
		out = append(out, pos)
	}
	sortPositions(out)
	return out
}

// Position returns the current position for one instrument.
func (b *Book) Position(portfolio schema.PortfolioID, instrument schema.InstrumentID) (schema.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.portfolios[portfolio][instrument]
	return pos, ok
}

// Holders returns every portfolio with a nonzero position in the
// instrument.
func (b *Book) Holders(instrument schema.InstrumentID) []schema.PortfolioID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []schema.PortfolioID
	for id, port := range b.portfolios {
		if _, ok := port[instrument]; ok {
			out = append(out, id)
		}
	}
	sortPortfolios(out)
	return out
}

// Portfolios returns every portfolio id with at least one position.
func (b *Book) Portfolios() []schema.PortfolioID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]schema.PortfolioID, 0, len(b.portfolios))
	for id, port := range b.portfolios {
		if len(port) > 0 {
			out = append(out, id)
		}
	}
	sortPortfolios(out)
	return out
}

// LastSeq returns the highest replayed log sequence.
func (b *Book) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

func sortPositions(positions []schema.Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Instrument < positions[j].Instrument
	})
}

func sortPortfolios(ids []schema.PortfolioID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sameSign(a, b schema.Quantity) bool {
	return (a > 0) == (b > 0)
}

func absQty(q schema.Quantity) float64 {
	if q < 0 {
		return float64(-q)
	}
	return float64(q)
}
