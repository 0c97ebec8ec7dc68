package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// Pow10 returns the scale factor as an int64 (1 for Scale<=0).
func (s Scale) Pow10() int64 {
	f := int64(1)
	for i := Scale(0); i < s; i++ {
		f *= 10
	}
	return f
}

// ScaleSpec defines scaling for an instrument's numeric fields.
type ScaleSpec struct {
	PriceScale    Scale
	QuantityScale Scale
	NotionalScale Scale
}

// FeedID is the numeric identifier for a market data feed.
type FeedID uint16

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// Feed describes a market data source.
type Feed struct {
	ID   FeedID
	Name string
}

// Instrument describes a tradable instrument served by a feed.
type Instrument struct {
	ID     InstrumentID
	FeedID FeedID
	Symbol string
	Scale  ScaleSpec
}

// Registry stores feed and instrument mappings in a compact form.
type Registry struct {
	feeds        []Feed
	instruments  []Instrument
	feedByName   map[string]FeedID
	instBySymbol map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		feedByName:   make(map[string]FeedID),
		instBySymbol: make(map[string]InstrumentID),
	}
}

// AddFeed registers a new feed and returns its ID.
func (r *Registry) AddFeed(name string) (FeedID, error) {
	if name == "" {
		return 0, fmt.Errorf("feed name is empty")
	}
	if id, ok := r.feedByName[name]; ok {
		return id, fmt.Errorf("feed already exists: %s", name)
	}
	id := FeedID(len(r.feeds) + 1)
	r.feeds = append(r.feeds, Feed{ID: id, Name: name})
	r.feedByName[name] = id
	return id, nil
}

// AddInstrument registers a new instrument and returns its ID.
func (r *Registry) AddInstrument(symbol string, feedID FeedID, scale ScaleSpec) (InstrumentID, error) {
	if symbol == "" {
		return 0, fmt.Errorf("instrument symbol is empty")
	}
	if feedID == 0 {
		return 0, fmt.Errorf("feed id is invalid")
	}
	if _, ok := r.Feed(feedID); !ok {
		return 0, fmt.Errorf("feed id not found: %d", feedID)
	}
	if id, ok := r.instBySymbol[symbol]; ok {
		return id, fmt.Errorf("instrument already exists: %s", symbol)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, Instrument{
		ID:     id,
		FeedID: feedID,
		Symbol: symbol,
		Scale:  scale,
	})
	r.instBySymbol[symbol] = id
	return id, nil
}

// Feed returns the feed by ID.
func (r *Registry) Feed(id FeedID) (Feed, bool) {
	if id == 0 || int(id) > len(r.feeds) {
		return Feed{}, false
	}
	return r.feeds[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentCount returns the number of instruments in the registry.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// FeedIDByName returns the feed ID for a name.
func (r *Registry) FeedIDByName(name string) (FeedID, bool) {
	id, ok := r.feedByName[name]
	return id, ok
}

// InstrumentIDBySymbol returns the instrument ID for a symbol.
func (r *Registry) InstrumentIDBySymbol(symbol string) (InstrumentID, bool) {
	id, ok := r.instBySymbol[symbol]
	return id, ok
}
