package feedsim

import (
	"fmt"
	"math/rand"
	"time"
)

// Tick is the wire form of one synthetic trade. Prices and sizes are
// decimal strings so the feed looks like a real exchange stream.
type Tick struct {
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	TimestampMs  int64  `json:"timestamp"`
	FeedSequence uint64 `json:"feed_sequence"`
}

// Config controls the synthetic walk.
type Config struct {
	Symbols []string
	// BasePrice is the starting price in scaled integer units.
	BasePrice int64
	// Scale is the number of decimal places in emitted prices.
	Scale int
	// MaxStep bounds each walk step, in scaled units.
	MaxStep int64
	// MaxSize bounds the emitted trade size.
	MaxSize int64
	// Seed makes the stream reproducible; zero seeds from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.BasePrice <= 0 {
		c.BasePrice = 10000
	}
	if c.Scale < 0 {
		c.Scale = 0
	}
	if c.MaxStep <= 0 {
		c.MaxStep = 10
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Generator emits a random-walk trade stream over a fixed symbol set.
// Not safe for concurrent use.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	prices map[string]int64
	seqs   map[string]uint64
	index  int
}

func NewGenerator(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("feedsim: no symbols")
	}

	prices := make(map[string]int64, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		prices[symbol] = cfg.BasePrice
	}
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: prices,
		seqs:   make(map[string]uint64, len(cfg.Symbols)),
	}, nil
}

// Next produces the next trade, round-robin across symbols. Prices
// never walk below one scaled unit.
func (g *Generator) Next(now time.Time) Tick {
	symbol := g.cfg.Symbols[g.index]
	g.index = (g.index + 1) % len(g.cfg.Symbols)

	step := g.rng.Int63n(2*g.cfg.MaxStep+1) - g.cfg.MaxStep
	price := g.prices[symbol] + step
	if price < 1 {
		price = 1
	}
	g.prices[symbol] = price

	g.seqs[symbol]++
	return Tick{
		Symbol:       symbol,
		Price:        formatScaled(price, g.cfg.Scale),
		Size:         formatScaled(1+g.rng.Int63n(g.cfg.MaxSize), 0),
		TimestampMs:  now.UnixMilli(),
		FeedSequence: g.seqs[symbol],
	}
}

func formatScaled(v int64, scale int) string {
	if scale <= 0 {
		return fmt.Sprintf("%d", v)
	}
	factor := int64(1)
	for i := 0; i < scale; i++ {
		factor *= 10
	}
	return fmt.Sprintf("%d.%0*d", v/factor, scale, v%factor)
}
