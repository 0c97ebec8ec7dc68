package feedsim

import (
	"fmt"
	"math/rand"
	"time"
)

// ChaosConfig injects feed faults into the synthetic stream: dropped
// sequences, duplicated trades, and trades delivered with a stale
// timestamp. Useful for exercising downstream dedup and late-arrival
// handling.
type ChaosConfig struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	// LateRate is the fraction of trades emitted with a timestamp
	// pushed into the past by up to MaxLateness.
	LateRate    float64
	MaxLateness time.Duration
}

func (c ChaosConfig) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.LateRate < 0 || c.LateRate > 1 {
		return fmt.Errorf("lateRate must be between 0 and 1")
	}
	if c.MaxLateness < 0 {
		return fmt.Errorf("maxLateness must be >= 0")
	}
	return nil
}

// Enabled reports whether any fault rate is non-zero.
func (c ChaosConfig) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.LateRate > 0
}

// Chaos mutates a trade stream according to the configured fault
// rates. Not safe for concurrent use.
type Chaos struct {
	cfg ChaosConfig
	rng *rand.Rand
}

func NewChaos(cfg ChaosConfig) (*Chaos, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Process returns the trades to actually emit for one generated trade:
// empty on a drop, two entries on a duplicate. Duplicates keep the
// original feed sequence so receivers can detect them.
func (c *Chaos) Process(tick Tick) []Tick {
	if c == nil {
		return []Tick{tick}
	}
	if c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate {
		return nil
	}
	tick = c.applyLateness(tick)
	out := []Tick{tick}
	if c.cfg.DuplicateRate > 0 && c.rng.Float64() < c.cfg.DuplicateRate {
		out = append(out, tick)
	}
	return out
}

func (c *Chaos) applyLateness(tick Tick) Tick {
	if c.cfg.LateRate <= 0 || c.cfg.MaxLateness <= 0 {
		return tick
	}
	if c.rng.Float64() >= c.cfg.LateRate {
		return tick
	}
	lateness := c.rng.Int63n(c.cfg.MaxLateness.Milliseconds() + 1)
	tick.TimestampMs -= lateness
	return tick
}
