package archive

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/schema"
)

// Config controls archive batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// Archiver drains closed windows and risk snapshots from the event bus
// into Postgres. Inserts are batched; a failed batch is logged and
// dropped so the hot path never backs up behind the database.
type Archiver struct {
	cfg Config
	db  *gorm.DB

	mu      sync.Mutex
	windows []WindowRow
	risks   []RiskRow
}

// New migrates the archive tables and returns an archiver.
func New(db *gorm.DB, cfg Config) (*Archiver, error) {
	if err := db.AutoMigrate(&WindowRow{}, &RiskRow{}); err != nil {
		return nil, err
	}
	return &Archiver{cfg: cfg.withDefaults(), db: db}, nil
}

// Run consumes the queue until the context ends, then flushes whatever
// is still buffered.
func (a *Archiver) Run(ctx context.Context, q *bus.Queue) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(a.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Flush()
			}
		}
	}()

	q.Run(ctx, a.Observe)
	<-done
	a.Flush()
}

// Observe buffers one event, flushing when a batch fills.
func (a *Archiver) Observe(e bus.Event) {
	switch e.Header.Type {
	case schema.EventWindowClosed, schema.EventWindowAmended:
		window, ok := codec.DecodeWindow(e.Payload)
		if !ok {
			logs.Warnf("archive: malformed window payload, %d bytes", len(e.Payload))
			return
		}
		a.mu.Lock()
		a.windows = append(a.windows, windowRow(window))
		full := len(a.windows) >= a.cfg.BatchSize
		a.mu.Unlock()
		if full {
			a.Flush()
		}
	case schema.EventRiskSnapshot:
		snap, ok := codec.DecodeRiskSnapshot(e.Payload)
		if !ok {
			logs.Warnf("archive: malformed risk payload, %d bytes", len(e.Payload))
			return
		}
		a.mu.Lock()
		a.risks = append(a.risks, riskRow(snap))
		full := len(a.risks) >= a.cfg.BatchSize
		a.mu.Unlock()
		if full {
			a.Flush()
		}
	}
}

// Flush writes buffered rows. Window rows upsert on the window key so
// amendments replace the originally archived row.
func (a *Archiver) Flush() {
	a.mu.Lock()
	windows := a.windows
	risks := a.risks
	a.windows = nil
	a.risks = nil
	a.mu.Unlock()

	if len(windows) > 0 {
		err := a.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "instrument"}, {Name: "granularity"}, {Name: "start_nano"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"end_nano", "open", "high", "low", "close",
				"volume", "vwap", "tick_count", "flags", "updated_at",
			}),
		}).CreateInBatches(windows, a.cfg.BatchSize).Error
		if err != nil {
			logs.Errorf("archive: insert %d windows failed, %+v", len(windows), err)
		}
	}

	if len(risks) > 0 {
		if err := a.db.CreateInBatches(risks, a.cfg.BatchSize).Error; err != nil {
			logs.Errorf("archive: insert %d risk snapshots failed, %+v", len(risks), err)
		}
	}
}
