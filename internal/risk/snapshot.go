package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"main/internal/schema"
)

// BookSnapshot captures every position at a point in time together with
// the last event-log sequence folded into the book.
type BookSnapshot struct {
	Timestamp   int64             `json:"timestamp"`
	LastSeq     uint64            `json:"lastSeq"`
	LastEventTs int64             `json:"lastEventTs"`
	Positions   []schema.Position `json:"positions"`
}

// Snapshot builds a snapshot from the current book contents.
func (b *Book) Snapshot(tsNano int64) BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entries []schema.Position
	for _, port := range b.portfolios {
		for _, pos := range port {
			entries = append(entries, pos)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Portfolio != entries[j].Portfolio {
			return entries[i].Portfolio < entries[j].Portfolio
		}
		return entries[i].Instrument < entries[j].Instrument
	})
	return BookSnapshot{
		Timestamp:   tsNano,
		LastSeq:     b.lastSeq,
		LastEventTs: b.lastEventTs,
		Positions:   entries,
	}
}

// ApplySnapshot replaces the book contents with a snapshot.
func (b *Book) ApplySnapshot(snap BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.portfolios = make(map[schema.PortfolioID]map[schema.InstrumentID]schema.Position, len(snap.Positions))
	for _, pos := range snap.Positions {
		if pos.Qty == 0 {
			continue
		}
		port := b.portfolios[pos.Portfolio]
		if port == nil {
			port = make(map[schema.InstrumentID]schema.Position)
			b.portfolios[pos.Portfolio] = port
		}
		port[pos.Instrument] = pos
	}
	b.lastSeq = snap.LastSeq
	b.lastEventTs = snap.LastEventTs
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap BookSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (BookSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BookSnapshot{}, err
	}
	var snap BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return BookSnapshot{}, err
	}
	return snap, nil
}
