package risk

import (
	"io"

	"github.com/yanun0323/errors"

	"main/internal/codec"
	"main/internal/schema"
)

// EventSource yields recorded events in log order, io.EOF at the end.
// The recorder's reader satisfies it.
type EventSource interface {
	Next() (schema.EventHeader, []byte, error)
}

// Recover rebuilds the book from a snapshot plus the log tail: fill
// events with a sequence past the snapshot are replayed, everything else
// is skipped. Returns the number of fills applied.
func Recover(book *Book, snap BookSnapshot, src EventSource) (int, error) {
	book.ApplySnapshot(snap)

	applied := 0
	for {
		header, payload, err := src.Next()
		if err == io.EOF {
			return applied, nil
		}
		if err != nil {
			return applied, errors.Wrap(err, "read event log")
		}
		if header.Type != schema.EventFill || header.Seq <= snap.LastSeq {
			continue
		}
		fill, ok := codec.DecodeFill(payload)
		if !ok {
			return applied, errors.Errorf("malformed fill payload, seq: %d", header.Seq)
		}
		book.ApplyRecorded(fill, header.Seq)
		applied++
	}
}
