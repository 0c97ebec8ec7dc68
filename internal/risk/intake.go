package risk

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/uds"
)

// RawFill mirrors the execution feed payload: one JSON object per line.
type RawFill struct {
	Portfolio   uint32          `json:"portfolio"`
	Symbol      string          `json:"symbol"`
	QtyDelta    decimal.Decimal `json:"qty_delta"`
	FillPrice   decimal.Decimal `json:"fill_price"`
	TimestampMs int64           `json:"timestamp"`
}

// FillJournal persists applied fills without blocking intake.
type FillJournal interface {
	TryAppend(header schema.EventHeader, payload []byte) error
}

// Intake validates execution-feed fills, folds them into the book, and
// publishes EventFill so the journal and subscribers see every trade.
// Fill sequences continue past the book's last recovered sequence, so a
// snapshot taken later replays cleanly against the same journal.
type Intake struct {
	registry *schema.Registry
	book     *Book
	events   *bus.Queue
	metrics  *obs.Metrics
	journal  FillJournal
	source   uint16
	clock    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewIntake builds a fill intake over the registry's instruments.
func NewIntake(registry *schema.Registry, book *Book, events *bus.Queue, metrics *obs.Metrics, source uint16) *Intake {
	return &Intake{
		registry: registry,
		book:     book,
		events:   events,
		metrics:  metrics,
		source:   source,
		clock:    time.Now,
		seq:      book.LastSeq(),
	}
}

// WithJournal attaches the durable fill log.
func (in *Intake) WithJournal(journal FillJournal) *Intake {
	in.journal = journal
	return in
}

// WithClock swaps the wall clock for tests.
func (in *Intake) WithClock(clock func() time.Time) *Intake {
	if clock != nil {
		in.clock = clock
	}
	return in
}

// Apply validates one raw fill and folds it into the book. It returns
// the applied fill and its log sequence.
func (in *Intake) Apply(raw RawFill) (schema.Fill, uint64, error) {
	id, ok := in.registry.InstrumentIDBySymbol(raw.Symbol)
	if !ok {
		return schema.Fill{}, 0, exception.ErrUnknownInstrument
	}
	inst, _ := in.registry.Instrument(id)

	price, err := ingest.ScaledFromDecimal(raw.FillPrice, inst.Scale.PriceScale)
	if err != nil || price <= 0 {
		return schema.Fill{}, 0, exception.ErrInvalidPrice
	}
	qty, err := ingest.ScaledFromDecimal(raw.QtyDelta, inst.Scale.QuantityScale)
	if err != nil || qty == 0 {
		return schema.Fill{}, 0, exception.ErrInvalidVolume
	}
	if _, ok := schema.MulNotional(schema.Price(price), schema.Quantity(qty)); !ok {
		return schema.Fill{}, 0, exception.ErrNotionalOverflow
	}

	ts := raw.TimestampMs * int64(time.Millisecond)
	now := in.clock().UnixNano()
	if ts == 0 {
		ts = now
	}
	fill := schema.Fill{
		Portfolio:  schema.PortfolioID(raw.Portfolio),
		Instrument: id,
		QtyDelta:   schema.Quantity(qty),
		FillPrice:  schema.Price(price),
		TsNano:     ts,
	}

	in.mu.Lock()
	in.seq++
	seq := in.seq
	in.book.ApplyRecorded(fill, seq)
	in.mu.Unlock()

	header := schema.NewHeader(schema.EventFill, in.source, id, seq, ts, now)
	payload := codec.EncodeFill(nil, fill)
	in.metrics.ObserveEvent(header)

	if in.journal != nil {
		if err := in.journal.TryAppend(header, payload); err != nil {
			logs.Warnf("fill journal drop seq=%d: %+v", seq, err)
		}
	}
	if in.events != nil {
		if err := in.events.TryPublish(bus.Event{Header: header, Payload: payload}); err != nil {
			logs.Warnf("fill event drop seq=%d: %+v", seq, err)
		}
	}
	return fill, seq, nil
}

// fillAck is the per-line response on the execution socket.
type fillAck struct {
	Seq   uint64 `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`
}

// Serve accepts execution-feed connections on the socket and applies one
// JSON fill per line, acknowledging each with the applied sequence or an
// error. It returns when the context is canceled.
func (in *Intake) Serve(ctx context.Context, srv *uds.Server) error {
	if err := srv.Listen(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logs.Infof("fill intake listening on %s", srv.Path())
	for {
		conn, err := srv.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go in.serveConn(conn)
	}
}

func (in *Intake) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw RawFill
		if err := json.Unmarshal(line, &raw); err != nil {
			_ = enc.Encode(fillAck{Error: "malformed fill"})
			continue
		}
		_, seq, err := in.Apply(raw)
		if err != nil {
			_ = enc.Encode(fillAck{Error: err.Error()})
			continue
		}
		_ = enc.Encode(fillAck{Seq: seq})
	}
}
