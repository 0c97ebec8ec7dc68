package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/schema"
)

var (
	ErrQueueFull       = errors.New("journal queue full")
	ErrClosed          = errors.New("journal writer closed")
	ErrNotStarted      = errors.New("journal writer not started")
	ErrAlreadyStarted  = errors.New("journal writer already started")
	ErrPayloadTooLarge = errors.New("journal payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

type appendReq struct {
	header  schema.EventHeader
	payload []byte
}

// Writer appends events to journal segments. TryAppend never blocks;
// the write loop runs in its own goroutine behind a bounded queue.
type Writer struct {
	cfg Config
	ch  chan appendReq
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
}

// NewWriter creates a journal writer and ensures the target directory
// exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan appendReq, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes any buffered data.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryAppend enqueues an event without blocking.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	if w.cfg.CopyPayload && len(payload) > 0 {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		payload = cp
	}

	select {
	case w.ch <- appendReq{header: header, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}

// segment is one open journal file plus its buffered writer.
type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

// journal is the write loop's private state.
type journal struct {
	cfg         Config
	seg         *segment
	segID       uint64
	headerBuf   [recordHeaderSize]byte
	checksumBuf [recordChecksumSize]byte
}

func (w *Writer) run(ctx context.Context) {
	j := &journal{cfg: w.cfg}

	var flushC, syncC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}

	defer func() {
		if err := j.closeSegment(); err != nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.setErr(j.drain(w.ch))
			return
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := j.write(req); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if err := j.flush(); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := j.sync(); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

// drain writes whatever is already queued, without waiting for more.
func (j *journal) drain(ch chan appendReq) error {
	for {
		select {
		case req, ok := <-ch:
			if !ok {
				return nil
			}
			if err := j.write(req); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (j *journal) write(req appendReq) error {
	if uint64(len(req.payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	recordSize := int64(recordHeaderSize + len(req.payload) + recordChecksumSize)
	if j.needsRotation(now, recordSize) {
		if err := j.closeSegment(); err != nil {
			return err
		}
		if err := j.openSegment(now); err != nil {
			return err
		}
	}

	encodeHeader(j.headerBuf[:], req.header, len(req.payload))
	sum := checksum(j.headerBuf[:], req.payload)
	binary.LittleEndian.PutUint32(j.checksumBuf[:], sum)

	if _, err := j.seg.buf.Write(j.headerBuf[:]); err != nil {
		return err
	}
	if len(req.payload) > 0 {
		if _, err := j.seg.buf.Write(req.payload); err != nil {
			return err
		}
	}
	if _, err := j.seg.buf.Write(j.checksumBuf[:]); err != nil {
		return err
	}

	j.seg.size += recordSize
	return nil
}

func (j *journal) needsRotation(now time.Time, nextSize int64) bool {
	if j.seg == nil {
		return true
	}
	if j.cfg.SegmentMaxBytes > 0 && j.seg.size+nextSize > j.cfg.SegmentMaxBytes {
		return true
	}
	if j.cfg.SegmentMaxDuration > 0 && now.Sub(j.seg.openedAt) >= j.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (j *journal) flush() error {
	if j.seg == nil {
		return nil
	}
	return j.seg.buf.Flush()
}

func (j *journal) sync() error {
	if err := j.flush(); err != nil {
		return err
	}
	if j.seg == nil {
		return nil
	}
	return j.seg.file.Sync()
}

func (j *journal) closeSegment() error {
	if j.seg == nil {
		return nil
	}
	seg := j.seg
	j.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (j *journal) openSegment(now time.Time) error {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ts := now.Format("20060102-150405")
	for {
		j.segID++
		name := fmt.Sprintf("%s-%s-%06d.log", j.cfg.FilePrefix, ts, j.segID)
		path := filepath.Join(j.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		j.seg = &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, j.cfg.BufferSize),
			openedAt: now,
		}
		return nil
	}
}
