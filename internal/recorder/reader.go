package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"main/internal/schema"
)

var ErrChecksumMismatch = errors.New("journal checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes journal records sequentially from a single segment
// stream. Use DirReader to walk a directory of segments.
type Reader struct {
	src    *bufio.Reader
	opts   ReaderOptions
	header [recordHeaderSize]byte
	trail  [recordChecksumSize]byte
	body   []byte
}

// NewReader wraps an io.Reader with journal decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		src:  bufio.NewReader(r),
		opts: opts,
	}
}

// Next returns the next record header and payload.
// The payload is only valid until the next call to Next.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	if n, err := io.ReadFull(r.src, r.header[:]); err != nil {
		if err == io.EOF && n == 0 {
			return schema.EventHeader{}, nil, io.EOF
		}
		return schema.EventHeader{}, nil, err
	}

	header, payloadLen, err := decodeRecordHeader(r.header[:])
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, ErrPayloadTooLarge
	}

	if err := r.readBody(int(payloadLen)); err != nil {
		return header, nil, err
	}
	if _, err := io.ReadFull(r.src, r.trail[:]); err != nil {
		return header, nil, err
	}

	if !r.opts.DisableChecksum {
		want := binary.LittleEndian.Uint32(r.trail[:])
		if checksum(r.header[:], r.body) != want {
			return header, nil, ErrChecksumMismatch
		}
	}
	return header, r.body, nil
}

func (r *Reader) readBody(n int) error {
	if n == 0 {
		r.body = r.body[:0]
		return nil
	}
	if cap(r.body) < n {
		r.body = make([]byte, n)
	}
	r.body = r.body[:n]
	_, err := io.ReadFull(r.src, r.body)
	return err
}
