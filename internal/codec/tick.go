package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const TickPayloadSize = 48

// EncodeTick serializes a tick into a fixed-size payload.
func EncodeTick(dst []byte, tick schema.Tick) []byte {
	if cap(dst) < TickPayloadSize {
		dst = make([]byte, TickPayloadSize)
	} else {
		dst = dst[:TickPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(tick.Instrument))
	binary.LittleEndian.PutUint16(dst[4:6], tick.Flags)
	binary.LittleEndian.PutUint16(dst[6:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(tick.Price))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(tick.Volume))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(tick.ExchangeTsNano))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(tick.IngestTsNano))
	binary.LittleEndian.PutUint64(dst[40:48], tick.Seq)

	return dst
}

// DecodeTick parses a fixed-size tick payload.
func DecodeTick(src []byte) (schema.Tick, bool) {
	if len(src) < TickPayloadSize {
		return schema.Tick{}, false
	}
	return schema.Tick{
		Instrument:     schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		Flags:          binary.LittleEndian.Uint16(src[4:6]),
		Price:          schema.Price(int64(binary.LittleEndian.Uint64(src[8:16]))),
		Volume:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[16:24]))),
		ExchangeTsNano: int64(binary.LittleEndian.Uint64(src[24:32])),
		IngestTsNano:   int64(binary.LittleEndian.Uint64(src[32:40])),
		Seq:            binary.LittleEndian.Uint64(src[40:48]),
	}, true
}
