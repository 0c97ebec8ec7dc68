package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const FillPayloadSize = 32

// EncodeFill serializes a position fill into a fixed-size payload.
func EncodeFill(dst []byte, fill schema.Fill) []byte {
	if cap(dst) < FillPayloadSize {
		dst = make([]byte, FillPayloadSize)
	} else {
		dst = dst[:FillPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(fill.Portfolio))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(fill.Instrument))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(fill.QtyDelta))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(fill.FillPrice))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(fill.TsNano))

	return dst
}

// DecodeFill parses a fixed-size fill payload.
func DecodeFill(src []byte) (schema.Fill, bool) {
	if len(src) < FillPayloadSize {
		return schema.Fill{}, false
	}
	return schema.Fill{
		Portfolio:  schema.PortfolioID(binary.LittleEndian.Uint32(src[0:4])),
		Instrument: schema.InstrumentID(binary.LittleEndian.Uint32(src[4:8])),
		QtyDelta:   schema.Quantity(int64(binary.LittleEndian.Uint64(src[8:16]))),
		FillPrice:  schema.Price(int64(binary.LittleEndian.Uint64(src[16:24]))),
		TsNano:     int64(binary.LittleEndian.Uint64(src[24:32])),
	}, true
}
