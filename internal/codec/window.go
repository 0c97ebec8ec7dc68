package codec

import (
	"encoding/binary"

	"main/internal/schema"
)

const WindowPayloadSize = 88

// EncodeWindow serializes a window into a fixed-size payload.
func EncodeWindow(dst []byte, w schema.Window) []byte {
	if cap(dst) < WindowPayloadSize {
		dst = make([]byte, WindowPayloadSize)
	} else {
		dst = dst[:WindowPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(w.Instrument))
	binary.LittleEndian.PutUint16(dst[4:6], w.Flags)
	binary.LittleEndian.PutUint16(dst[6:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(w.Granularity))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(w.StartNano))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(w.EndNano))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(w.Open))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(w.High))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(w.Low))
	binary.LittleEndian.PutUint64(dst[56:64], uint64(w.Close))
	binary.LittleEndian.PutUint64(dst[64:72], uint64(w.Volume))
	binary.LittleEndian.PutUint64(dst[72:80], uint64(w.VWAP))
	binary.LittleEndian.PutUint32(dst[80:84], w.TickCount)
	binary.LittleEndian.PutUint32(dst[84:88], 0)

	return dst
}

// DecodeWindow parses a fixed-size window payload.
func DecodeWindow(src []byte) (schema.Window, bool) {
	if len(src) < WindowPayloadSize {
		return schema.Window{}, false
	}
	return schema.Window{
		Instrument:  schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		Flags:       binary.LittleEndian.Uint16(src[4:6]),
		Granularity: schema.Granularity(int64(binary.LittleEndian.Uint64(src[8:16]))),
		StartNano:   int64(binary.LittleEndian.Uint64(src[16:24])),
		EndNano:     int64(binary.LittleEndian.Uint64(src[24:32])),
		Open:        schema.Price(int64(binary.LittleEndian.Uint64(src[32:40]))),
		High:        schema.Price(int64(binary.LittleEndian.Uint64(src[40:48]))),
		Low:         schema.Price(int64(binary.LittleEndian.Uint64(src[48:56]))),
		Close:       schema.Price(int64(binary.LittleEndian.Uint64(src[56:64]))),
		Volume:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[64:72]))),
		VWAP:        schema.Price(int64(binary.LittleEndian.Uint64(src[72:80]))),
		TickCount:   binary.LittleEndian.Uint32(src[80:84]),
	}, true
}
