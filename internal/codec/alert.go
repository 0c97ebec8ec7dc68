package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

const AlertPayloadSize = 96

// EncodeAlert serializes an alert into a fixed-size payload.
func EncodeAlert(dst []byte, alert schema.Alert) []byte {
	if cap(dst) < AlertPayloadSize {
		dst = make([]byte, AlertPayloadSize)
	} else {
		dst = dst[:AlertPayloadSize]
	}

	binary.LittleEndian.PutUint16(dst[0:2], uint16(alert.Kind))
	binary.LittleEndian.PutUint16(dst[2:4], uint16(alert.Severity))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(alert.Instrument))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(alert.Portfolio))
	binary.LittleEndian.PutUint32(dst[12:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(alert.TsNano))
	binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(alert.Score))
	copy(dst[32:96], alert.Detail[:])

	return dst
}

// DecodeAlert parses a fixed-size alert payload.
func DecodeAlert(src []byte) (schema.Alert, bool) {
	if len(src) < AlertPayloadSize {
		return schema.Alert{}, false
	}
	alert := schema.Alert{
		Kind:       schema.AlertKind(binary.LittleEndian.Uint16(src[0:2])),
		Severity:   schema.AlertSeverity(binary.LittleEndian.Uint16(src[2:4])),
		Instrument: schema.InstrumentID(binary.LittleEndian.Uint32(src[4:8])),
		Portfolio:  schema.PortfolioID(binary.LittleEndian.Uint32(src[8:12])),
		TsNano:     int64(binary.LittleEndian.Uint64(src[16:24])),
		Score:      math.Float64frombits(binary.LittleEndian.Uint64(src[24:32])),
	}
	copy(alert.Detail[:], src[32:96])
	return alert, true
}
