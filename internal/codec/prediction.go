package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

const PredictionPayloadSize = 32

// EncodePrediction serializes a prediction into a fixed-size payload.
func EncodePrediction(dst []byte, p schema.Prediction) []byte {
	if cap(dst) < PredictionPayloadSize {
		dst = make([]byte, PredictionPayloadSize)
	} else {
		dst = dst[:PredictionPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Instrument))
	binary.LittleEndian.PutUint32(dst[4:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(p.TsNano))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(p.WindowEndNano))
	binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(p.Score))
	return dst
}

// DecodePrediction parses a fixed-size prediction payload.
func DecodePrediction(src []byte) (schema.Prediction, bool) {
	if len(src) < PredictionPayloadSize {
		return schema.Prediction{}, false
	}
	return schema.Prediction{
		Instrument:    schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		TsNano:        int64(binary.LittleEndian.Uint64(src[8:16])),
		WindowEndNano: int64(binary.LittleEndian.Uint64(src[16:24])),
		Score:         math.Float64frombits(binary.LittleEndian.Uint64(src[24:32])),
	}, true
}
