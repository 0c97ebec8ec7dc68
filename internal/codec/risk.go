package codec

import (
	"encoding/binary"
	"math"

	"main/internal/schema"
)

const RiskSnapshotPayloadSize = 56

// EncodeRiskSnapshot serializes a risk snapshot into a fixed-size payload.
func EncodeRiskSnapshot(dst []byte, snap schema.RiskSnapshot) []byte {
	if cap(dst) < RiskSnapshotPayloadSize {
		dst = make([]byte, RiskSnapshotPayloadSize)
	} else {
		dst = dst[:RiskSnapshotPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(snap.Portfolio))
	binary.LittleEndian.PutUint16(dst[4:6], snap.Flags)
	binary.LittleEndian.PutUint16(dst[6:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(snap.TsNano))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(snap.UnrealizedPnl))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(snap.Exposure))
	binary.LittleEndian.PutUint64(dst[32:40], math.Float64bits(snap.Volatility))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(snap.VaR))
	binary.LittleEndian.PutUint32(dst[48:52], snap.SampleCount)
	binary.LittleEndian.PutUint32(dst[52:56], 0)

	return dst
}

// DecodeRiskSnapshot parses a fixed-size risk snapshot payload.
func DecodeRiskSnapshot(src []byte) (schema.RiskSnapshot, bool) {
	if len(src) < RiskSnapshotPayloadSize {
		return schema.RiskSnapshot{}, false
	}
	return schema.RiskSnapshot{
		Portfolio:     schema.PortfolioID(binary.LittleEndian.Uint32(src[0:4])),
		Flags:         binary.LittleEndian.Uint16(src[4:6]),
		TsNano:        int64(binary.LittleEndian.Uint64(src[8:16])),
		UnrealizedPnl: schema.Notional(int64(binary.LittleEndian.Uint64(src[16:24]))),
		Exposure:      schema.Notional(int64(binary.LittleEndian.Uint64(src[24:32]))),
		Volatility:    math.Float64frombits(binary.LittleEndian.Uint64(src[32:40])),
		VaR:           schema.Notional(int64(binary.LittleEndian.Uint64(src[40:48]))),
		SampleCount:   binary.LittleEndian.Uint32(src[48:52]),
	}, true
}
