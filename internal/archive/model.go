package archive

import (
	"time"

	"main/internal/schema"
)

// WindowRow is the archived form of a closed OHLC window. The
// (instrument, granularity, start_nano) tuple is unique so late
// amendments overwrite the original row.
type WindowRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument  uint32 `gorm:"uniqueIndex:idx_window_key"`
	Granularity int64  `gorm:"uniqueIndex:idx_window_key"`
	StartNano   int64  `gorm:"uniqueIndex:idx_window_key"`
	EndNano     int64
	Open        int64
	High        int64
	Low         int64
	Close       int64
	Volume      int64
	VWAP        int64 `gorm:"column:vwap"`
	TickCount   uint32
	Flags       uint16
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (WindowRow) TableName() string {
	return "windows"
}

// RiskRow is one archived portfolio risk snapshot.
type RiskRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Portfolio     uint32 `gorm:"index:idx_risk_portfolio_ts"`
	TsNano        int64  `gorm:"index:idx_risk_portfolio_ts"`
	UnrealizedPnl int64
	Exposure      int64
	Volatility    float64
	VaR           int64 `gorm:"column:var"`
	SampleCount   uint32
	Flags         uint16
	CreatedAt     time.Time
}

func (RiskRow) TableName() string {
	return "risk_snapshots"
}

func windowRow(w schema.Window) WindowRow {
	return WindowRow{
		Instrument:  uint32(w.Instrument),
		Granularity: int64(w.Granularity),
		StartNano:   w.StartNano,
		EndNano:     w.EndNano,
		Open:        int64(w.Open),
		High:        int64(w.High),
		Low:         int64(w.Low),
		Close:       int64(w.Close),
		Volume:      int64(w.Volume),
		VWAP:        int64(w.VWAP),
		TickCount:   w.TickCount,
		Flags:       w.Flags,
	}
}

func riskRow(s schema.RiskSnapshot) RiskRow {
	return RiskRow{
		Portfolio:     uint32(s.Portfolio),
		TsNano:        s.TsNano,
		UnrealizedPnl: int64(s.UnrealizedPnl),
		Exposure:      int64(s.Exposure),
		Volatility:    s.Volatility,
		VaR:           int64(s.VaR),
		SampleCount:   s.SampleCount,
		Flags:         s.Flags,
	}
}
