package schema

import (
	"math"
	"time"
)

// Price is a scaled integer. The scale is defined per instrument.
type Price int64

// Quantity is a scaled integer. The scale is defined per instrument.
type Quantity int64

// Notional is a scaled integer. The scale is defined per instrument.
type Notional int64

// Granularity is a window duration. Windows are aligned to multiples of it.
type Granularity time.Duration

const (
	Granularity1s Granularity = Granularity(time.Second)
	Granularity1m Granularity = Granularity(time.Minute)
	Granularity1h Granularity = Granularity(time.Hour)
)

// Duration returns the granularity as a time.Duration.
func (g Granularity) Duration() time.Duration {
	return time.Duration(g)
}

// AlignDown returns the start of the window containing tsNano.
func (g Granularity) AlignDown(tsNano int64) int64 {
	step := int64(g)
	if step <= 0 {
		return tsNano
	}
	aligned := tsNano - tsNano%step
	if tsNano < 0 && tsNano%step != 0 {
		aligned -= step
	}
	return aligned
}

// Tick flags.
const (
	TickFlagLateArrival uint16 = 1 << iota
	TickFlagReplayed
)

// Tick is a single validated trade print. Immutable once stored.
type Tick struct {
	Instrument     InstrumentID
	Flags          uint16
	Price          Price
	Volume         Quantity
	ExchangeTsNano int64
	IngestTsNano   int64
	Seq            uint64
}

// Window flags.
const (
	WindowFlagGapFill uint16 = 1 << iota
	WindowFlagAmended
)

// Window is a single OHLC aggregate over [StartNano, EndNano).
// Closed windows are immutable; amendments replace the whole value.
type Window struct {
	Instrument  InstrumentID
	Granularity Granularity
	Flags       uint16
	StartNano   int64
	EndNano     int64
	Open        Price
	High        Price
	Low         Price
	Close       Price
	Volume      Quantity
	VWAP        Price
	TickCount   uint32
}

// Empty reports whether the window is a gap-fill carrier with no trades.
func (w Window) Empty() bool {
	return w.TickCount == 0
}

// CheckInvariants validates the OHLC bounds of a window.
func (w Window) CheckInvariants() bool {
	if w.EndNano != w.StartNano+int64(w.Granularity) {
		return false
	}
	if w.Volume < 0 {
		return false
	}
	if w.Empty() {
		return w.Open == w.Close && w.High == w.Open && w.Low == w.Open && w.Volume == 0
	}
	hi := w.Open
	if w.Close > hi {
		hi = w.Close
	}
	lo := w.Open
	if w.Close < lo {
		lo = w.Close
	}
	return w.High >= hi && w.Low <= lo
}

// PortfolioID identifies a portfolio in the position book.
type PortfolioID uint32

// Position is the signed holding of one instrument in one portfolio.
type Position struct {
	Portfolio  PortfolioID
	Instrument InstrumentID
	Qty        Quantity
	AvgCost    Price
}

// Fill is a trade-execution event applied to the position book.
type Fill struct {
	Portfolio  PortfolioID
	Instrument InstrumentID
	QtyDelta   Quantity
	FillPrice  Price
	TsNano     int64
}

// Risk snapshot flags.
const (
	RiskFlagLowSample uint16 = 1 << iota
	RiskFlagPriceUnavailable
)

// RiskSnapshot is a derived, internally consistent view of portfolio risk.
type RiskSnapshot struct {
	Portfolio     PortfolioID
	Flags         uint16
	TsNano        int64
	UnrealizedPnl Notional
	Exposure      Notional
	Volatility    float64
	VaR           Notional
	SampleCount   uint32
}

// Prediction is a fresh anomaly score for one closed window.
type Prediction struct {
	Instrument    InstrumentID
	TsNano        int64
	WindowEndNano int64
	Score         float64
}

// AlertKind classifies an alert.
type AlertKind uint16

const (
	AlertUnknown AlertKind = iota
	AlertAnomaly
	AlertRiskBreach
	AlertSubscriberOverflow
)

// AlertSeverity orders alerts by urgency.
type AlertSeverity uint16

const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityCritical
)

// Alert is an immutable notification produced by the predict bridge or
// the risk calculator.
type Alert struct {
	Kind       AlertKind
	Severity   AlertSeverity
	Instrument InstrumentID
	Portfolio  PortfolioID
	TsNano     int64
	Score      float64
	Detail     [64]byte
}

// SetDetail copies a human-readable reason into the fixed detail field.
func (a *Alert) SetDetail(s string) {
	n := copy(a.Detail[:], s)
	for i := n; i < len(a.Detail); i++ {
		a.Detail[i] = 0
	}
}

// DetailString returns the detail field without trailing zero bytes.
func (a Alert) DetailString() string {
	end := len(a.Detail)
	for end > 0 && a.Detail[end-1] == 0 {
		end--
	}
	return string(a.Detail[:end])
}

// MulNotional multiplies a price by a quantity with overflow detection.
func MulNotional(price Price, qty Quantity) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, true
	}
	ap, aq := p, q
	if ap < 0 {
		ap = -ap
	}
	if aq < 0 {
		aq = -aq
	}
	if ap > math.MaxInt64/aq {
		return 0, false
	}
	return Notional(p * q), true
}
