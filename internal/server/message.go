package server

import (
	"encoding/json"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/schema"
)

// Message is the outbound frame sent to websocket clients.
type Message struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	TsNano  int64           `json:"tsNano"`
	Payload json.RawMessage `json:"payload"`
}

var eventTypeNames = map[schema.EventType]string{
	schema.EventTick:          "tick",
	schema.EventWindowClosed:  "window_closed",
	schema.EventWindowAmended: "window_amended",
	schema.EventFill:          "fill",
	schema.EventRiskSnapshot:  "risk",
	schema.EventAlert:         "alert",
	schema.EventPrediction:    "prediction",
}

var eventTypesByName = func() map[string]schema.EventType {
	m := make(map[string]schema.EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[name] = t
	}
	return m
}()

type tickPayload struct {
	Instrument uint32 `json:"instrument"`
	Price      int64  `json:"price"`
	Volume     int64  `json:"volume"`
	TsNano     int64  `json:"tsNano"`
	Seq        uint64 `json:"seq"`
	Late       bool   `json:"late,omitempty"`
}

type windowPayload struct {
	Instrument  uint32 `json:"instrument"`
	Granularity int64  `json:"granularity"`
	StartNano   int64  `json:"startNano"`
	EndNano     int64  `json:"endNano"`
	Open        int64  `json:"open"`
	High        int64  `json:"high"`
	Low         int64  `json:"low"`
	Close       int64  `json:"close"`
	Volume      int64  `json:"volume"`
	VWAP        int64  `json:"vwap"`
	TickCount   uint32 `json:"tickCount"`
	GapFill     bool   `json:"gapFill,omitempty"`
	Amended     bool   `json:"amended,omitempty"`
}

type fillPayload struct {
	Portfolio  uint32 `json:"portfolio"`
	Instrument uint32 `json:"instrument"`
	QtyDelta   int64  `json:"qtyDelta"`
	FillPrice  int64  `json:"fillPrice"`
	TsNano     int64  `json:"tsNano"`
}

type riskPayload struct {
	Portfolio        uint32  `json:"portfolio"`
	TsNano           int64   `json:"tsNano"`
	UnrealizedPnl    int64   `json:"unrealizedPnl"`
	Exposure         int64   `json:"exposure"`
	Volatility       float64 `json:"volatility"`
	VaR              int64   `json:"var"`
	SampleCount      uint32  `json:"sampleCount"`
	LowSample        bool    `json:"lowSample,omitempty"`
	PriceUnavailable bool    `json:"priceUnavailable,omitempty"`
}

type alertPayload struct {
	Kind       uint16  `json:"kind"`
	Severity   uint16  `json:"severity"`
	Instrument uint32  `json:"instrument,omitempty"`
	Portfolio  uint32  `json:"portfolio,omitempty"`
	TsNano     int64   `json:"tsNano"`
	Score      float64 `json:"score"`
	Detail     string  `json:"detail"`
}

type predictionPayload struct {
	Instrument    uint32  `json:"instrument"`
	TsNano        int64   `json:"tsNano"`
	WindowEndNano int64   `json:"windowEndNano"`
	Score         float64 `json:"score"`
}

// encodeMessage converts a bus event into its client-facing JSON frame.
// Events with unknown types or undecodable payloads are skipped.
func encodeMessage(e bus.Event) (Message, bool) {
	name, ok := eventTypeNames[e.Header.Type]
	if !ok {
		return Message{}, false
	}

	var payload any
	switch e.Header.Type {
	case schema.EventTick:
		tick, ok := codec.DecodeTick(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = tickPayload{
			Instrument: uint32(tick.Instrument),
			Price:      int64(tick.Price),
			Volume:     int64(tick.Volume),
			TsNano:     tick.ExchangeTsNano,
			Seq:        tick.Seq,
			Late:       tick.Flags&schema.TickFlagLateArrival != 0,
		}
	case schema.EventWindowClosed, schema.EventWindowAmended:
		w, ok := codec.DecodeWindow(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = windowPayload{
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
			GapFill:     w.Flags&schema.WindowFlagGapFill != 0,
			Amended:     w.Flags&schema.WindowFlagAmended != 0,
		}
	case schema.EventFill:
		fill, ok := codec.DecodeFill(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = fillPayload{
			Portfolio:  uint32(fill.Portfolio),
			Instrument: uint32(fill.Instrument),
			QtyDelta:   int64(fill.QtyDelta),
			FillPrice:  int64(fill.FillPrice),
			TsNano:     fill.TsNano,
		}
	case schema.EventRiskSnapshot:
		snap, ok := codec.DecodeRiskSnapshot(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = riskPayload{
			Portfolio:        uint32(snap.Portfolio),
			TsNano:           snap.TsNano,
			UnrealizedPnl:    int64(snap.UnrealizedPnl),
			Exposure:         int64(snap.Exposure),
			Volatility:       snap.Volatility,
			VaR:              int64(snap.VaR),
			SampleCount:      snap.SampleCount,
			LowSample:        snap.Flags&schema.RiskFlagLowSample != 0,
			PriceUnavailable: snap.Flags&schema.RiskFlagPriceUnavailable != 0,
		}
	case schema.EventAlert:
		alert, ok := codec.DecodeAlert(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = alertPayload{
			Kind:       uint16(alert.Kind),
			Severity:   uint16(alert.Severity),
			Instrument: uint32(alert.Instrument),
			Portfolio:  uint32(alert.Portfolio),
			TsNano:     alert.TsNano,
			Score:      alert.Score,
			Detail:     alert.DetailString(),
		}
	case schema.EventPrediction:
		pred, ok := codec.DecodePrediction(e.Payload)
		if !ok {
			return Message{}, false
		}
		payload = predictionPayload{
			Instrument:    uint32(pred.Instrument),
			TsNano:        pred.TsNano,
			WindowEndNano: pred.WindowEndNano,
			Score:         pred.Score,
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, false
	}
	return Message{
		Type:    name,
		Seq:     e.Header.Seq,
		TsNano:  e.Header.TsEvent,
		Payload: raw,
	}, true
}
