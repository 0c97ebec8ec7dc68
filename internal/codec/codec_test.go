package codec

import (
	"testing"

	"main/internal/schema"
)

func TestTickRoundTrip(t *testing.T) {
	orig := schema.Tick{
		Instrument:     7,
		Flags:          schema.TickFlagLateArrival,
		Price:          10250,
		Volume:         3,
		ExchangeTsNano: 1_700_000_000_000_000_000,
		IngestTsNano:   1_700_000_000_000_000_500,
		Seq:            99,
	}
	decoded, ok := DecodeTick(EncodeTick(nil, orig))
	if !ok || decoded != orig {
		t.Fatalf("tick round-trip mismatch: got %+v want %+v", decoded, orig)
	}
	if _, ok := DecodeTick(make([]byte, TickPayloadSize-1)); ok {
		t.Fatal("short tick payload should fail")
	}
}

func TestWindowRoundTrip(t *testing.T) {
	orig := schema.Window{
		Instrument:  3,
		Granularity: schema.Granularity1m,
		Flags:       schema.WindowFlagAmended,
		StartNano:   60_000_000_000,
		EndNano:     120_000_000_000,
		Open:        100, High: 102, Low: 99, Close: 99,
		Volume:    12,
		VWAP:      101,
		TickCount: 3,
	}
	decoded, ok := DecodeWindow(EncodeWindow(nil, orig))
	if !ok || decoded != orig {
		t.Fatalf("window round-trip mismatch: got %+v want %+v", decoded, orig)
	}
}

func TestAlertRoundTripKeepsDetail(t *testing.T) {
	orig := schema.Alert{
		Kind:       schema.AlertRiskBreach,
		Severity:   schema.SeverityCritical,
		Portfolio:  4,
		TsNano:     42,
		Score:      0.91,
	}
	orig.SetDetail("exposure above limit")

	decoded, ok := DecodeAlert(EncodeAlert(nil, orig))
	if !ok {
		t.Fatal("decode alert failed")
	}
	if decoded.DetailString() != "exposure above limit" {
		t.Fatalf("detail mismatch: %q", decoded.DetailString())
	}
	if decoded.Kind != orig.Kind || decoded.Score != orig.Score {
		t.Fatalf("alert mismatch: got %+v want %+v", decoded, orig)
	}
}
