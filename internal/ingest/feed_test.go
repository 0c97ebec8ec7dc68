package ingest

import (
	"encoding/json"
	"testing"

	"main/internal/schema"
	"main/pkg/exception"
)

func TestScaledFromString(t *testing.T) {
	cases := []struct {
		in    string
		scale int32
		want  int64
	}{
		{"0.01", 2, 1},
		{"100", 2, 10000},
		{"100.5", 2, 10050},
		{"102.509", 2, 10250},
		{"+3.1", 1, 31},
		{"-2.5", 2, -250},
		{"0.00000001", 8, 1},
		{"42", 0, 42},
		{"42.9", 0, 42},
	}
	for _, c := range cases {
		got, err := scaledFromString(c.in, schema.Scale(c.scale))
		if err != nil {
			t.Fatalf("scaledFromString(%q, %d): %v", c.in, c.scale, err)
		}
		if got != c.want {
			t.Fatalf("scaledFromString(%q, %d): got %d want %d", c.in, c.scale, got, c.want)
		}
	}
}

func TestScaledFromStringRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "-", "+", ".", "1.2.3", "1a", "abc", "9223372036854775808"} {
		if _, err := scaledFromString(in, 2); err != exception.ErrFeedPayload {
			t.Fatalf("scaledFromString(%q): got %v want ErrFeedPayload", in, err)
		}
	}
	// scaled value overflows even though the literal fits in int64
	if _, err := scaledFromString("92233720368547758.07", 8); err != exception.ErrFeedPayload {
		t.Fatalf("overflowing scale: got %v want ErrFeedPayload", err)
	}
}

func TestRawTickDecode(t *testing.T) {
	payload := `{"symbol":"AAPL","price":"102.50","size":"3","timestamp":1756500000123,"feed_sequence":77}`
	var raw RawTick
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Symbol != "AAPL" || raw.TimestampMs != 1756500000123 || raw.FeedSequence != 77 {
		t.Fatalf("raw tick mismatch: %+v", raw)
	}
	price, err := ScaledFromDecimal(raw.Price, 2)
	if err != nil || price != 10250 {
		t.Fatalf("price: got %d, %v", price, err)
	}
	size, err := ScaledFromDecimal(raw.Size, 0)
	if err != nil || size != 3 {
		t.Fatalf("size: got %d, %v", size, err)
	}
}
