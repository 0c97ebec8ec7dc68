package ingest

import (
	"math"

	"github.com/yanun0323/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

// RawTick mirrors the upstream feed payload.
type RawTick struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	TimestampMs  int64           `json:"timestamp"`
	FeedSequence uint64          `json:"feed_sequence"`
}

// ScaledFromDecimal converts a decimal value into a scaled integer,
// truncating digits beyond the instrument scale.
func ScaledFromDecimal(d decimal.Decimal, scale schema.Scale) (int64, error) {
	return scaledFromString(d.String(), scale)
}

func scaledFromString(s string, scale schema.Scale) (int64, error) {
	if s == "" {
		return 0, exception.ErrFeedPayload
	}

	neg := false
	i := 0
	switch s[0] {
	case '-':
		neg = true
		i++
	case '+':
		i++
	}
	if i >= len(s) {
		return 0, exception.ErrFeedPayload
	}

	var intPart, fracPart int64
	var fracDigits schema.Scale
	seenDot := false
	seenDigit := false
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			d := int64(c - '0')
			if seenDot {
				if fracDigits >= scale {
					continue
				}
				fracPart = fracPart*10 + d
				fracDigits++
			} else {
				if intPart > (math.MaxInt64-d)/10 {
					return 0, exception.ErrFeedPayload
				}
				intPart = intPart*10 + d
			}
		case c == '.' && !seenDot:
			seenDot = true
		default:
			return 0, exception.ErrFeedPayload
		}
	}
	if !seenDigit {
		return 0, exception.ErrFeedPayload
	}

	for fracDigits < scale {
		fracPart *= 10
		fracDigits++
	}

	mul := scale.Pow10()
	if intPart > (math.MaxInt64-fracPart)/mul {
		return 0, exception.ErrFeedPayload
	}
	value := intPart*mul + fracPart
	if neg {
		value = -value
	}
	return value, nil
}
