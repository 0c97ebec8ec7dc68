package exception

import "errors"

// Risk calculator errors.
var (
	ErrUnknownPortfolio = errors.New("risk: unknown portfolio")
	ErrPriceUnavailable = errors.New("risk: no price available")
	ErrNotionalOverflow = errors.New("risk: notional overflow")
)
