package exception

import "errors"

// Time-series store errors.
var (
	ErrWindowClosed       = errors.New("series: window closed past amendment tolerance")
	ErrWindowNotFound     = errors.New("series: window not found")
	ErrWindowInvariant    = errors.New("series: window invariant violated")
	ErrUnknownGranularity = errors.New("series: granularity not tracked")
)
