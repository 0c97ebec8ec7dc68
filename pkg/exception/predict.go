package exception

import "errors"

// Prediction bridge errors.
var (
	ErrBackendSaturated = errors.New("predict: backend saturated")
	ErrStaleResult      = errors.New("predict: stale correlation id")
	ErrBridgeStopped    = errors.New("predict: bridge stopped")
)
