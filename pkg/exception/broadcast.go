package exception

import "errors"

// Broadcaster errors.
var (
	ErrSubscriptionClosed = errors.New("broadcast: subscription closed")
	ErrBroadcasterStopped = errors.New("broadcast: broadcaster stopped")
)
