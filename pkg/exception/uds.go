package exception

import "errors"

// Unix domain socket errors.
var (
	ErrEmptyPathUDS = errors.New("uds: empty socket path")
	ErrNilClientUDS = errors.New("uds: nil client")
	ErrNilServerUDS = errors.New("uds: nil server")
	ErrNotListening = errors.New("uds: server not listening")
)
