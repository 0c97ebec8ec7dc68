package exception

import "errors"

// Tick ingestion rejections.
var (
	ErrUnknownInstrument = errors.New("ingest: unknown instrument")
	ErrInvalidPrice      = errors.New("ingest: invalid price")
	ErrInvalidVolume     = errors.New("ingest: invalid volume")
	ErrClockSkew         = errors.New("ingest: clock skew exceeded")
	ErrDuplicateTick     = errors.New("ingest: duplicate sequence")
	ErrShardSaturated    = errors.New("ingest: shard queue saturated")
	ErrFeedPayload       = errors.New("ingest: malformed feed payload")
)
