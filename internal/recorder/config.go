package recorder

import (
	"fmt"
	"time"
)

const defaultFilePrefix = "events"

// Config controls journal writer behavior. Zero values for sizing
// fields fall back to the defaults below.
type Config struct {
	Dir                string
	FilePrefix         string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FlushInterval      time.Duration
	SyncInterval       time.Duration
	CopyPayload        bool
}

// DefaultConfig returns a baseline configuration for the journal writer.
func DefaultConfig(dir string) Config {
	c := Config{Dir: dir, SegmentMaxDuration: 5 * time.Minute}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = 1 << 30
	}
	if c.QueueSize == 0 {
		c.QueueSize = 4096
	}
	if c.BufferSize == 0 {
		c.BufferSize = 256 * 1024
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("invalid recorder config: Dir is empty")
	case c.SegmentMaxBytes <= 0:
		return fmt.Errorf("invalid recorder config: SegmentMaxBytes must be > 0")
	case c.QueueSize <= 0:
		return fmt.Errorf("invalid recorder config: QueueSize must be > 0")
	case c.BufferSize <= 0:
		return fmt.Errorf("invalid recorder config: BufferSize must be > 0")
	case c.FlushInterval < 0:
		return fmt.Errorf("invalid recorder config: FlushInterval must be >= 0")
	case c.SyncInterval < 0:
		return fmt.Errorf("invalid recorder config: SyncInterval must be >= 0")
	}
	return nil
}
