package eventstore

import (
	"fmt"
	"time"
)

const (
	defaultSegmentMaxBytes int64 = 1 << 30
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "events"
)

var defaultSegmentMaxDuration = time.Hour

// Config controls the on-disk log behavior.
type Config struct {
	Dir                string        `json:"dir" yaml:"dir"`
	SegmentMaxBytes    int64         `json:"segmentMaxBytes" yaml:"segmentMaxBytes"`
	SegmentMaxDuration time.Duration `json:"segmentMaxDuration" yaml:"segmentMaxDuration"`
	BufferSize         int           `json:"bufferSize" yaml:"bufferSize"`
	FilePrefix         string        `json:"filePrefix" yaml:"filePrefix"`
	SyncEveryAppend    bool          `json:"syncEveryAppend" yaml:"syncEveryAppend"`
	DisableChecksum    bool          `json:"disableChecksum" yaml:"disableChecksum"`
	MaxPayloadSize     int           `json:"maxPayloadSize" yaml:"maxPayloadSize"`
}

// DefaultConfig returns a baseline configuration for the store.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
	}
}

// WithDefaults fills unset tuning fields with the baseline values, so a
// config file only has to name what it changes.
func (c Config) WithDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.SegmentMaxDuration == 0 {
		c.SegmentMaxDuration = defaultSegmentMaxDuration
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid eventstore config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid eventstore config: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid eventstore config: BufferSize must be > 0")
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("invalid eventstore config: MaxPayloadSize must be >= 0")
	}
	return nil
}
