package indexer

import (
	"fmt"
	"time"
)

// Config holds configuration for indexing runs.
type Config struct {
	// BatchSize is the number of items embedded per provider call.
	BatchSize int

	// MaxRetries is the number of attempts for one embedding or store call.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// StoreTimeout bounds each vector, document and graph store write.
	// Zero disables the timeout.
	StoreTimeout time.Duration

	// MaxInputChars truncates item text before embedding. Zero disables truncation.
	MaxInputChars int

	// Workers sizes the entity extraction pool.
	Workers int

	// NormalizeVectors scales embeddings to unit length before storing them.
	NormalizeVectors bool

	// EmbedEntities embeds extracted entity text and stores it on the entities.
	EmbedEntities bool

	// WatermarkName keys the incremental sync watermark.
	WatermarkName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:        32,
		MaxRetries:       3,
		RetryDelay:       1 * time.Second,
		StoreTimeout:     30 * time.Second,
		MaxInputChars:    8000,
		Workers:          4,
		NormalizeVectors: true,
		WatermarkName:    "default",
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: BatchSize must be positive", ErrInvalidConfig)
	case c.MaxRetries <= 0:
		return fmt.Errorf("%w: MaxRetries must be positive", ErrInvalidConfig)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: RetryDelay must not be negative", ErrInvalidConfig)
	case c.StoreTimeout < 0:
		return fmt.Errorf("%w: StoreTimeout must not be negative", ErrInvalidConfig)
	case c.MaxInputChars < 0:
		return fmt.Errorf("%w: MaxInputChars must not be negative", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: Workers must be positive", ErrInvalidConfig)
	case c.WatermarkName == "":
		return fmt.Errorf("%w: WatermarkName is required", ErrInvalidConfig)
	}
	return nil
}
