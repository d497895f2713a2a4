package indexer

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrCheckpointStoreRequired is returned when no checkpoint store is provided.
	ErrCheckpointStoreRequired = errors.New("checkpoint store required")

	// ErrDocumentStoreRequired is returned when no document store is provided.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrVectorStoreRequired is returned when no vector store is provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrGraphStoreRequired is returned when no graph store is provided.
	ErrGraphStoreRequired = errors.New("graph store required")

	// ErrWatermarkStoreRequired is returned by Sync without a watermark store.
	ErrWatermarkStoreRequired = errors.New("watermark store required for sync")

	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrSourceRequired is returned when Run or Sync is called without a source.
	ErrSourceRequired = errors.New("source required")

	// ErrInvalidConfig is returned for unusable Config values.
	ErrInvalidConfig = errors.New("invalid indexer config")

	// ErrMalformedErrorLog is returned when an error log cannot be parsed.
	ErrMalformedErrorLog = errors.New("malformed error log")
)
