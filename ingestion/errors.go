package ingestion

import "errors"

var (
	// ErrSyncerRequired is returned when no syncer is provided.
	ErrSyncerRequired = errors.New("syncer required")

	// ErrSourceRequired is returned when no source is provided.
	ErrSourceRequired = errors.New("source required")

	// ErrPipelineRequired is returned when a watcher has no pipeline.
	ErrPipelineRequired = errors.New("pipeline required")

	// ErrPipelineClosed is returned when triggering a closed pipeline.
	ErrPipelineClosed = errors.New("pipeline closed")
)
