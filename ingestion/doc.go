// Package ingestion keeps the index current while sources change.
//
// The Pipeline runs incremental syncs one at a time. Sync requests that
// arrive while a run is in progress are coalesced into a single follow-up
// run, so a burst of changes never queues more than one extra sync.
//
// The Watcher observes a source directory or file with fsnotify and asks
// the pipeline for a sync after changes settle.
package ingestion
