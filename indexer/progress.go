package indexer

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports cumulative indexing progress, one line per batch.
type ProgressTracker struct {
	writer    io.Writer
	total     int
	succeeded int
	failed    int
	batches   int
	startTime time.Time
	started   bool
	now       func() time.Time
	mu        sync.Mutex
}

// NewProgressTracker creates a new progress tracker.
// writer: where to write progress output (typically os.Stderr)
// total: number of items expected to be processed, used for the ETA
func NewProgressTracker(writer io.Writer, total int) *ProgressTracker {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressTracker{
		writer: writer,
		total:  total,
		now:    time.Now,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = p.now()
	p.started = true
	p.succeeded = 0
	p.failed = 0
	p.batches = 0
}

// Batch records the outcome of one batch and prints a progress line.
func (p *ProgressTracker) Batch(succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.batches++
	p.succeeded += succeeded
	p.failed += failed
	p.report()
}

// Counts returns the cumulative succeeded and failed counts.
func (p *ProgressTracker) Counts() (succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded, p.failed
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return p.now().Sub(p.startTime)
}

// Throughput returns processed items per second so far.
func (p *ProgressTracker) Throughput() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.throughput()
}

// ETA estimates the time left for the remaining items at the current rate.
// Returns zero before anything was processed.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eta()
}

func (p *ProgressTracker) throughput() float64 {
	elapsed := p.now().Sub(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.succeeded+p.failed) / elapsed
}

func (p *ProgressTracker) eta() time.Duration {
	rate := p.throughput()
	remaining := p.total - p.succeeded - p.failed
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	done := p.succeeded + p.failed
	percentage := 100.0
	if p.total > 0 {
		percentage = float64(done) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "batch %d: %d/%d (%.1f%%) succeeded=%d failed=%d elapsed=%s rate=%.1f items/s eta=%s\n",
		p.batches, done, p.total, percentage, p.succeeded, p.failed,
		p.now().Sub(p.startTime).Round(time.Millisecond), p.throughput(), p.eta().Round(time.Second))
}
