package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medfuse/indexer"
)

// Syncer runs one incremental sync over a source. *indexer.Indexer
// satisfies it.
type Syncer interface {
	Sync(ctx context.Context, src indexer.Source) (*indexer.Summary, error)
}

var _ Syncer = (*indexer.Indexer)(nil)

// CompletionFunc is called after every sync run.
type CompletionFunc func(summary *indexer.Summary, err error)

// Pipeline serializes sync runs for a single source. At most one run is in
// progress and at most one more is pending; further triggers while a run is
// pending are absorbed by it.
type Pipeline struct {
	syncer     Syncer
	source     indexer.Source
	pool       *ants.Pool
	onComplete CompletionFunc
	logger     *slog.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	running bool
	pending bool
	closed  bool
	runs    int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithOnComplete registers a callback invoked after each run.
func WithOnComplete(fn CompletionFunc) Option {
	return func(p *Pipeline) error {
		p.onComplete = fn
		return nil
	}
}

// NewPipeline creates a pipeline that syncs src with syncer.
func NewPipeline(syncer Syncer, src indexer.Source, opts ...Option) (*Pipeline, error) {
	if syncer == nil {
		return nil, ErrSyncerRequired
	}
	if src == nil {
		return nil, ErrSourceRequired
	}

	// One worker. Submit is only called while no run is active; a run
	// picks up pending work itself before returning the worker.
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		syncer: syncer,
		source: src,
		pool:   pool,
		logger: slog.Default(),
	}
	p.idle = sync.NewCond(&p.mu)

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Trigger requests a sync. It returns immediately. The return value reports
// whether the request started or queued a run rather than being absorbed by
// one already pending.
func (p *Pipeline) Trigger(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrPipelineClosed
	}
	if p.running {
		if p.pending {
			return false, nil
		}
		p.pending = true
		return true, nil
	}

	p.running = true
	if err := p.pool.Submit(func() { p.loop(ctx) }); err != nil {
		p.running = false
		p.idle.Broadcast()
		if errors.Is(err, ants.ErrPoolClosed) {
			return false, ErrPipelineClosed
		}
		return false, err
	}
	return true, nil
}

// SyncNow runs a sync synchronously, waiting for any run in progress to
// finish first.
func (p *Pipeline) SyncNow(ctx context.Context) (*indexer.Summary, error) {
	p.mu.Lock()
	for p.running {
		p.idle.Wait()
	}
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	p.running = true
	p.mu.Unlock()

	summary, err := p.runOnce(ctx)

	p.mu.Lock()
	p.running = false
	pending := p.pending
	p.pending = false
	p.idle.Broadcast()
	p.mu.Unlock()

	if pending {
		if _, terr := p.Trigger(ctx); terr != nil {
			p.logger.Warn("failed to start pending sync", "error", terr)
		}
	}
	return summary, err
}

// Wait blocks until no run is active or pending.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	for p.running {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Runs returns the number of completed sync runs.
func (p *Pipeline) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

// Release stops accepting triggers, waits for in-flight work and frees the
// worker pool.
func (p *Pipeline) Release() {
	p.mu.Lock()
	p.closed = true
	p.pending = false
	for p.running {
		p.idle.Wait()
	}
	p.mu.Unlock()

	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	for {
		p.runOnce(ctx)

		p.mu.Lock()
		if !p.pending || p.closed || ctx.Err() != nil {
			p.pending = false
			p.running = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		p.pending = false
		p.mu.Unlock()
	}
}

func (p *Pipeline) runOnce(ctx context.Context) (*indexer.Summary, error) {
	summary, err := p.syncer.Sync(ctx, p.source)

	p.mu.Lock()
	p.runs++
	p.mu.Unlock()

	switch {
	case err != nil:
		p.logger.Error("sync failed", "error", err)
	case summary != nil:
		p.logger.Info("sync completed",
			"run_id", summary.RunID,
			"total", summary.Total,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed)
	}
	if p.onComplete != nil {
		p.onComplete(summary, err)
	}
	return summary, err
}
