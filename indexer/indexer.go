package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/extract"
	"github.com/poiesic/medfuse/storage"
)

// countPageSize is the page size used when counting pending items.
const countPageSize = 1000

// Source yields the items to index.
type Source interface {
	Load(ctx context.Context) ([]*core.SourceItem, error)
}

// Stores bundles the stores an Indexer writes to.
type Stores struct {
	Checkpoints storage.CheckpointStore
	Documents   storage.DocumentStore
	Vectors     storage.VectorStore
	Graph       storage.GraphStore

	// Watermarks is required by Sync only.
	Watermarks storage.WatermarkStore
}

// RunOptions controls a full indexing run.
type RunOptions struct {
	// Resume keeps existing checkpoints, so only pending and retryable
	// failed items are processed. Without it every loaded item is reset to
	// pending and indexed again.
	Resume bool
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Total     int // Items loaded for the run
	Succeeded int
	Failed    int
	// Skipped counts loaded items the run did not process: already completed,
	// out of retries, or left pending by an interruption.
	Skipped     int
	Elapsed     time.Duration
	Throughput  float64 // Processed items per second
	Interrupted bool
}

func (s *Summary) String() string {
	out := fmt.Sprintf("run %s: total=%d succeeded=%d failed=%d skipped=%d elapsed=%s throughput=%.1f items/s",
		s.RunID, s.Total, s.Succeeded, s.Failed, s.Skipped, s.Elapsed.Round(time.Millisecond), s.Throughput)
	if s.Interrupted {
		out += " (interrupted)"
	}
	return out
}

// Indexer turns source items into vectors, documents and graph entries,
// checkpointing every item so an interrupted run can be resumed.
// Only one run may be active per checkpoint store.
type Indexer struct {
	stores    Stores
	embedder  ai.Embedder
	extractor *extract.Extractor
	config    *Config
	pool      *ants.Pool
	progress  io.Writer
	errorLog  *ErrorLog
	logger    *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer) error

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(ix *Indexer) error {
		if config == nil {
			return nil
		}
		if err := config.Validate(); err != nil {
			return err
		}
		ix.config = config
		return nil
	}
}

// WithExtractor sets the entity extractor.
// Default is extract.New().
func WithExtractor(extractor *extract.Extractor) Option {
	return func(ix *Indexer) error {
		if extractor != nil {
			ix.extractor = extractor
		}
		return nil
	}
}

// WithProgress sets where per-batch progress lines are written.
// Default discards them.
func WithProgress(w io.Writer) Option {
	return func(ix *Indexer) error {
		if w != nil {
			ix.progress = w
		}
		return nil
	}
}

// WithErrorLog sets the failure log.
// Without one, failures are only recorded in the checkpoint store.
func WithErrorLog(log *ErrorLog) Option {
	return func(ix *Indexer) error {
		ix.errorLog = log
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger
		return nil
	}
}

// New creates an Indexer. Checkpoints, Documents, Vectors and Graph are required.
func New(stores Stores, embedder ai.Embedder, opts ...Option) (*Indexer, error) {
	switch {
	case stores.Checkpoints == nil:
		return nil, ErrCheckpointStoreRequired
	case stores.Documents == nil:
		return nil, ErrDocumentStoreRequired
	case stores.Vectors == nil:
		return nil, ErrVectorStoreRequired
	case stores.Graph == nil:
		return nil, ErrGraphStoreRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}

	ix := &Indexer{
		stores:   stores,
		embedder: embedder,
		config:   DefaultConfig(),
		progress: io.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	if ix.extractor == nil {
		ix.extractor = extract.New(extract.WithLogger(ix.logger))
	}
	ix.logger = ix.logger.With("component", "indexer")

	pool, err := ants.NewPool(ix.config.Workers)
	if err != nil {
		return nil, err
	}
	ix.pool = pool
	return ix, nil
}

// Release releases the extraction pool. The Indexer must not be used afterwards.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}

// Run indexes every pending item of src.
// Cancelling ctx stops the run at the next batch boundary; the batch in
// flight finishes its writes and checkpoints first. Item failures are
// counted, not returned: an error means the run could not start or a
// store became unusable.
func (ix *Indexer) Run(ctx context.Context, src Source, opts RunOptions) (*Summary, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	items, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	state, err := ix.index(ctx, items, !opts.Resume)
	if state == nil {
		return nil, err
	}
	return state.summary, err
}

// Sync indexes only the items modified after the stored watermark, then
// advances the watermark past every item that is settled: completed, or
// rejected as invalid. Transiently failed items hold the watermark back so
// the next Sync sees them again.
func (ix *Indexer) Sync(ctx context.Context, src Source) (*Summary, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if ix.stores.Watermarks == nil {
		return nil, ErrWatermarkStoreRequired
	}
	since, err := ix.watermark(ctx)
	if err != nil {
		return nil, err
	}
	items, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}

	var changed []*core.SourceItem
	for _, item := range items {
		if item != nil && (since.IsZero() || item.LastModified.After(since)) {
			changed = append(changed, item)
		}
	}
	ix.logger.Info("incremental sync", "since", since, "changed", len(changed), "loaded", len(items))

	// Changed content must be indexed again even if an older version completed.
	state, err := ix.index(ctx, changed, true)
	if state == nil {
		return nil, err
	}
	if err != nil {
		return state.summary, err
	}
	if err := ix.advanceWatermark(context.WithoutCancel(ctx), since, changed, state.settled); err != nil {
		return state.summary, err
	}
	return state.summary, nil
}

// runState is the bookkeeping of one run.
type runState struct {
	summary *Summary
	items   map[string]*core.SourceItem
	logger  *slog.Logger
	mu      sync.Mutex
	settled map[string]bool // Completed or rejected this run
}

func (r *runState) settle(itemID string) {
	r.mu.Lock()
	r.settled[itemID] = true
	r.mu.Unlock()
}

func (ix *Indexer) index(ctx context.Context, items []*core.SourceItem, reset bool) (*runState, error) {
	cp := ix.stores.Checkpoints
	runID := uuid.NewString()
	state := &runState{
		summary: &Summary{RunID: runID},
		items:   make(map[string]*core.SourceItem, len(items)),
		logger:  ix.logger.With("run_id", runID),
		settled: make(map[string]bool),
	}
	start := time.Now()

	var ids []string
	for _, item := range items {
		if item == nil || strings.TrimSpace(item.ItemID) == "" {
			// Without an id the item cannot be checkpointed.
			state.summary.Total++
			state.summary.Failed++
			if err := ix.errorLog.Record("", fmt.Errorf("%w: %w", core.ErrInvalidSourceItem, core.ErrEmptyItemID)); err != nil {
				state.logger.Warn("error log write failed", "err", err)
			}
			continue
		}
		if _, dup := state.items[item.ItemID]; dup {
			state.logger.Warn("duplicate item id, keeping first", "item_id", item.ItemID)
			continue
		}
		state.items[item.ItemID] = item
		ids = append(ids, item.ItemID)
	}
	state.summary.Total += len(ids)

	if len(ids) > 0 {
		added, err := cp.Register(ctx, ids...)
		if err != nil {
			return nil, fmt.Errorf("registering items: %w", err)
		}
		if reset {
			if err := cp.Reset(ctx, ids...); err != nil {
				return nil, fmt.Errorf("resetting items: %w", err)
			}
		}
		state.logger.Debug("registered items", "new", added, "reset", reset)
	}

	recovered, err := cp.RecoverStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovering stale checkpoints: %w", err)
	}
	if recovered > 0 {
		state.logger.Warn("recovered items left processing by an earlier run", "count", recovered)
	}

	pending, err := ix.countPending(ctx, state.items)
	if err != nil {
		return nil, err
	}
	state.logger.Info("starting run", "items", len(ids), "pending", pending, "batch_size", ix.config.BatchSize)

	tracker := NewProgressTracker(ix.progress, pending)
	tracker.Start()

	runErr := ix.loop(ctx, state, tracker)

	s := state.summary
	unidentified := s.Failed
	s.Succeeded, s.Failed = tracker.Counts()
	s.Failed += unidentified
	s.Skipped = max(0, s.Total-s.Succeeded-s.Failed)
	s.Elapsed = time.Since(start)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Throughput = float64(s.Succeeded+s.Failed) / secs
	}
	state.logger.Info("run finished",
		"succeeded", s.Succeeded, "failed", s.Failed, "skipped", s.Skipped,
		"elapsed", s.Elapsed, "interrupted", s.Interrupted)
	return state, runErr
}

func (ix *Indexer) loop(ctx context.Context, state *runState, tracker *ProgressTracker) error {
	cursor := ""
	for {
		if ctx.Err() != nil {
			state.summary.Interrupted = true
			return nil
		}

		page, err := ix.stores.Checkpoints.PendingItems(ctx, cursor, ix.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				state.summary.Interrupted = true
				return nil
			}
			return fmt.Errorf("listing pending items: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		cursor = page[len(page)-1]

		batch := make([]*core.SourceItem, 0, len(page))
		for _, id := range page {
			if item, ok := state.items[id]; ok {
				batch = append(batch, item)
			}
		}
		if len(batch) == 0 {
			continue
		}

		// A started batch always finishes its writes and checkpoints.
		succeeded, failed, err := ix.processBatch(context.WithoutCancel(ctx), state, batch)
		tracker.Batch(succeeded, failed)
		if err != nil {
			return err
		}
	}
}

func (ix *Indexer) countPending(ctx context.Context, items map[string]*core.SourceItem) (int, error) {
	count, cursor := 0, ""
	for {
		page, err := ix.stores.Checkpoints.PendingItems(ctx, cursor, countPageSize)
		if err != nil {
			return 0, fmt.Errorf("counting pending items: %w", err)
		}
		for _, id := range page {
			if _, ok := items[id]; ok {
				count++
			}
		}
		if len(page) < countPageSize {
			return count, nil
		}
		cursor = page[len(page)-1]
	}
}

// prepared is an item that passed validation and embedding.
type prepared struct {
	item     *core.SourceItem
	vector   []float32
	entities []*core.Entity
}

// processBatch runs one batch through the pipeline. The returned error is
// reserved for checkpoint store failures.
func (ix *Indexer) processBatch(ctx context.Context, state *runState, batch []*core.SourceItem) (succeeded, failed int, err error) {
	cp := ix.stores.Checkpoints
	logger := state.logger

	var texts, images []*core.SourceItem
	for _, item := range batch {
		if err := cp.MarkProcessing(ctx, item.ItemID); err != nil {
			if errors.Is(err, storage.ErrAlreadyCompleted) || errors.Is(err, storage.ErrAlreadyProcessing) {
				logger.Debug("item not claimable", "item_id", item.ItemID, "err", err)
				continue
			}
			return succeeded, failed, fmt.Errorf("claiming %s: %w", item.ItemID, err)
		}
		if err := core.ValidateSourceItem(item); err != nil {
			if err := ix.reject(ctx, state, item.ItemID, err); err != nil {
				return succeeded, failed, err
			}
			failed++
			continue
		}
		if item.ItemType.HasText() {
			texts = append(texts, item)
		} else {
			images = append(images, item)
		}
	}

	var ready []*prepared
	outcomes := make(map[string]error)
	rejected := make(map[string]bool)

	textVectors, textErrs := ix.embedTexts(ctx, texts)
	for i, item := range texts {
		if textErrs[i] != nil {
			outcomes[item.ItemID] = textErrs[i]
			continue
		}
		ready = append(ready, &prepared{item: item, vector: textVectors[i]})
	}
	for _, item := range images {
		var vec []float32
		err := RetryIf(ctx, func() error {
			var err error
			vec, err = ix.embedder.EmbedImage(ctx, item.BinaryRef)
			return err
		}, ai.IsTransient, ix.config.MaxRetries, ix.config.RetryDelay)
		if err != nil {
			outcomes[item.ItemID] = err
			rejected[item.ItemID] = errors.Is(err, ai.ErrImagesUnsupported)
			continue
		}
		ready = append(ready, &prepared{item: item, vector: vec})
	}

	ix.extractAll(ready)
	if ix.config.EmbedEntities {
		ix.embedEntities(ctx, logger, ready)
	}

	for _, p := range ready {
		id := p.item.ItemID
		if err := ix.write(ctx, p); err != nil {
			outcomes[id] = err
			rejected[id] = errors.Is(err, storage.ErrDimensionMismatch)
			continue
		}
		// The checkpoint is the last write for an item.
		if err := cp.MarkCompleted(ctx, id); err != nil {
			logger.Error("item written but not checkpointed, it will be reprocessed", "item_id", id, "err", err)
			if logErr := ix.errorLog.Record(id, fmt.Errorf("checkpoint: %w", err)); logErr != nil {
				logger.Warn("error log write failed", "err", logErr)
			}
			failed++
			continue
		}
		state.settle(id)
		succeeded++
	}

	// Record failures in batch order for a stable error log.
	for _, item := range batch {
		cause, ok := outcomes[item.ItemID]
		if !ok {
			continue
		}
		if rejected[item.ItemID] {
			err = ix.reject(ctx, state, item.ItemID, cause)
		} else {
			err = ix.fail(ctx, state, item.ItemID, cause)
		}
		if err != nil {
			return succeeded, failed, err
		}
		failed++
	}
	return succeeded, failed, nil
}

// embedTexts embeds the batch's text items in one provider call and returns
// per-item vectors and errors.
func (ix *Indexer) embedTexts(ctx context.Context, items []*core.SourceItem) ([][]float32, []error) {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return nil, errs
	}

	inputs := make([]string, len(items))
	for i, item := range items {
		inputs[i] = Preprocess(item.TextContent, ix.config.MaxInputChars)
	}

	var vectors [][]float32
	err := RetryIf(ctx, func() error {
		var err error
		vectors, err = ix.embedder.EmbedTexts(ctx, inputs)
		return err
	}, ai.IsTransient, ix.config.MaxRetries, ix.config.RetryDelay)

	var batchErr *ai.BatchError
	switch {
	case errors.As(err, &batchErr) && len(vectors) == len(items):
		for i := range items {
			if cause, bad := batchErr.Failed[i]; bad {
				errs[i] = cause
			}
		}
	case err != nil:
		for i := range items {
			errs[i] = fmt.Errorf("embedding batch: %w", err)
		}
		return nil, errs
	case len(vectors) != len(items):
		for i := range items {
			errs[i] = fmt.Errorf("%w: got %d for %d inputs", ai.ErrCountMismatch, len(vectors), len(items))
		}
		return nil, errs
	}

	for i := range items {
		if errs[i] == nil && len(vectors[i]) == 0 {
			errs[i] = ai.ErrEmptyResponse
		}
	}
	return vectors, errs
}

// extractAll extracts entities of text items on the worker pool.
func (ix *Indexer) extractAll(ready []*prepared) {
	var wg sync.WaitGroup
	for _, p := range ready {
		if !p.item.ItemType.HasText() {
			continue
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			p.entities = ix.extractor.ExtractItem(p.item.ItemID, p.item.TextContent)
		}
		if err := ix.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// embedEntities attaches embeddings to the batch's entities. Failures leave
// entities without embeddings.
func (ix *Indexer) embedEntities(ctx context.Context, logger *slog.Logger, ready []*prepared) {
	var texts []string
	var targets []*core.Entity
	for _, p := range ready {
		for _, e := range p.entities {
			texts = append(texts, e.Text)
			targets = append(targets, e)
		}
	}
	if len(texts) == 0 {
		return
	}

	var vectors [][]float32
	err := RetryIf(ctx, func() error {
		var err error
		vectors, err = ix.embedder.EmbedTexts(ctx, texts)
		return err
	}, ai.IsTransient, ix.config.MaxRetries, ix.config.RetryDelay)
	if err != nil || len(vectors) != len(targets) {
		logger.Warn("entity embedding failed, storing entities without vectors", "entities", len(targets), "err", err)
		return
	}
	for i, e := range targets {
		e.Embedding = vectors[i]
		if ix.config.NormalizeVectors {
			e.Embedding = NormalizeVector(e.Embedding)
		}
	}
}

// write stores everything derived from one item. Entities of earlier runs
// are deleted first so re-processing never duplicates them.
func (ix *Indexer) write(ctx context.Context, p *prepared) error {
	item := p.item
	vector := p.vector
	if ix.config.NormalizeVectors {
		vector = NormalizeVector(vector)
	}

	content := item.TextContent
	if content == "" {
		content = item.BinaryRef
	}
	record := &core.VectorRecord{
		ItemID:         item.ItemID,
		Embedding:      vector,
		EmbeddingModel: ix.embedder.ModelName(),
		CreatedAt:      time.Now().UTC(),
		Metadata: map[string]string{
			core.MetadataPatientID:   item.PatientID,
			core.MetadataItemType:    string(item.ItemType),
			core.MetadataContentHash: core.ContentHash(content),
		},
	}

	vectors, documents, graph := ix.stores.Vectors, ix.stores.Documents, ix.stores.Graph
	if err := ix.storeCall(ctx, func(ctx context.Context) error {
		return vectors.InsertVector(ctx, record)
	}); err != nil {
		return fmt.Errorf("inserting vector: %w", err)
	}
	if err := ix.storeCall(ctx, func(ctx context.Context) error {
		return documents.PutDocuments(ctx, item)
	}); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	if err := ix.storeCall(ctx, func(ctx context.Context) error {
		return graph.DeleteBySourceItem(ctx, item.ItemID)
	}); err != nil {
		return fmt.Errorf("clearing entities: %w", err)
	}
	if len(p.entities) == 0 {
		return nil
	}
	if err := ix.storeCall(ctx, func(ctx context.Context) error {
		return graph.InsertEntities(ctx, p.entities...)
	}); err != nil {
		return fmt.Errorf("inserting entities: %w", err)
	}
	rels := ix.extractor.Relationships(item.ItemID, p.entities)
	if len(rels) == 0 {
		return nil
	}
	if err := ix.storeCall(ctx, func(ctx context.Context) error {
		return graph.InsertRelationships(ctx, rels...)
	}); err != nil {
		return fmt.Errorf("inserting relationships: %w", err)
	}
	return nil
}

// storeCall runs one store write under StoreTimeout, retrying transient
// failures with backoff. Every write is an upsert or a delete, so a retry
// after a lost response is safe.
func (ix *Indexer) storeCall(ctx context.Context, call func(context.Context) error) error {
	return RetryIf(ctx, func() error {
		if ix.config.StoreTimeout <= 0 {
			return call(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, ix.config.StoreTimeout)
		defer cancel()
		return call(callCtx)
	}, storage.IsTransient, ix.config.MaxRetries, ix.config.RetryDelay)
}

// fail records a retryable failure.
func (ix *Indexer) fail(ctx context.Context, state *runState, itemID string, cause error) error {
	state.logger.Warn("item failed", "item_id", itemID, "err", cause)
	if err := ix.errorLog.Record(itemID, cause); err != nil {
		state.logger.Warn("error log write failed", "err", err)
	}
	if err := ix.stores.Checkpoints.MarkFailed(ctx, itemID, cause.Error()); err != nil {
		return fmt.Errorf("marking %s failed: %w", itemID, err)
	}
	return nil
}

// reject records a failure that retrying cannot fix.
func (ix *Indexer) reject(ctx context.Context, state *runState, itemID string, cause error) error {
	state.logger.Warn("item rejected", "item_id", itemID, "err", cause)
	if err := ix.errorLog.Record(itemID, cause); err != nil {
		state.logger.Warn("error log write failed", "err", err)
	}
	if err := ix.stores.Checkpoints.MarkRejected(ctx, itemID, cause.Error()); err != nil {
		return fmt.Errorf("marking %s rejected: %w", itemID, err)
	}
	state.settle(itemID)
	return nil
}

func (ix *Indexer) watermark(ctx context.Context) (time.Time, error) {
	wm, err := ix.stores.Watermarks.LoadWatermark(ctx, ix.config.WatermarkName)
	if err != nil || wm == nil {
		return time.Time{}, err
	}
	return wm.LastModified, nil
}

// advanceWatermark moves the watermark to the newest LastModified such that
// every changed item at or before it is settled.
func (ix *Indexer) advanceWatermark(ctx context.Context, since time.Time, changed []*core.SourceItem, settled map[string]bool) error {
	sorted := slices.Clone(changed)
	slices.SortFunc(sorted, func(a, b *core.SourceItem) int {
		return a.LastModified.Compare(b.LastModified)
	})

	mark := since
	for i := 0; i < len(sorted); {
		j := i
		complete := true
		for ; j < len(sorted) && sorted[j].LastModified.Equal(sorted[i].LastModified); j++ {
			id := sorted[j].ItemID
			if strings.TrimSpace(id) != "" && !settled[id] {
				complete = false
			}
		}
		if !complete {
			break
		}
		mark = latest(mark, sorted[i].LastModified)
		i = j
	}

	if !mark.After(since) {
		return nil
	}
	ix.logger.Info("advancing watermark", "name", ix.config.WatermarkName, "from", since, "to", mark)
	return ix.stores.Watermarks.SaveWatermark(ctx, &core.Watermark{
		Name:         ix.config.WatermarkName,
		LastModified: mark,
	})
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
