// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package medfuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/config"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/extract"
	"github.com/poiesic/medfuse/indexer"
	"github.com/poiesic/medfuse/ingestion"
	"github.com/poiesic/medfuse/search"
	"github.com/poiesic/medfuse/storage"
	"github.com/poiesic/medfuse/storage/badger"
	"github.com/poiesic/medfuse/storage/chroma"
	"github.com/poiesic/medfuse/storage/postgres"
	"github.com/poiesic/medfuse/storage/sqlite"
)

// System wires the stores, the AI provider, the indexer and the query
// engine described by a config.Config.
type System struct {
	config      *config.Config
	backend     *badger.Backend
	documents   storage.DocumentStore
	vectors     storage.VectorStore
	graph       storage.GraphStore
	watermarks  storage.WatermarkStore
	checkpoints storage.CheckpointStore
	provider    ai.Provider
	embedder    ai.Embedder
	extractor   *extract.Extractor
	errorLog    *indexer.ErrorLog
	indexer     *indexer.Indexer
	engine      *search.Engine
	logger      *slog.Logger

	closers []func() error
	mu      sync.Mutex
	closed  bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	provider ai.Provider
	progress io.Writer
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProvider uses provider instead of building one from the config.
// The System closes it on Close.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithProgress sets where indexing progress lines are written.
// Default is io.Discard.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.progress = w
		}
	}
}

// Open validates cfg and opens every component it names. A nil cfg means
// config.Default(). Close releases everything Open acquired.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: slog.Default(), progress: io.Discard}
	for _, opt := range opts {
		opt(o)
	}

	s := &System{config: cfg, logger: o.logger}
	if err := s.open(ctx, o); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) open(ctx context.Context, o *options) error {
	cfg := s.config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	provider := o.provider
	if provider == nil {
		var err error
		if provider, err = NewProvider(cfg.AIConfig()); err != nil {
			return fmt.Errorf("creating ai provider: %w", err)
		}
	}
	s.provider = provider
	s.closers = append(s.closers, provider.Close)

	aiCfg := cfg.AIConfig()
	aiCfg.Normalize()
	s.embedder = ai.NewLimitedEmbedder(provider.Embedder(), aiCfg.RequestsPerMinute, aiCfg.Timeout)

	backend, err := badger.OpenBackend(cfg.BadgerPath(), false)
	if err != nil {
		return fmt.Errorf("opening badger: %w", err)
	}
	s.backend = backend
	s.closers = append(s.closers, backend.Close)
	s.documents = badger.NewDocumentStore(backend)
	s.watermarks = badger.NewWatermarkStore(backend)

	if err := s.openVectorsAndGraph(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CheckpointPath()), 0755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}
	checkpoints, err := sqlite.NewStore(cfg.CheckpointPath(), sqlite.WithMaxRetries(cfg.Indexer.MaxRetries))
	if err != nil {
		return fmt.Errorf("opening checkpoints: %w", err)
	}
	s.checkpoints = checkpoints
	s.closers = append(s.closers, checkpoints.Close)

	extractor, err := newExtractor(cfg, s.logger)
	if err != nil {
		return err
	}
	s.extractor = extractor

	errorLog, err := indexer.OpenErrorLog(cfg.ErrorLogPath())
	if err != nil {
		return fmt.Errorf("opening error log: %w", err)
	}
	s.errorLog = errorLog
	s.closers = append(s.closers, errorLog.Close)

	ix, err := indexer.New(indexer.Stores{
		Checkpoints: s.checkpoints,
		Documents:   s.documents,
		Vectors:     s.vectors,
		Graph:       s.graph,
		Watermarks:  s.watermarks,
	}, s.embedder,
		indexer.WithConfig(cfg.IndexerConfig()),
		indexer.WithExtractor(extractor),
		indexer.WithErrorLog(errorLog),
		indexer.WithProgress(o.progress),
		indexer.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	s.indexer = ix
	s.closers = append(s.closers, func() error { ix.Release(); return nil })

	engineOpts := []search.Option{
		search.WithLogger(s.logger),
		search.WithRRFConstant(cfg.Search.RRFConstant),
		search.WithCandidatePool(cfg.Search.CandidatePool),
		search.WithSearchTimeout(cfg.Search.Timeout.Duration),
	}
	if cfg.Search.ExpandQueries {
		if expander := provider.QueryExpander(); expander != nil {
			engineOpts = append(engineOpts, search.WithQueryExpander(expander))
		} else {
			s.logger.Warn("query expansion enabled but no chat model is configured")
		}
	}
	engine, err := search.NewEngine(s.documents, s.vectors, s.graph, s.embedder, engineOpts...)
	if err != nil {
		return err
	}
	s.engine = engine
	s.closers = append(s.closers, func() error { engine.Release(); return nil })
	return nil
}

func (s *System) openVectorsAndGraph(ctx context.Context) error {
	cfg := s.config
	dim := cfg.Embedding.Dimension
	metric := cfg.Metric()

	var pg *postgres.Store
	openPostgres := func() (*postgres.Store, error) {
		if pg != nil {
			return pg, nil
		}
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, dim, metric)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		pg = store
		s.closers = append(s.closers, store.Close)
		return store, nil
	}

	switch cfg.Storage.VectorBackend {
	case config.BackendBadger:
		vectors, err := badger.NewVectorStore(s.backend, dim, badger.WithMetric(metric))
		if err != nil {
			return err
		}
		s.vectors = vectors
	case config.BackendChroma:
		store, err := chroma.Open(ctx, cfg.Storage.ChromaURL, cfg.Storage.ChromaCollection, dim, metric)
		if err != nil {
			return fmt.Errorf("opening chroma: %w", err)
		}
		s.vectors = store
		s.closers = append(s.closers, store.Close)
	case config.BackendPostgres:
		store, err := openPostgres()
		if err != nil {
			return err
		}
		s.vectors = store
	default:
		return fmt.Errorf("%w: vector backend %q", ErrUnknownBackend, cfg.Storage.VectorBackend)
	}

	switch cfg.Storage.GraphBackend {
	case config.BackendBadger:
		s.graph = badger.NewGraphStore(s.backend)
	case config.BackendPostgres:
		store, err := openPostgres()
		if err != nil {
			return err
		}
		graph, err := postgres.NewGraphStore(ctx, store.DB())
		if err != nil {
			return fmt.Errorf("opening postgres graph: %w", err)
		}
		s.graph = graph
	default:
		return fmt.Errorf("%w: graph backend %q", ErrUnknownBackend, cfg.Storage.GraphBackend)
	}
	return nil
}

func newExtractor(cfg *config.Config, logger *slog.Logger) (*extract.Extractor, error) {
	lexicon := extract.DefaultLexicon()
	if cfg.Extract.Lexicon != "" {
		extra, err := extract.LoadLexicon(cfg.Extract.Lexicon)
		if err != nil {
			return nil, fmt.Errorf("loading lexicon %s: %w", cfg.Extract.Lexicon, err)
		}
		lexicon.Merge(extra)
	}
	return extract.New(
		extract.WithLexicon(lexicon),
		extract.WithMaxRelationships(cfg.Extract.MaxRelationships),
		extract.WithLogger(logger),
	), nil
}

// Config returns the configuration the System was opened with.
func (s *System) Config() *config.Config {
	return s.config
}

// Embedder returns the rate-limited embedder shared by indexing and search.
func (s *System) Embedder() ai.Embedder {
	return s.embedder
}

// Index runs a batch indexing pass over src.
func (s *System) Index(ctx context.Context, src indexer.Source, resume bool) (*indexer.Summary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.indexer.Run(ctx, src, indexer.RunOptions{Resume: resume})
}

// Sync indexes the items of src modified since the last sync.
func (s *System) Sync(ctx context.Context, src indexer.Source) (*indexer.Summary, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.indexer.Sync(ctx, src)
}

// NewPipeline creates an ingestion pipeline that syncs src through the
// System's indexer.
func (s *System) NewPipeline(src indexer.Source, opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return ingestion.NewPipeline(s.indexer, src, append([]ingestion.Option{ingestion.WithLogger(s.logger)}, opts...)...)
}

// Query runs a fused search. A zero TopK or SimilarityThreshold takes the
// configured default.
func (s *System) Query(ctx context.Context, q *search.Query) (*search.Response, error) {
	return s.QueryWithMonitor(ctx, q, nil)
}

// QueryWithMonitor is Query with stage callbacks.
func (s *System) QueryWithMonitor(ctx context.Context, q *search.Query, monitor search.Monitor) (*search.Response, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if q != nil {
		withDefaults := *q
		if withDefaults.TopK == 0 {
			withDefaults.TopK = s.config.Search.TopK
		}
		if withDefaults.SimilarityThreshold == 0 {
			withDefaults.SimilarityThreshold = s.config.Search.SimilarityThreshold
		}
		q = &withDefaults
	}
	return s.engine.QueryWithMonitor(ctx, q, monitor)
}

// Status summarizes indexing state.
type Status struct {
	Checkpoints    map[core.CheckpointStatus]int
	Pending        int
	Watermark      time.Time
	LatestModified time.Time
	EmbeddingModel string
	VectorBackend  string
	GraphBackend   string
}

// Status reports checkpoint counts and sync progress.
func (s *System) Status(ctx context.Context) (*Status, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	counts, err := s.checkpoints.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting checkpoints: %w", err)
	}
	pending, err := s.checkpoints.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting pending: %w", err)
	}
	latest, err := s.documents.LatestModified(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	st := &Status{
		Checkpoints:    counts,
		Pending:        pending,
		LatestModified: latest,
		EmbeddingModel: s.embedder.ModelName(),
		VectorBackend:  s.config.Storage.VectorBackend,
		GraphBackend:   s.config.Storage.GraphBackend,
	}
	wm, err := s.watermarks.LoadWatermark(ctx, s.config.IndexerConfig().WatermarkName)
	if err != nil {
		return nil, fmt.Errorf("loading watermark: %w", err)
	}
	if wm != nil {
		st.Watermark = wm.LastModified
	}
	return st, nil
}

// Reset returns checkpoints to pending. With no ids every checkpoint is
// reset and the sync watermark is cleared, so the next sync sees every item.
func (s *System) Reset(ctx context.Context, itemIDs ...string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.checkpoints.Reset(ctx, itemIDs...); err != nil {
		return fmt.Errorf("resetting checkpoints: %w", err)
	}
	if len(itemIDs) > 0 {
		return nil
	}
	err := s.watermarks.SaveWatermark(ctx, &core.Watermark{Name: s.config.IndexerConfig().WatermarkName})
	if err != nil {
		return fmt.Errorf("clearing watermark: %w", err)
	}
	return nil
}

// Close releases every component in reverse order of opening.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("error closing component", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *System) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
