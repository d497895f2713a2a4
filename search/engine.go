package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// DefaultCandidatePool is how many candidates each modality contributes
// before fusion.
const DefaultCandidatePool = 30

// DefaultSearchTimeout bounds each modality, query expansion and result
// hydration.
const DefaultSearchTimeout = 10 * time.Second

// Store calls that fail transiently are retried within the stage's deadline.
const (
	defaultSearchAttempts   = 3
	defaultSearchRetryDelay = 50 * time.Millisecond
)

// maxHighlights caps the snippets attached to a result.
const maxHighlights = 2

// stageExpansion and stageDocuments key failures outside the three modalities.
const (
	stageExpansion = "expansion"
	stageDocuments = "documents"
)

// Query describes one search request.
type Query struct {
	Text string
	TopK int

	// PatientID keeps only items of one patient. Empty means every patient.
	PatientID string

	// DocumentType keeps only items of one type. Empty means every type.
	DocumentType core.ItemType

	// SimilarityThreshold drops vector candidates scoring below it.
	// Zero disables the threshold.
	SimilarityThreshold float32
}

// Result is one fused hit.
type Result struct {
	ItemID     string
	Score      float64
	Modalities map[Modality]ModalityScore

	// Item is nil when the document store has no record of the item.
	Item       *core.SourceItem
	Highlights []string
}

// Rank returns the item's rank in a modality, or 0 when absent.
func (r *Result) Rank(m Modality) int {
	return r.Modalities[m].Rank
}

// Response is the outcome of a query.
type Response struct {
	Results []*Result

	// Degraded is set when any stage failed. Results are still ranked from
	// the stages that succeeded.
	Degraded bool

	// Contributing lists the modalities whose rankings were fused.
	Contributing []Modality

	// Failures maps a failed stage to its error message.
	Failures map[string]string

	// ExpandedTerms holds terms added by the query expander.
	ExpandedTerms []string
}

// Engine runs multi-modal queries over the indexed stores.
type Engine struct {
	documents     storage.DocumentStore
	vectors       storage.VectorStore
	graph         storage.GraphStore
	embedder      ai.Embedder
	expander      ai.QueryExpander
	pool          *ants.Pool
	rrfK          int
	candidatePool int
	model         string
	timeout       time.Duration
	attempts      int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithRRFConstant sets k in 1/(k + rank).
// Default is 60.
func WithRRFConstant(k int) Option {
	return func(e *Engine) error {
		if k < 1 {
			return fmt.Errorf("%w: rrf constant must be positive, got %d", ErrInvalidOption, k)
		}
		e.rrfK = k
		return nil
	}
}

// WithCandidatePool sets how many candidates each modality returns.
// Queries with a larger TopK use TopK instead. Default is 30.
func WithCandidatePool(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("%w: candidate pool must be positive, got %d", ErrInvalidOption, n)
		}
		e.candidatePool = n
		return nil
	}
}

// WithSearchTimeout bounds every store and provider call a query makes.
// A modality that misses the deadline is reported as failed and the others
// are fused without it. Default is 10s.
func WithSearchTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("%w: search timeout must be positive, got %s", ErrInvalidOption, d)
		}
		e.timeout = d
		return nil
	}
}

// WithRetries sets how often a transiently failing call is attempted and
// the base delay of the exponential backoff between attempts.
// Default is 3 attempts starting at 50ms.
func WithRetries(attempts int, baseDelay time.Duration) Option {
	return func(e *Engine) error {
		if attempts < 1 || baseDelay < 0 {
			return fmt.Errorf("%w: retries need at least one attempt and a non-negative delay", ErrInvalidOption)
		}
		e.attempts = attempts
		e.retryDelay = baseDelay
		return nil
	}
}

// WithQueryExpander enables synonym expansion of keyword and graph tokens.
func WithQueryExpander(expander ai.QueryExpander) Option {
	return func(e *Engine) error {
		e.expander = expander
		return nil
	}
}

// WithEmbeddingModel restricts vector search to embeddings from one model.
// Default is the embedder's model name.
func WithEmbeddingModel(model string) Option {
	return func(e *Engine) error {
		e.model = model
		return nil
	}
}

// NewEngine creates a query engine. Call Release when done with it.
func NewEngine(
	documents storage.DocumentStore,
	vectors storage.VectorStore,
	graph storage.GraphStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Engine, error) {
	if documents == nil {
		return nil, ErrDocumentStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		documents:     documents,
		vectors:       vectors,
		graph:         graph,
		embedder:      embedder,
		rrfK:          DefaultRRFConstant,
		candidatePool: DefaultCandidatePool,
		model:         embedder.ModelName(),
		timeout:       DefaultSearchTimeout,
		attempts:      defaultSearchAttempts,
		retryDelay:    defaultSearchRetryDelay,
		logger:        slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "search")

	pool, err := ants.NewPool(len(Modalities) * 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create modality pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Release frees the engine's worker pool.
func (e *Engine) Release() {
	e.pool.Release()
}

// Query searches for items relevant to q.
func (e *Engine) Query(ctx context.Context, q *Query) (*Response, error) {
	return e.QueryWithMonitor(ctx, q, nil)
}

// QueryWithMonitor searches for items relevant to q, reporting each stage to monitor.
func (e *Engine) QueryWithMonitor(ctx context.Context, q *Query, monitor Monitor) (*Response, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(q)

	resp := &Response{Failures: make(map[string]string)}
	tokens := core.UniqueTokens(q.Text)

	if e.expander != nil {
		terms, err := e.expand(ctx, q.Text)
		if err != nil {
			e.logger.Warn("query expansion failed", "err", err)
			resp.Failures[stageExpansion] = err.Error()
		} else {
			resp.ExpandedTerms = terms
			tokens = mergeTokens(tokens, terms)
		}
	}
	monitor.AfterExpansion(resp.ExpandedTerms)

	n := max(e.candidatePool, q.TopK)
	rankings := e.rank(ctx, q, tokens, n, resp, monitor)

	fused := Fuse(e.rrfK, rankings...)
	monitor.AfterFusion(fused)

	results := e.filter(ctx, q, fused, resp)
	monitor.AfterFilter(results)

	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	for _, r := range results {
		if r.Item != nil {
			r.Highlights = highlights(r.Item.TextContent, tokens, maxHighlights)
		}
	}

	resp.Results = results
	resp.Degraded = len(resp.Failures) > 0
	if !resp.Degraded {
		resp.Failures = nil
	}
	monitor.Finish(resp)
	return resp, nil
}

func validateQuery(q *Query) error {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuery
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, q.TopK)
	}
	if q.SimilarityThreshold < -1 || q.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, q.SimilarityThreshold)
	}
	if q.DocumentType != "" {
		if err := core.ValidateItemType(q.DocumentType); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) expand(ctx context.Context, text string) ([]string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, e.timeout, ErrSearchTimeout)
	defer cancel()
	var terms []string
	err := e.retry(ctx, ai.IsTransient, func() error {
		var err error
		terms, err = e.expander.ExpandQuery(ctx, text)
		return err
	})
	return terms, err
}

// outcome is what one modality reports back to rank.
type outcome struct {
	index int
	items []Ranked
	err   error
}

// rank runs the three modalities concurrently under one deadline and
// returns the successful rankings in fusion order. A modality still running
// at the deadline is abandoned and reported as failed.
func (e *Engine) rank(ctx context.Context, q *Query, tokens []string, n int, resp *Response, monitor Monitor) []Ranking {
	ctx, cancel := context.WithTimeoutCause(ctx, e.timeout, ErrSearchTimeout)
	defer cancel()

	searches := map[Modality]func() ([]Ranked, error){
		ModalityVector:  func() ([]Ranked, error) { return e.vectorRanking(ctx, q, n) },
		ModalityKeyword: func() ([]Ranked, error) { return e.keywordRanking(ctx, tokens, n) },
		ModalityGraph:   func() ([]Ranked, error) { return e.graphRanking(ctx, tokens, n) },
	}

	// Buffered so abandoned searches never block.
	done := make(chan outcome, len(Modalities))
	for i, modality := range Modalities {
		search := searches[modality]
		task := func() {
			items, err := search()
			done <- outcome{index: i, items: items, err: err}
		}
		if err := e.pool.Submit(task); err != nil {
			// Pool released.
			go task()
		}
	}

	rankings := make([]Ranking, len(Modalities))
	errs := make([]error, len(Modalities))
	reported := make([]bool, len(Modalities))
collect:
	for range Modalities {
		select {
		case o := <-done:
			rankings[o.index].Items = o.items
			errs[o.index] = o.err
			reported[o.index] = true
		case <-ctx.Done():
			for i, modality := range Modalities {
				if !reported[i] {
					errs[i] = fmt.Errorf("%s search: %w", modality, context.Cause(ctx))
				}
			}
			break collect
		}
	}

	ok := make([]Ranking, 0, len(Modalities))
	for i, modality := range Modalities {
		rankings[i].Modality = modality
		monitor.AfterModality(modality, rankings[i], errs[i])
		if errs[i] != nil {
			e.logger.Warn("modality failed", "modality", modality, "err", errs[i])
			resp.Failures[string(modality)] = errs[i].Error()
			continue
		}
		resp.Contributing = append(resp.Contributing, modality)
		ok = append(ok, rankings[i])
	}
	return ok
}

// retry runs op until it succeeds, fails with an error retryable rejects,
// runs out of attempts or ctx ends. Delays double after every attempt.
func (e *Engine) retry(ctx context.Context, retryable func(error) bool, op func() error) error {
	delay := e.retryDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || attempt >= e.attempts || !retryable(err) || ctx.Err() != nil {
			return err
		}
		e.logger.Debug("retrying search call", "attempt", attempt, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

func (e *Engine) vectorRanking(ctx context.Context, q *Query, n int) ([]Ranked, error) {
	var embedding []float32
	err := e.retry(ctx, ai.IsTransient, func() error {
		var err error
		embedding, err = e.embedder.EmbedText(ctx, q.Text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	filter := &storage.VectorFilter{
		EmbeddingModel: e.model,
		MinScore:       q.SimilarityThreshold,
	}
	var matches []core.SimilarityMatch
	err = e.retry(ctx, storage.IsTransient, func() error {
		var err error
		matches, err = e.vectors.SearchSimilar(ctx, embedding, n, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	ranked := make([]Ranked, len(matches))
	for i, m := range matches {
		ranked[i] = Ranked{ItemID: m.ItemID, Raw: float64(m.Score)}
	}
	return ranked, nil
}

func (e *Engine) keywordRanking(ctx context.Context, tokens []string, n int) ([]Ranked, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var matches []core.KeywordMatch
	err := e.retry(ctx, storage.IsTransient, func() error {
		var err error
		matches, err = e.documents.SearchKeywords(ctx, tokens, n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	ranked := make([]Ranked, len(matches))
	for i, m := range matches {
		ranked[i] = Ranked{ItemID: m.ItemID, Raw: float64(m.Matched)}
	}
	return ranked, nil
}

// graphRanking scores each item by the number of distinct entities whose
// text matched a query token.
func (e *Engine) graphRanking(ctx context.Context, tokens []string, n int) ([]Ranked, error) {
	entitiesByItem := make(map[string]map[string]bool)
	for _, token := range tokens {
		var entities []*core.Entity
		err := e.retry(ctx, storage.IsTransient, func() error {
			var err error
			entities, err = e.graph.SearchEntitiesByText(ctx, token)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("graph search for %q: %w", token, err)
		}
		for _, entity := range entities {
			seen, ok := entitiesByItem[entity.SourceItemID]
			if !ok {
				seen = make(map[string]bool)
				entitiesByItem[entity.SourceItemID] = seen
			}
			seen[entity.EntityID] = true
		}
	}

	ranked := make([]Ranked, 0, len(entitiesByItem))
	for itemID, entities := range entitiesByItem {
		ranked = append(ranked, Ranked{ItemID: itemID, Raw: float64(len(entities))})
	}
	slices.SortFunc(ranked, func(a, b Ranked) int {
		if c := cmp.Compare(b.Raw, a.Raw); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// filter hydrates fused results and applies the patient and document type
// filters. Fused scores are left untouched.
func (e *Engine) filter(ctx context.Context, q *Query, fused []*Result, resp *Response) []*Result {
	if len(fused) == 0 {
		return fused
	}
	filtering := q.PatientID != "" || q.DocumentType != ""

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.ItemID
	}
	items, err := e.hydrate(ctx, ids)
	if err != nil {
		e.logger.Warn("failed to load result documents", "count", len(ids), "err", err)
		resp.Failures[stageDocuments] = err.Error()
		if filtering {
			// Unverifiable results cannot pass a filter.
			return []*Result{}
		}
		return fused
	}
	byID := make(map[string]*core.SourceItem, len(items))
	for _, item := range items {
		byID[item.ItemID] = item
	}

	kept := make([]*Result, 0, len(fused))
	for _, r := range fused {
		r.Item = byID[r.ItemID]
		if filtering && !matches(r.Item, q) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func (e *Engine) hydrate(ctx context.Context, ids []string) ([]*core.SourceItem, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, e.timeout, ErrSearchTimeout)
	defer cancel()
	var items []*core.SourceItem
	err := e.retry(ctx, storage.IsTransient, func() error {
		var err error
		items, err = e.documents.GetDocuments(ctx, ids...)
		return err
	})
	return items, err
}

func matches(item *core.SourceItem, q *Query) bool {
	if item == nil {
		return false
	}
	if q.PatientID != "" && item.PatientID != q.PatientID {
		return false
	}
	if q.DocumentType != "" && item.ItemType != q.DocumentType {
		return false
	}
	return true
}
