package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/medfuse/ai/mock"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/extract"
	"github.com/poiesic/medfuse/storage"
	"github.com/poiesic/medfuse/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 16

type fixture struct {
	stores   *badger.MemoryStores
	embedder *mock.MockEmbedder
}

func newFixture(t *testing.T, items ...*core.SourceItem) *fixture {
	t.Helper()
	stores, err := badger.NewMemoryStores(testDim)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	f := &fixture{stores: stores, embedder: mock.NewMockEmbedderWithDimension(testDim)}
	f.add(t, items...)
	return f
}

// add writes items to every store the way the indexer does.
func (f *fixture) add(t *testing.T, items ...*core.SourceItem) {
	t.Helper()
	ctx := context.Background()
	extractor := extract.New()

	require.NoError(t, f.stores.Documents.PutDocuments(ctx, items...))
	for _, item := range items {
		require.NoError(t, f.stores.Vectors.InsertVector(ctx, &core.VectorRecord{
			ItemID:         item.ItemID,
			Embedding:      mock.BagOfWords(item.TextContent, testDim),
			EmbeddingModel: f.embedder.ModelName(),
			Metadata: map[string]string{
				core.MetadataPatientID: item.PatientID,
				core.MetadataItemType:  string(item.ItemType),
			},
		}))
		require.NoError(t, f.stores.Graph.InsertEntities(ctx, extractor.ExtractItem(item.ItemID, item.TextContent)...))
	}
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(f.stores.Documents, f.stores.Vectors, f.stores.Graph, f.embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e
}

func note(id, patient, text string) *core.SourceItem {
	return &core.SourceItem{
		ItemID:       id,
		ItemType:     core.ItemTypeNote,
		PatientID:    patient,
		TextContent:  text,
		LastModified: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func clinicalNotes() []*core.SourceItem {
	return []*core.SourceItem{
		note("doc1", "P1", "chest pain and shortness of breath"),
		note("doc2", "P2", "cardiac catheterization performed"),
		note("doc3", "P1", "atrial fibrillation management"),
	}
}

func scores(results []*Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		out[r.ItemID] = r.Score
	}
	return out
}

type failingGraph struct {
	storage.GraphStore
}

func (failingGraph) SearchEntitiesByText(context.Context, string) ([]*core.Entity, error) {
	return nil, errors.New("graph offline")
}

// stalledVectors blocks every search until the caller's context ends.
type stalledVectors struct {
	storage.VectorStore
}

func (stalledVectors) SearchSimilar(ctx context.Context, _ []float32, _ int, _ *storage.VectorFilter) ([]core.SimilarityMatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stuckGraph ignores its context and blocks until release is closed.
type stuckGraph struct {
	storage.GraphStore
	release chan struct{}
}

func (g stuckGraph) SearchEntitiesByText(context.Context, string) ([]*core.Entity, error) {
	<-g.release
	return nil, nil
}

// flakyDocuments fails keyword searches with a transient error until
// failures reaches zero.
type flakyDocuments struct {
	storage.DocumentStore
	failures int
	calls    int
}

func (d *flakyDocuments) SearchKeywords(ctx context.Context, tokens []string, limit int) ([]core.KeywordMatch, error) {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, fmt.Errorf("connection reset: %w", storage.ErrUnavailable)
	}
	return d.DocumentStore.SearchKeywords(ctx, tokens, limit)
}

type failingDocuments struct {
	storage.DocumentStore
}

func (failingDocuments) GetDocuments(context.Context, ...string) ([]*core.SourceItem, error) {
	return nil, errors.New("documents offline")
}

type recordingMonitor struct {
	noopMonitor
	started    int
	modalities []Modality
	fused      int
	finished   *Response
}

func (m *recordingMonitor) Start(*Query) { m.started++ }

func (m *recordingMonitor) AfterModality(modality Modality, _ Ranking, _ error) {
	m.modalities = append(m.modalities, modality)
}

func (m *recordingMonitor) AfterFusion(results []*Result) { m.fused = len(results) }

func (m *recordingMonitor) Finish(resp *Response) { m.finished = resp }

func TestNewEngine(t *testing.T) {
	f := newFixture(t)
	s := f.stores

	tests := []struct {
		name string
		fn   func() (*Engine, error)
		want error
	}{
		{"documents", func() (*Engine, error) { return NewEngine(nil, s.Vectors, s.Graph, f.embedder) }, ErrDocumentStoreRequired},
		{"vectors", func() (*Engine, error) { return NewEngine(s.Documents, nil, s.Graph, f.embedder) }, ErrVectorStoreRequired},
		{"graph", func() (*Engine, error) { return NewEngine(s.Documents, s.Vectors, nil, f.embedder) }, ErrGraphStoreRequired},
		{"embedder", func() (*Engine, error) { return NewEngine(s.Documents, s.Vectors, s.Graph, nil) }, ErrEmbedderRequired},
		{"rrf constant", func() (*Engine, error) {
			return NewEngine(s.Documents, s.Vectors, s.Graph, f.embedder, WithRRFConstant(0))
		}, ErrInvalidOption},
		{"candidate pool", func() (*Engine, error) {
			return NewEngine(s.Documents, s.Vectors, s.Graph, f.embedder, WithCandidatePool(-1))
		}, ErrInvalidOption},
		{"search timeout", func() (*Engine, error) {
			return NewEngine(s.Documents, s.Vectors, s.Graph, f.embedder, WithSearchTimeout(0))
		}, ErrInvalidOption},
		{"retries", func() (*Engine, error) {
			return NewEngine(s.Documents, s.Vectors, s.Graph, f.embedder, WithRetries(0, time.Millisecond))
		}, ErrInvalidOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := tt.fn()
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, e)
		})
	}
}

func TestQuery_InvalidInput(t *testing.T) {
	e := newFixture(t).engine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query *Query
		want  error
	}{
		{"nil", nil, ErrEmptyQuery},
		{"blank text", &Query{Text: "  ", TopK: 5}, ErrEmptyQuery},
		{"zero top k", &Query{Text: "pain", TopK: 0}, ErrInvalidTopK},
		{"negative top k", &Query{Text: "pain", TopK: -3}, ErrInvalidTopK},
		{"threshold", &Query{Text: "pain", TopK: 5, SimilarityThreshold: 1.5}, ErrInvalidThreshold},
		{"document type", &Query{Text: "pain", TopK: 5, DocumentType: "xray"}, core.ErrInvalidItemType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Query(ctx, tt.query)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, resp)
		})
	}
}

func TestQuery_SymptomSearch(t *testing.T) {
	e := newFixture(t, clinicalNotes()...).engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain and breathing difficulty", TopK: 3})
	require.NoError(t, err)

	assert.False(t, resp.Degraded)
	assert.Nil(t, resp.Failures)
	assert.Equal(t, Modalities, resp.Contributing)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 3)

	top := resp.Results[0]
	assert.Equal(t, "doc1", top.ItemID)
	assert.Equal(t, 1, top.Rank(ModalityKeyword))
	assert.Equal(t, 2.0, top.Modalities[ModalityKeyword].Raw)
	assert.Equal(t, 1, top.Rank(ModalityGraph))
	assert.Positive(t, top.Rank(ModalityVector))
	require.NotNil(t, top.Item)
	assert.Equal(t, "P1", top.Item.PatientID)
	assert.Equal(t, []string{"chest pain and shortness of breath"}, top.Highlights)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestQuery_PatientFilterAppliesAfterFusion(t *testing.T) {
	f := newFixture(t,
		note("doc1", "P1", "chest pain at rest"),
		note("doc2", "P2", "chest pain radiating to arm"),
		note("doc3", "P1", "knee pain after fall"),
		note("doc4", "P2", "seasonal allergies"),
	)
	e := f.engine(t)
	ctx := context.Background()

	all, err := e.Query(ctx, &Query{Text: "chest pain", TopK: 10})
	require.NoError(t, err)
	unfiltered := scores(all.Results)
	require.Contains(t, unfiltered, "doc2")

	resp, err := e.Query(ctx, &Query{Text: "chest pain", TopK: 10, PatientID: "P1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	for _, r := range resp.Results {
		require.NotNil(t, r.Item)
		assert.Equal(t, "P1", r.Item.PatientID)
		// Ranks come from the unfiltered pool.
		assert.Equal(t, unfiltered[r.ItemID], r.Score)
	}
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
}

func TestQuery_DocumentTypeFilter(t *testing.T) {
	report := note("rep1", "P1", "chest x-ray shows no acute findings")
	report.ItemType = core.ItemTypeReport
	e := newFixture(t, note("doc1", "P1", "chest pain at rest"), report).engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "chest", TopK: 5, DocumentType: core.ItemTypeReport})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "rep1", resp.Results[0].ItemID)
}

func TestQuery_TopKTruncates(t *testing.T) {
	e := newFixture(t, clinicalNotes()...).engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
}

func TestQuery_EmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("provider unavailable")
	}
	e := f.engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures[string(ModalityVector)], "provider unavailable")
	assert.Equal(t, []Modality{ModalityKeyword, ModalityGraph}, resp.Contributing)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
	assert.Zero(t, resp.Results[0].Rank(ModalityVector))
}

func TestQuery_GraphFailureDegrades(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	e, err := NewEngine(f.stores.Documents, f.stores.Vectors, failingGraph{f.stores.Graph}, f.embedder)
	require.NoError(t, err)
	defer e.Release()

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures, string(ModalityGraph))
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
}

func TestQuery_DocumentFailureWithFilterReturnsNothing(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	e, err := NewEngine(failingDocuments{f.stores.Documents}, f.stores.Vectors, f.stores.Graph, f.embedder)
	require.NoError(t, err)
	defer e.Release()
	ctx := context.Background()

	resp, err := e.Query(ctx, &Query{Text: "chest pain", TopK: 3, PatientID: "P1"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures, "documents")
	assert.Empty(t, resp.Results)

	// Without a filter the fused results come back unhydrated.
	resp, err = e.Query(ctx, &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Nil(t, resp.Results[0].Item)
}

func TestQuery_NoMatches(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestQuery_SimilarityThreshold(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	e := f.engine(t)

	resp, err := e.Query(context.Background(), &Query{Text: "atrial fibrillation management", TopK: 3, SimilarityThreshold: 0.99})
	require.NoError(t, err)
	for _, r := range resp.Results {
		if r.Rank(ModalityVector) > 0 {
			assert.GreaterOrEqual(t, r.Modalities[ModalityVector].Raw, 0.99-1e-6)
		}
	}
	assert.Equal(t, "doc3", resp.Results[0].ItemID)
}

func TestQuery_Expansion(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	expander := mock.NewMockQueryExpander(map[string][]string{
		"dyspnea": {"shortness of breath"},
	})
	e := f.engine(t, WithQueryExpander(expander))

	resp, err := e.Query(context.Background(), &Query{Text: "dyspnea", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, expander.CallCount())
	assert.Equal(t, []string{"shortness of breath"}, resp.ExpandedTerms)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
	assert.Equal(t, 1, resp.Results[0].Rank(ModalityKeyword))
}

func TestQuery_ExpansionFailureIsRecorded(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	expander := mock.NewMockQueryExpander(nil)
	expander.ExpandQueryFunc = func(context.Context, string) ([]string, error) {
		return nil, errors.New("chat model down")
	}
	e := f.engine(t, WithQueryExpander(expander))

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures, "expansion")
	assert.Equal(t, Modalities, resp.Contributing)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
}

func TestQuery_EmbeddingModelFilter(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	e := f.engine(t, WithEmbeddingModel("other-model"))

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Zero(t, r.Rank(ModalityVector))
	}
}

func TestQueryWithMonitor(t *testing.T) {
	e := newFixture(t, clinicalNotes()...).engine(t)
	monitor := &recordingMonitor{}

	resp, err := e.QueryWithMonitor(context.Background(), &Query{Text: "chest pain", TopK: 2}, monitor)
	require.NoError(t, err)

	assert.Equal(t, 1, monitor.started)
	assert.Equal(t, Modalities, monitor.modalities)
	assert.GreaterOrEqual(t, monitor.fused, len(resp.Results))
	assert.Same(t, resp, monitor.finished)
}

func TestQuery_Deterministic(t *testing.T) {
	e := newFixture(t, clinicalNotes()...).engine(t)
	ctx := context.Background()

	first, err := e.Query(ctx, &Query{Text: "pain management", TopK: 3})
	require.NoError(t, err)
	for range 5 {
		again, err := e.Query(ctx, &Query{Text: "pain management", TopK: 3})
		require.NoError(t, err)
		assert.Equal(t, ids(first.Results), ids(again.Results))
		assert.Equal(t, scores(first.Results), scores(again.Results))
	}
}

func TestQuery_StalledVectorStoreDegrades(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	e, err := NewEngine(f.stores.Documents, stalledVectors{f.stores.Vectors}, f.stores.Graph, f.embedder,
		WithSearchTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer e.Release()

	start := time.Now()
	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures[string(ModalityVector)], "deadline")
	assert.Equal(t, []Modality{ModalityKeyword, ModalityGraph}, resp.Contributing)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
	assert.Zero(t, resp.Results[0].Rank(ModalityVector))
	assert.NotZero(t, resp.Results[0].Rank(ModalityKeyword))
}

func TestQuery_AbandonsStoreIgnoringDeadline(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	graph := stuckGraph{GraphStore: f.stores.Graph, release: make(chan struct{})}
	defer close(graph.release)
	e, err := NewEngine(f.stores.Documents, f.stores.Vectors, graph, f.embedder,
		WithSearchTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer e.Release()

	start := time.Now()
	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Failures[string(ModalityGraph)], ErrSearchTimeout.Error())
	assert.Equal(t, []Modality{ModalityVector, ModalityKeyword}, resp.Contributing)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc1", resp.Results[0].ItemID)
}

func TestQuery_RetriesTransientStoreErrors(t *testing.T) {
	f := newFixture(t, clinicalNotes()...)
	docs := &flakyDocuments{DocumentStore: f.stores.Documents, failures: 2}
	e, err := NewEngine(docs, f.stores.Vectors, f.stores.Graph, f.embedder, WithRetries(3, time.Millisecond))
	require.NoError(t, err)
	defer e.Release()

	resp, err := e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 3, docs.calls)
	assert.NotZero(t, resp.Results[0].Rank(ModalityKeyword))

	docs.failures, docs.calls = 5, 0
	resp, err = e.Query(context.Background(), &Query{Text: "chest pain", TopK: 3})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, 3, docs.calls)
	assert.Contains(t, resp.Failures[string(ModalityKeyword)], "store unavailable")
}
