package chroma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChroma serves the part of the Chroma v2 HTTP API the store uses,
// keeping documents in memory.
type fakeChroma struct {
	mu       sync.Mutex
	docs     map[string]fakeDoc
	requests map[string]int
	failWith int // Status returned by the next data request, then cleared
}

type fakeDoc struct {
	embedding []float64
	metadata  map[string]any
}

func newFakeChroma(t *testing.T) (*fakeChroma, *httptest.Server) {
	t.Helper()
	f := &fakeChroma{docs: map[string]fakeDoc{}, requests: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeChroma) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[op]
}

func (f *fakeChroma) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeChroma) failNext(status int) {
	f.mu.Lock()
	f.failWith = status
	f.mu.Unlock()
}

func (f *fakeChroma) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	op := path[strings.LastIndex(path, "/")+1:]
	f.requests[op]++

	switch op {
	case "pre-flight-checks":
		writeJSON(w, map[string]any{"max_batch_size": 100})
		return
	case "collections":
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{
			"id":       "c0ffee",
			"name":     req.Name,
			"tenant":   "default_tenant",
			"database": "default_database",
		})
		return
	}

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		writeJSON(w, map[string]any{"error": "InternalError", "message": "injected"})
		f.failWith = 0
		return
	}

	switch op {
	case "upsert":
		var req struct {
			IDs        []string         `json:"ids"`
			Embeddings [][]float64      `json:"embeddings"`
			Metadatas  []map[string]any `json:"metadatas"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for i, id := range req.IDs {
			f.docs[id] = fakeDoc{embedding: req.Embeddings[i], metadata: req.Metadatas[i]}
		}
		writeJSON(w, map[string]any{})
	case "delete":
		var req struct {
			Where map[string]any `json:"where"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for id, doc := range f.docs {
			if matches(req.Where, doc.metadata) {
				delete(f.docs, id)
			}
		}
		writeJSON(w, map[string]any{})
	case "query":
		var req struct {
			QueryEmbeddings [][]float64    `json:"query_embeddings"`
			NResults        int            `json:"n_results"`
			Where           map[string]any `json:"where"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.QueryEmbeddings) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		type hit struct {
			id       string
			distance float64
		}
		var hits []hit
		for id, doc := range f.docs {
			if !matches(req.Where, doc.metadata) {
				continue
			}
			var dot float64
			for i, v := range req.QueryEmbeddings[0] {
				dot += v * doc.embedding[i]
			}
			hits = append(hits, hit{id, 1 - dot})
		}
		slices.SortFunc(hits, func(a, b hit) int {
			if a.distance != b.distance {
				if a.distance < b.distance {
					return -1
				}
				return 1
			}
			return strings.Compare(a.id, b.id)
		})
		if len(hits) > req.NResults {
			hits = hits[:req.NResults]
		}
		ids, distances := []string{}, []float64{}
		for _, h := range hits {
			ids = append(ids, h.id)
			distances = append(distances, h.distance)
		}
		writeJSON(w, map[string]any{"ids": [][]string{ids}, "distances": [][]float64{distances}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// matches evaluates {"key": {"$eq": value}} and {"$and": [...]} filters.
func matches(where map[string]any, metadata map[string]any) bool {
	for key, cond := range where {
		if key == "$and" {
			clauses, _ := cond.([]any)
			for _, c := range clauses {
				clause, _ := c.(map[string]any)
				if !matches(clause, metadata) {
					return false
				}
			}
			continue
		}
		ops, _ := cond.(map[string]any)
		if ops["$eq"] != metadata[key] {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func openFake(t *testing.T) (*fakeChroma, *Store) {
	t.Helper()
	fake, srv := newFakeChroma(t)
	store, err := Open(context.Background(), srv.URL, "notes", 3, storage.MetricCosine)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return fake, store
}

func vectorRecord(itemID, model, patient string, embedding ...float32) *core.VectorRecord {
	return &core.VectorRecord{
		ItemID:         itemID,
		Embedding:      embedding,
		EmbeddingModel: model,
		Metadata:       map[string]string{core.MetadataPatientID: patient, core.MetadataItemType: "note"},
	}
}

func TestStore_InsertAndSearch(t *testing.T) {
	_, store := openFake(t)
	ctx := context.Background()

	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc2", "m1", "P2", 0.6, 0.8, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc3", "m1", "P1", 0, 0, 1)))

	matches, err := store.SearchSimilar(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "doc1", matches[0].ItemID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "doc2", matches[1].ItemID)
	assert.InDelta(t, 0.6, matches[1].Score, 1e-6)

	matches, err = store.SearchSimilar(ctx, []float32{1, 0, 0}, 10, &storage.VectorFilter{PatientID: "P1", MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc1", matches[0].ItemID)
}

func TestStore_UpsertOverwritesPerItemAndModel(t *testing.T) {
	fake, store := openFake(t)
	ctx := context.Background()

	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 0, 1, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m2", "P1", 0, 0, 1)))
	assert.Equal(t, 2, fake.size())

	matches, err := store.SearchSimilar(ctx, []float32{0, 1, 0}, 10, &storage.VectorFilter{EmbeddingModel: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6, "second insert replaced the first")
}

func TestStore_DeleteThenReinsertLeavesNoDuplicates(t *testing.T) {
	fake, store := openFake(t)
	ctx := context.Background()

	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m2", "P1", 0, 1, 0)))
	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc2", "m1", "P2", 0, 0, 1)))

	require.NoError(t, store.DeleteVectors(ctx, "doc1"))
	assert.Equal(t, 1, fake.size())

	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0)))
	matches, err := store.SearchSimilar(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ItemID
	}
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, ids)
}

func TestStore_DimensionMismatchSkipsServer(t *testing.T) {
	fake, store := openFake(t)
	ctx := context.Background()

	err := store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	_, err = store.SearchSimilar(ctx, []float32{1, 0, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	assert.Zero(t, fake.count("upsert"))
	assert.Zero(t, fake.count("query"))
}

func TestStore_ServerErrorsAreClassified(t *testing.T) {
	fake, store := openFake(t)
	ctx := context.Background()

	fake.failNext(http.StatusServiceUnavailable)
	err := store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.True(t, storage.IsTransient(err))

	fake.failNext(http.StatusBadRequest)
	_, err = store.SearchSimilar(ctx, []float32{1, 0, 0}, 5, nil)
	require.Error(t, err)
	assert.False(t, storage.IsTransient(err))

	require.NoError(t, store.InsertVector(ctx, vectorRecord("doc1", "m1", "P1", 1, 0, 0)))
}

func TestOpen_UnreachableServerIsTransient(t *testing.T) {
	_, srv := newFakeChroma(t)
	url := srv.URL
	srv.Close()

	_, err := Open(context.Background(), url, "notes", 3, storage.MetricCosine)
	require.Error(t, err)
	assert.True(t, storage.IsTransient(err))
}
