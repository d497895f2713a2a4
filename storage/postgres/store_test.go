package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearchQuery(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 0})

	t.Run("no filter", func(t *testing.T) {
		sql, args, err := buildSearchQuery(storage.MetricCosine, vec, 5, nil)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT item_id, MAX(score) AS score FROM (SELECT item_id, 1 - (embedding <=> ?) AS score FROM medfuse_vectors) scored GROUP BY item_id ORDER BY score DESC, item_id LIMIT ?",
			sql)
		assert.Equal(t, []any{vec, 5}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		filter := &storage.VectorFilter{
			EmbeddingModel: "m",
			PatientID:      "P1",
			ItemType:       core.ItemTypeNote,
			MinScore:       0.3,
		}
		sql, args, err := buildSearchQuery(storage.MetricDot, vec, 10, filter)
		require.NoError(t, err)
		assert.Contains(t, sql, "(embedding <#> ?) * -1 AS score")
		assert.Contains(t, sql, "WHERE embedding_model = ? AND patient_id = ? AND item_type = ?")
		assert.Contains(t, sql, "scored WHERE score >= ?")
		assert.Equal(t, []any{vec, "m", "P1", "note", float32(0.3), 10}, args)
	})

	t.Run("unknown metric", func(t *testing.T) {
		_, _, err := buildSearchQuery("hamming", vec, 10, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}

func TestToRow(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	row := toRow(&core.VectorRecord{
		ItemID:         "doc1",
		Embedding:      []float32{0.5, 0.5},
		EmbeddingModel: "m",
		CreatedAt:      created,
		Metadata: map[string]string{
			core.MetadataPatientID:   "P1",
			core.MetadataItemType:    "report",
			core.MetadataContentHash: "abc",
		},
	})

	assert.Equal(t, "doc1", row.ItemID)
	assert.Equal(t, "P1", row.PatientID)
	assert.Equal(t, "report", row.ItemType)
	assert.Equal(t, "abc", row.ContentHash)
	assert.Equal(t, []float32{0.5, 0.5}, row.Embedding.Slice())
	assert.Equal(t, created, row.CreatedAt)
	assert.Equal(t, "medfuse_vectors", row.TableName())
}

func TestStore_DimensionMismatchSkipsDatabase(t *testing.T) {
	// No connection: a rejected call never reaches the database.
	s := &Store{dimension: 3, metric: storage.MetricCosine}
	ctx := context.Background()

	err := s.InsertVector(ctx, &core.VectorRecord{ItemID: "doc1", Embedding: []float32{1, 0}, EmbeddingModel: "m"})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = s.SearchSimilar(ctx, []float32{1, 0, 0, 0}, 5, nil)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = s.SearchSimilar(ctx, []float32{1, 0, 0}, 0, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, classify(ctx, nil))

	for _, code := range []string{"40001", "40P01", "08006", "57P01"} {
		err := classify(ctx, fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, storage.ErrUnavailable, code)
		assert.True(t, storage.IsTransient(err), code)
	}

	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err := classify(ctx, unique)
	assert.Same(t, unique, err)
	assert.False(t, storage.IsTransient(err))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = classify(canceled, errors.New("conn closed"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, storage.IsTransient(err))
}

// openTestStore connects to MEDFUSE_TEST_POSTGRES_DSN, a database with the
// pgvector extension available.
func openTestStore(t *testing.T, dimension int) (*Store, *GraphStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := os.Getenv("MEDFUSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDFUSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, dsn, dimension, storage.MetricCosine)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	graph, err := NewGraphStore(ctx, store.DB())
	require.NoError(t, err)

	for _, table := range []string{tableName, "medfuse_entity_tokens", "medfuse_entities", "medfuse_relationships"} {
		require.NoError(t, store.DB().Exec("TRUNCATE " + table).Error)
	}
	return store, graph
}

func TestStore_Integration(t *testing.T) {
	store, _ := openTestStore(t, 3)
	ctx := context.Background()
	record := func(id, model string, embedding ...float32) *core.VectorRecord {
		return &core.VectorRecord{ItemID: id, Embedding: embedding, EmbeddingModel: model,
			Metadata: map[string]string{core.MetadataPatientID: "P1"}}
	}

	require.NoError(t, store.InsertVector(ctx, record("doc1", "m1", 1, 0, 0)))
	require.NoError(t, store.InsertVector(ctx, record("doc1", "m1", 0, 1, 0)))
	require.NoError(t, store.InsertVector(ctx, record("doc1", "m2", 0, 0, 1)))
	require.NoError(t, store.InsertVector(ctx, record("doc2", "m1", 1, 0, 0)))

	var count int64
	require.NoError(t, store.DB().Table(tableName).Where("item_id = ?", "doc1").Count(&count).Error)
	assert.Equal(t, int64(2), count, "one row per item and model")

	matches, err := store.SearchSimilar(ctx, []float32{0, 1, 0}, 5, &storage.VectorFilter{EmbeddingModel: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc1", matches[0].ItemID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

	require.NoError(t, store.DeleteVectors(ctx, "doc1"))
	require.NoError(t, store.InsertVector(ctx, record("doc1", "m1", 1, 0, 0)))
	require.NoError(t, store.DB().Table(tableName).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	err = store.InsertVector(ctx, record("doc3", "m1", 1, 0))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestGraphStore_Integration(t *testing.T) {
	_, graph := openTestStore(t, 3)
	ctx := context.Background()
	entities := []*core.Entity{
		{EntityID: "e1", Text: "chest pain", Type: core.EntitySymptom, SourceItemID: "doc1", Confidence: 0.6},
		{EntityID: "e2", Text: "aspirin", Type: core.EntityMedication, SourceItemID: "doc1", Confidence: 0.6},
	}
	rel := &core.Relationship{RelationshipID: "r1", SourceEntityID: "e1", TargetEntityID: "e2",
		RelationshipType: core.RelationshipCoOccurs, SourceItemID: "doc1", Confidence: 0.5}

	// Re-processing an item: delete, then insert the same extraction twice.
	for range 2 {
		require.NoError(t, graph.DeleteBySourceItem(ctx, "doc1"))
		require.NoError(t, graph.InsertEntities(ctx, entities...))
		require.NoError(t, graph.InsertRelationships(ctx, rel))
	}

	stored, err := graph.EntitiesForItem(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	rels, err := graph.RelationshipsForItem(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	found, err := graph.SearchEntitiesByText(ctx, "Pain")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e1", found[0].EntityID)

	require.NoError(t, graph.DeleteBySourceItem(ctx, "doc1"))
	found, err = graph.SearchEntitiesByText(ctx, "pain")
	require.NoError(t, err)
	assert.Empty(t, found)
}
