package storage

import (
	"context"
	"time"

	"github.com/poiesic/medfuse/core"
)

// Metric selects the similarity function used by a VectorStore.
type Metric string

const (
	// MetricCosine scores by cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricDot scores by raw dot product.
	MetricDot Metric = "dot"
)

// VectorFilter narrows a similarity search. Zero values disable a condition.
type VectorFilter struct {
	// EmbeddingModel restricts hits to vectors produced by this model.
	EmbeddingModel string
	// PatientID restricts hits to one patient (metadata match).
	PatientID string
	// ItemType restricts hits to one item type (metadata match).
	ItemType core.ItemType
	// MinScore drops hits scoring below this value. Zero disables it.
	MinScore float32
}

// VectorStore persists item embeddings and answers similarity queries.
type VectorStore interface {
	// InsertVector stores a vector, replacing any existing vector for the same
	// (ItemID, EmbeddingModel) pair.
	// Returns ErrDimensionMismatch if the embedding length differs from the
	// store's configured dimension.
	InsertVector(ctx context.Context, record *core.VectorRecord) error

	// SearchSimilar returns up to topK items ordered by score, highest first.
	// Ties are broken by item id.
	SearchSimilar(ctx context.Context, query []float32, topK int, filter *VectorFilter) ([]core.SimilarityMatch, error)

	// DeleteVectors removes every vector stored for an item.
	DeleteVectors(ctx context.Context, itemID string) error

	// Close releases resources held by the store.
	Close() error
}

// GraphStore persists extracted entities and their relationships.
type GraphStore interface {
	// InsertEntities stores entities, overwriting entities with the same id.
	InsertEntities(ctx context.Context, entities ...*core.Entity) error

	// InsertRelationships stores relationships, overwriting by id.
	InsertRelationships(ctx context.Context, relationships ...*core.Relationship) error

	// SearchEntitiesByText returns entities whose text contains the given token.
	// Matching is case-insensitive and token based.
	SearchEntitiesByText(ctx context.Context, token string) ([]*core.Entity, error)

	// DeleteBySourceItem removes every entity and relationship extracted from an item.
	// Deleting an item with no entities is not an error.
	DeleteBySourceItem(ctx context.Context, itemID string) error

	// EntitiesForItem returns the entities extracted from an item.
	EntitiesForItem(ctx context.Context, itemID string) ([]*core.Entity, error)

	// RelationshipsForItem returns the relationships extracted from an item.
	RelationshipsForItem(ctx context.Context, itemID string) ([]*core.Relationship, error)

	// Close releases resources held by the store.
	Close() error
}

// DocumentStore keeps the indexed copy of source items for keyword search,
// result hydration and post-fusion filtering.
type DocumentStore interface {
	// PutDocuments stores items, replacing earlier copies and their keyword postings.
	PutDocuments(ctx context.Context, items ...*core.SourceItem) error

	// GetDocuments retrieves items by id.
	// Returns only the items that exist (no error for missing items).
	GetDocuments(ctx context.Context, ids ...string) ([]*core.SourceItem, error)

	// SearchKeywords ranks items by the number of distinct tokens they contain.
	// Ties are broken by item id. Returns at most limit matches.
	SearchKeywords(ctx context.Context, tokens []string, limit int) ([]core.KeywordMatch, error)

	// DeleteDocument removes an item and its postings.
	DeleteDocument(ctx context.Context, itemID string) error

	// LatestModified returns the newest LastModified among stored items.
	// Returns the zero time when the store is empty.
	LatestModified(ctx context.Context) (time.Time, error)

	// Close releases resources held by the store.
	Close() error
}

// CheckpointStore records per-item indexing progress durably.
// It assumes a single writer process.
type CheckpointStore interface {
	// Register inserts pending rows for item ids that have no checkpoint yet.
	// Existing rows are left untouched. Returns the number of rows inserted.
	Register(ctx context.Context, itemIDs ...string) (int, error)

	// MarkProcessing moves an item from pending or failed to processing.
	// Returns ErrAlreadyProcessing, ErrAlreadyCompleted or ErrNotFound.
	MarkProcessing(ctx context.Context, itemID string) error

	// MarkCompleted moves a processing item to completed. Idempotent.
	MarkCompleted(ctx context.Context, itemID string) error

	// MarkFailed moves an item to failed, incrementing its attempt count and
	// recording the error message.
	MarkFailed(ctx context.Context, itemID, message string) error

	// MarkRejected marks an item failed and exhausts its retry budget so it is
	// never selected again until reset.
	MarkRejected(ctx context.Context, itemID, message string) error

	// PendingItems returns up to limit item ids, ordered by id and strictly
	// greater than after, whose status is pending or failed below the retry limit.
	PendingItems(ctx context.Context, after string, limit int) ([]string, error)

	// Reset returns items to pending with a cleared error and attempt count.
	// With no ids every checkpoint is reset.
	Reset(ctx context.Context, itemIDs ...string) error

	// RecoverStale returns items left in processing by a crashed run to pending.
	RecoverStale(ctx context.Context) (int, error)

	// Get returns the checkpoint for an item, or ErrNotFound.
	Get(ctx context.Context, itemID string) (*core.CheckpointRecord, error)

	// Counts returns the number of checkpoints per status.
	Counts(ctx context.Context) (map[core.CheckpointStatus]int, error)

	// CountPending returns the number of items PendingItems would eventually return.
	CountPending(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// WatermarkStore persists incremental sync watermarks by name.
type WatermarkStore interface {
	// SaveWatermark persists a watermark, stamping UpdatedAt.
	SaveWatermark(ctx context.Context, watermark *core.Watermark) error

	// LoadWatermark retrieves a watermark by name.
	// Returns nil, nil if no watermark exists.
	LoadWatermark(ctx context.Context, name string) (*core.Watermark, error)
}
