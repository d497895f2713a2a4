package badger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// VectorStore implements storage.VectorStore for BadgerDB with a linear scan.
// Vectors are keyed by (item id, embedding model) so re-indexing overwrites.
type VectorStore struct {
	backend   *Backend
	dimension int
	metric    storage.Metric
}

var _ storage.VectorStore = (*VectorStore)(nil)

// VectorOption configures a VectorStore.
type VectorOption func(*VectorStore) error

// WithMetric selects the similarity metric. Default is cosine.
func WithMetric(metric storage.Metric) VectorOption {
	return func(s *VectorStore) error {
		switch metric {
		case storage.MetricCosine, storage.MetricDot:
			s.metric = metric
			return nil
		default:
			return fmt.Errorf("%w: unknown metric %q", storage.ErrInvalidQuery, metric)
		}
	}
}

// NewVectorStore creates a VectorStore accepting vectors of the given dimension.
func NewVectorStore(backend *Backend, dimension int, opts ...VectorOption) (*VectorStore, error) {
	if dimension <= 0 {
		return nil, storage.ErrInvalidDimension
	}
	s := &VectorStore{
		backend:   backend,
		dimension: dimension,
		metric:    storage.MetricCosine,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dimension returns the configured vector dimension.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Close is a no-op; the backend is closed by its owner.
func (s *VectorStore) Close() error {
	return nil
}

// InsertVector stores or replaces the vector of an item for one model.
func (s *VectorStore) InsertVector(ctx context.Context, record *core.VectorRecord) error {
	if err := core.ValidateVectorRecord(record); err != nil {
		return err
	}
	if len(record.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(record.Embedding), s.dimension)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	value := storage.MarshalVectorRecord(record)
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeVectorKey(record.ItemID, record.EmbeddingModel), value)
	})
}

// Count returns the number of stored vectors across all items and models.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		count = len(scanKeys(tx, []byte(vectorPrefix)))
		return nil
	})
	return count, err
}

// DeleteVectors removes every vector stored for an item.
func (s *VectorStore) DeleteVectors(ctx context.Context, itemID string) error {
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		for _, key := range scanKeys(tx, makeVectorItemPrefix(itemID)) {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchSimilar scores every stored vector against the query.
// When an item has vectors for several models only its best hit is kept.
func (s *VectorStore) SearchSimilar(ctx context.Context, query []float32, topK int, filter *storage.VectorFilter) ([]core.SimilarityMatch, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", storage.ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	if filter == nil {
		filter = &storage.VectorFilter{}
	}

	best := make(map[string]float32)
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vectorPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var record *core.VectorRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalVectorRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if !matchesFilter(record, filter) {
				continue
			}

			score := s.score(query, record.Embedding)
			if filter.MinScore != 0 && score < filter.MinScore {
				continue
			}
			if prev, ok := best[record.ItemID]; !ok || score > prev {
				best[record.ItemID] = score
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]core.SimilarityMatch, 0, len(best))
	for id, score := range best {
		results = append(results, core.SimilarityMatch{ItemID: id, Score: score})
	}
	slices.SortFunc(results, func(a, b core.SimilarityMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *VectorStore) score(query, vector []float32) float32 {
	if s.metric == storage.MetricDot {
		return dotProduct(query, vector)
	}
	return cosineSimilarity(query, vector)
}

func matchesFilter(record *core.VectorRecord, filter *storage.VectorFilter) bool {
	if filter.EmbeddingModel != "" && record.EmbeddingModel != filter.EmbeddingModel {
		return false
	}
	if filter.PatientID != "" && record.Metadata[core.MetadataPatientID] != filter.PatientID {
		return false
	}
	if filter.ItemType != "" && record.Metadata[core.MetadataItemType] != string(filter.ItemType) {
		return false
	}
	return true
}
