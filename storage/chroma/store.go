// Package chroma implements storage.VectorStore on a Chroma server.
package chroma

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	chhttp "github.com/amikos-tech/chroma-go/pkg/commons/http"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

const (
	// DefaultCollection is used when no collection name is configured.
	DefaultCollection = "medfuse"

	metaItemID         = "item_id"
	metaEmbeddingModel = "embedding_model"
	idSeparator        = "::"
)

// Store keeps one Chroma document per (item, model) pair.
type Store struct {
	client     chromago.Client
	collection chromago.Collection
	dimension  int
	metric     storage.Metric
}

var _ storage.VectorStore = (*Store)(nil)

// Open connects to the Chroma server at baseURL and gets or creates the
// named collection.
func Open(ctx context.Context, baseURL, collection string, dimension int, metric storage.Metric) (*Store, error) {
	if dimension <= 0 {
		return nil, storage.ErrInvalidDimension
	}
	if collection == "" {
		collection = DefaultCollection
	}
	space, err := hnswSpace(metric)
	if err != nil {
		return nil, err
	}

	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	coll, err := client.GetOrCreateCollection(
		ctx,
		collection,
		chromago.WithEmbeddingFunctionCreate(precomputed{}),
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", space),
				chromago.NewStringAttribute("created_by", "medfuse"),
			),
		),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get or create collection %s: %w", collection, classify(ctx, err))
	}

	return &Store{
		client:     client,
		collection: coll,
		dimension:  dimension,
		metric:     metric,
	}, nil
}

// Close closes the HTTP client.
func (s *Store) Close() error {
	return s.client.Close()
}

// InsertVector upserts the vector for (ItemID, EmbeddingModel).
func (s *Store) InsertVector(ctx context.Context, record *core.VectorRecord) error {
	if err := core.ValidateVectorRecord(record); err != nil {
		return err
	}
	if len(record.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(record.Embedding), s.dimension)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := s.collection.Upsert(ctx,
		chromago.WithIDs(documentID(record.ItemID, record.EmbeddingModel)),
		chromago.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(record.Embedding)),
		chromago.WithMetadatas(documentMetadata(record)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s into chroma: %w", record.ItemID, classify(ctx, err))
	}
	return nil
}

// DeleteVectors removes every vector stored for an item.
func (s *Store) DeleteVectors(ctx context.Context, itemID string) error {
	err := s.collection.Delete(ctx, chromago.WithWhereDelete(chromago.EqString(metaItemID, itemID)))
	if err != nil {
		return fmt.Errorf("failed to delete %s from chroma: %w", itemID, classify(ctx, err))
	}
	return nil
}

// SearchSimilar queries the collection and converts distances back to scores.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, topK int, filter *storage.VectorFilter) ([]core.SimilarityMatch, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", storage.ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}

	opts := []chromago.CollectionQueryOption{
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(query)),
		chromago.WithNResults(topK),
	}
	if where := whereClause(filter); where != nil {
		opts = append(opts, chromago.WithWhereQuery(where))
	}

	results, err := s.collection.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chroma: %w", classify(ctx, err))
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 || len(distanceGroups) == 0 {
		return nil, nil
	}

	var minScore float32
	if filter != nil {
		minScore = filter.MinScore
	}
	distances := make([]float32, len(distanceGroups[0]))
	for i, d := range distanceGroups[0] {
		distances[i] = float32(d)
	}
	ids := make([]string, len(idGroups[0]))
	for i, id := range idGroups[0] {
		ids[i] = string(id)
	}
	return toMatches(ids, distances, minScore), nil
}

// classify marks failures that may succeed on retry with storage.ErrUnavailable:
// transport errors and 429 or 5xx responses.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var chErr *chhttp.ChromaError
	if !errors.As(err, &chErr) {
		return err
	}
	if chErr.ErrorCode == 0 || chErr.ErrorCode == http.StatusTooManyRequests || chErr.ErrorCode >= 500 {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

// precomputed stands in for the collection's embedding function. Every
// record and query carries its own vector, so it is never called.
type precomputed struct{}

func (precomputed) EmbedDocuments(context.Context, []string) ([]embeddings.Embedding, error) {
	return nil, errors.New("chroma store embeds nothing: vectors are supplied by the caller")
}

func (precomputed) EmbedQuery(context.Context, string) (embeddings.Embedding, error) {
	return nil, errors.New("chroma store embeds nothing: vectors are supplied by the caller")
}

func hnswSpace(metric storage.Metric) (string, error) {
	switch metric {
	case "", storage.MetricCosine:
		return "cosine", nil
	case storage.MetricDot:
		return "ip", nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", storage.ErrInvalidQuery, metric)
	}
}

func documentID(itemID, model string) chromago.DocumentID {
	return chromago.DocumentID(itemID + idSeparator + model)
}

func itemIDFromDocument(id string) string {
	if i := strings.LastIndex(id, idSeparator); i >= 0 {
		return id[:i]
	}
	return id
}

func documentMetadata(record *core.VectorRecord) chromago.DocumentMetadata {
	attrs := []*chromago.MetaAttribute{
		chromago.NewStringAttribute(metaItemID, record.ItemID),
		chromago.NewStringAttribute(metaEmbeddingModel, record.EmbeddingModel),
	}
	keys := make([]string, 0, len(record.Metadata))
	for k := range record.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, chromago.NewStringAttribute(k, record.Metadata[k]))
	}
	return chromago.NewDocumentMetadata(attrs...)
}

func whereClause(filter *storage.VectorFilter) chromago.WhereClause {
	if filter == nil {
		return nil
	}
	var clauses []chromago.WhereClause
	if filter.EmbeddingModel != "" {
		clauses = append(clauses, chromago.EqString(metaEmbeddingModel, filter.EmbeddingModel))
	}
	if filter.PatientID != "" {
		clauses = append(clauses, chromago.EqString(core.MetadataPatientID, filter.PatientID))
	}
	if filter.ItemType != "" {
		clauses = append(clauses, chromago.EqString(core.MetadataItemType, string(filter.ItemType)))
	}
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return chromago.And(clauses...)
	}
}

// toMatches converts Chroma distances to similarity scores, keeping the best
// score per item and ordering by score then item id.
func toMatches(ids []string, distances []float32, minScore float32) []core.SimilarityMatch {
	best := make(map[string]float32, len(ids))
	for i, id := range ids {
		if i >= len(distances) {
			break
		}
		score := distanceToScore(distances[i])
		if minScore != 0 && score < minScore {
			continue
		}
		itemID := itemIDFromDocument(id)
		if prev, ok := best[itemID]; !ok || score > prev {
			best[itemID] = score
		}
	}

	matches := make([]core.SimilarityMatch, 0, len(best))
	for id, score := range best {
		matches = append(matches, core.SimilarityMatch{ItemID: id, Score: score})
	}
	slices.SortFunc(matches, func(a, b core.SimilarityMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return matches
}

// Chroma reports cosine distance as 1-cos and inner product distance as 1-dot.
func distanceToScore(distance float32) float32 {
	return 1 - distance
}
