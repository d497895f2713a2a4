// Package postgres implements storage.VectorStore and storage.GraphStore on
// PostgreSQL with the pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const tableName = "medfuse_vectors"

// vectorRow is the table row for one (item, model) embedding.
type vectorRow struct {
	ItemID         string          `gorm:"column:item_id;primaryKey"`
	EmbeddingModel string          `gorm:"column:embedding_model;primaryKey"`
	Embedding      pgvector.Vector `gorm:"column:embedding;type:vector"`
	PatientID      string          `gorm:"column:patient_id;index"`
	ItemType       string          `gorm:"column:item_type"`
	ContentHash    string          `gorm:"column:content_hash"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
}

func (vectorRow) TableName() string {
	return tableName
}

// Store keeps item vectors in a single pgvector table.
type Store struct {
	db        *gorm.DB
	dimension int
	metric    storage.Metric
}

var _ storage.VectorStore = (*Store)(nil)

// Open connects to dsn and creates the vector table when missing.
func Open(ctx context.Context, dsn string, dimension int, metric storage.Metric) (*Store, error) {
	if dimension <= 0 {
		return nil, storage.ErrInvalidDimension
	}
	if metric == "" {
		metric = storage.MetricCosine
	}
	if _, err := distanceOperator(metric); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{db: db, dimension: dimension, metric: metric}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			item_id         TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			embedding       vector(%d) NOT NULL,
			patient_id      TEXT NOT NULL DEFAULT '',
			item_type       TEXT NOT NULL DEFAULT '',
			content_hash    TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (item_id, embedding_model)
		)`, tableName, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_patient ON %s (patient_id)`, tableName, tableName),
	}
	for _, stmt := range statements {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrating vector table: %w", err)
		}
	}
	return nil
}

// DB returns the connection so a GraphStore can share it.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertVector upserts the row for (ItemID, EmbeddingModel).
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

	row := toRow(record)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}, {Name: "embedding_model"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert vector for %s: %w", record.ItemID, classify(ctx, err))
	}
	return nil
}

// DeleteVectors removes every vector stored for an item.
func (s *Store) DeleteVectors(ctx context.Context, itemID string) error {
	return classify(ctx, s.db.WithContext(ctx).Where("item_id = ?", itemID).Delete(&vectorRow{}).Error)
}

// SearchSimilar ranks rows with the pgvector distance operator for the
// configured metric.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, topK int, filter *storage.VectorFilter) ([]core.SimilarityMatch, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", storage.ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}

	sql, args, err := buildSearchQuery(s.metric, pgvector.NewVector(query), topK, filter)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ItemID string
		Score  float32
	}
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", classify(ctx, err))
	}

	matches := make([]core.SimilarityMatch, len(rows))
	for i, r := range rows {
		matches[i] = core.SimilarityMatch{ItemID: r.ItemID, Score: r.Score}
	}
	return matches, nil
}

// retryableStates are SQLSTATE codes of failures that may succeed on retry.
var retryableStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// classify marks failures that may succeed on retry with storage.ErrUnavailable.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		if retryableStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
	case pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

func toRow(record *core.VectorRecord) vectorRow {
	return vectorRow{
		ItemID:         record.ItemID,
		EmbeddingModel: record.EmbeddingModel,
		Embedding:      pgvector.NewVector(record.Embedding),
		PatientID:      record.Metadata[core.MetadataPatientID],
		ItemType:       record.Metadata[core.MetadataItemType],
		ContentHash:    record.Metadata[core.MetadataContentHash],
		CreatedAt:      record.CreatedAt,
	}
}

// distanceOperator returns the score expression for a metric. <=> is cosine
// distance and <#> is negative inner product.
func distanceOperator(metric storage.Metric) (string, error) {
	switch metric {
	case storage.MetricCosine:
		return "1 - (embedding <=> ?)", nil
	case storage.MetricDot:
		return "(embedding <#> ?) * -1", nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", storage.ErrInvalidQuery, metric)
	}
}

func buildSearchQuery(metric storage.Metric, query pgvector.Vector, topK int, filter *storage.VectorFilter) (string, []any, error) {
	scoreExpr, err := distanceOperator(metric)
	if err != nil {
		return "", nil, err
	}
	if filter == nil {
		filter = &storage.VectorFilter{}
	}

	args := []any{query}
	var conds []string
	if filter.EmbeddingModel != "" {
		conds = append(conds, "embedding_model = ?")
		args = append(args, filter.EmbeddingModel)
	}
	if filter.PatientID != "" {
		conds = append(conds, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.ItemType != "" {
		conds = append(conds, "item_type = ?")
		args = append(args, string(filter.ItemType))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT item_id, MAX(score) AS score FROM (SELECT item_id, %s AS score FROM %s%s) scored", scoreExpr, tableName, where)
	if filter.MinScore != 0 {
		b.WriteString(" WHERE score >= ?")
		args = append(args, filter.MinScore)
	}
	b.WriteString(" GROUP BY item_id ORDER BY score DESC, item_id LIMIT ?")
	args = append(args, topK)
	return b.String(), args, nil
}
