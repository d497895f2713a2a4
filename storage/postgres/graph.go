package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityRow struct {
	EntityID     string           `gorm:"column:entity_id;primaryKey"`
	Text         string           `gorm:"column:text;not null"`
	Type         string           `gorm:"column:type;not null"`
	SourceItemID string           `gorm:"column:source_item_id;not null;index"`
	Confidence   float64          `gorm:"column:confidence;not null"`
	Embedding    *pgvector.Vector `gorm:"column:embedding;type:vector"`
}

func (entityRow) TableName() string {
	return "medfuse_entities"
}

type entityTokenRow struct {
	Token    string `gorm:"column:token;primaryKey"`
	EntityID string `gorm:"column:entity_id;primaryKey;index"`
}

func (entityTokenRow) TableName() string {
	return "medfuse_entity_tokens"
}

type relationshipRow struct {
	RelationshipID   string  `gorm:"column:relationship_id;primaryKey"`
	SourceEntityID   string  `gorm:"column:source_entity_id;not null"`
	TargetEntityID   string  `gorm:"column:target_entity_id;not null"`
	RelationshipType string  `gorm:"column:relationship_type;not null"`
	SourceItemID     string  `gorm:"column:source_item_id;not null;index"`
	Confidence       float64 `gorm:"column:confidence;not null"`
}

func (relationshipRow) TableName() string {
	return "medfuse_relationships"
}

// GraphStore implements storage.GraphStore with three tables: entities, an
// entity token index and relationships.
type GraphStore struct {
	db *gorm.DB
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore migrates the graph tables on db. The caller owns db.
func NewGraphStore(ctx context.Context, db *gorm.DB) (*GraphStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&entityRow{}, &entityTokenRow{}, &relationshipRow{}); err != nil {
		return nil, fmt.Errorf("migrating graph tables: %w", err)
	}
	return &GraphStore{db: db}, nil
}

// Close is a no-op; the connection belongs to the vector Store.
func (g *GraphStore) Close() error {
	return nil
}

// InsertEntities upserts entities and rebuilds their token index rows.
func (g *GraphStore) InsertEntities(ctx context.Context, entities ...*core.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	for _, entity := range entities {
		if err := core.ValidateEntity(entity); err != nil {
			return err
		}
	}

	rows := make([]entityRow, len(entities))
	ids := make([]string, len(entities))
	var tokens []entityTokenRow
	for i, entity := range entities {
		rows[i] = toEntityRow(entity)
		ids[i] = entity.EntityID
		tokens = append(tokens, tokenRows(entity)...)
	}

	return classify(ctx, g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to upsert entities: %w", err)
		}
		if err := tx.Where("entity_id IN ?", ids).Delete(&entityTokenRow{}).Error; err != nil {
			return err
		}
		if len(tokens) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tokens).Error
	}))
}

// InsertRelationships upserts relationships by id.
func (g *GraphStore) InsertRelationships(ctx context.Context, relationships ...*core.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}
	rows := make([]relationshipRow, len(relationships))
	for i, rel := range relationships {
		if err := core.ValidateRelationship(rel); err != nil {
			return err
		}
		rows[i] = relationshipRow(*rel)
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "relationship_id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert relationships: %w", classify(ctx, err))
	}
	return nil
}

// SearchEntitiesByText returns entities having token among their text tokens,
// ordered by entity id.
func (g *GraphStore) SearchEntitiesByText(ctx context.Context, token string) ([]*core.Entity, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, nil
	}

	var rows []entityRow
	err := g.db.WithContext(ctx).
		Joins("JOIN medfuse_entity_tokens t ON t.entity_id = medfuse_entities.entity_id").
		Where("t.token = ?", token).
		Order("medfuse_entities.entity_id").
		Find(&rows).Error
	if err != nil {
		return nil, classify(ctx, err)
	}
	return fromEntityRows(rows), nil
}

// DeleteBySourceItem removes the entities, tokens and relationships of an item.
func (g *GraphStore) DeleteBySourceItem(ctx context.Context, itemID string) error {
	return classify(ctx, g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned := tx.Model(&entityRow{}).Select("entity_id").Where("source_item_id = ?", itemID)
		if err := tx.Where("entity_id IN (?)", owned).Delete(&entityTokenRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("source_item_id = ?", itemID).Delete(&entityRow{}).Error; err != nil {
			return err
		}
		return tx.Where("source_item_id = ?", itemID).Delete(&relationshipRow{}).Error
	}))
}

// EntitiesForItem returns the entities of an item ordered by entity id.
func (g *GraphStore) EntitiesForItem(ctx context.Context, itemID string) ([]*core.Entity, error) {
	var rows []entityRow
	err := g.db.WithContext(ctx).Where("source_item_id = ?", itemID).Order("entity_id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromEntityRows(rows), nil
}

// RelationshipsForItem returns the relationships of an item ordered by id.
func (g *GraphStore) RelationshipsForItem(ctx context.Context, itemID string) ([]*core.Relationship, error) {
	var rows []relationshipRow
	err := g.db.WithContext(ctx).Where("source_item_id = ?", itemID).Order("relationship_id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]*core.Relationship, len(rows))
	for i, row := range rows {
		rel := core.Relationship(row)
		results[i] = &rel
	}
	return results, nil
}

func toEntityRow(entity *core.Entity) entityRow {
	row := entityRow{
		EntityID:     entity.EntityID,
		Text:         entity.Text,
		Type:         string(entity.Type),
		SourceItemID: entity.SourceItemID,
		Confidence:   entity.Confidence,
	}
	if len(entity.Embedding) > 0 {
		vec := pgvector.NewVector(entity.Embedding)
		row.Embedding = &vec
	}
	return row
}

func fromEntityRows(rows []entityRow) []*core.Entity {
	entities := make([]*core.Entity, len(rows))
	for i, row := range rows {
		entity := &core.Entity{
			EntityID:     row.EntityID,
			Text:         row.Text,
			Type:         core.EntityType(row.Type),
			SourceItemID: row.SourceItemID,
			Confidence:   row.Confidence,
		}
		if row.Embedding != nil {
			entity.Embedding = row.Embedding.Slice()
		}
		entities[i] = entity
	}
	return entities
}

func tokenRows(entity *core.Entity) []entityTokenRow {
	tokens := core.UniqueTokens(entity.Text)
	rows := make([]entityTokenRow, len(tokens))
	for i, token := range tokens {
		rows[i] = entityTokenRow{Token: token, EntityID: entity.EntityID}
	}
	return rows
}
