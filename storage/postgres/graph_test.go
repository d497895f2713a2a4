package postgres

import (
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
)

func TestEntityRowRoundTrip(t *testing.T) {
	entity := &core.Entity{
		EntityID:     "e1",
		Text:         "Chest Pain",
		Type:         core.EntitySymptom,
		SourceItemID: "doc1",
		Confidence:   1,
		Embedding:    []float32{0.1, 0.2},
	}

	row := toEntityRow(entity)
	assert.Equal(t, "SYMPTOM", row.Type)
	assert.NotNil(t, row.Embedding)
	assert.Equal(t, "medfuse_entities", row.TableName())

	back := fromEntityRows([]entityRow{row})
	assert.Equal(t, []*core.Entity{entity}, back)

	entity.Embedding = nil
	row = toEntityRow(entity)
	assert.Nil(t, row.Embedding)
	assert.Nil(t, fromEntityRows([]entityRow{row})[0].Embedding)
}

func TestTokenRows(t *testing.T) {
	rows := tokenRows(&core.Entity{EntityID: "e1", Text: "Pain in the chest, chest pain"})
	assert.Equal(t, []entityTokenRow{
		{Token: "pain", EntityID: "e1"},
		{Token: "chest", EntityID: "e1"},
	}, rows)
}

func TestRelationshipRowConversion(t *testing.T) {
	rel := core.Relationship{
		RelationshipID:   "r1",
		SourceEntityID:   "a",
		TargetEntityID:   "b",
		RelationshipType: core.RelationshipCoOccurs,
		SourceItemID:     "doc1",
		Confidence:       0.7,
	}
	row := relationshipRow(rel)
	assert.Equal(t, "medfuse_relationships", row.TableName())
	assert.Equal(t, rel, core.Relationship(row))
}
