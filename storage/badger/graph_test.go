package badger

import (
	"context"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entity(itemID string, t core.EntityType, text string) *core.Entity {
	return &core.Entity{
		EntityID:     core.EntityIDFor(itemID, t, text),
		Text:         text,
		Type:         t,
		SourceItemID: itemID,
		Confidence:   1.0,
	}
}

func coOccurs(a, b *core.Entity) *core.Relationship {
	return &core.Relationship{
		RelationshipID:   core.RelationshipIDFor(a.EntityID, b.EntityID, core.RelationshipCoOccurs),
		SourceEntityID:   a.EntityID,
		TargetEntityID:   b.EntityID,
		RelationshipType: core.RelationshipCoOccurs,
		SourceItemID:     a.SourceItemID,
		Confidence:       1.0,
	}
}

func TestGraphStore_InsertAndSearch(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	chestPain := entity("doc1", core.EntitySymptom, "Chest Pain")
	dyspnea := entity("doc1", core.EntitySymptom, "shortness of breath")
	chestWall := entity("doc3", core.EntityBodyPart, "chest wall")

	require.NoError(t, stores.Graph.InsertEntities(ctx, chestPain, dyspnea, chestWall))
	require.NoError(t, stores.Graph.InsertRelationships(ctx, coOccurs(chestPain, dyspnea)))

	found, err := stores.Graph.SearchEntitiesByText(ctx, "CHEST")
	require.NoError(t, err)
	require.Len(t, found, 2)
	items := []string{found[0].SourceItemID, found[1].SourceItemID}
	assert.ElementsMatch(t, []string{"doc1", "doc3"}, items)

	found, err = stores.Graph.SearchEntitiesByText(ctx, "breath")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "shortness of breath", found[0].Text)

	found, err = stores.Graph.SearchEntitiesByText(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, found)

	ents, err := stores.Graph.EntitiesForItem(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, ents, 2)

	rels, err := stores.Graph.RelationshipsForItem(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, chestPain.EntityID, rels[0].SourceEntityID)
}

func TestGraphStore_RejectsInvalid(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	err = stores.Graph.InsertEntities(ctx, &core.Entity{EntityID: "x", Text: "", Type: core.EntityOther, SourceItemID: "doc1"})
	assert.ErrorIs(t, err, core.ErrInvalidEntity)

	a := entity("doc1", core.EntitySymptom, "cough")
	err = stores.Graph.InsertRelationships(ctx, coOccurs(a, a))
	assert.ErrorIs(t, err, core.ErrSelfLoop)
}

func TestGraphStore_DeleteBySourceItem(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	a := entity("doc1", core.EntitySymptom, "chest pain")
	b := entity("doc1", core.EntityCondition, "pneumonia")
	other := entity("doc2", core.EntitySymptom, "chest pain")
	require.NoError(t, stores.Graph.InsertEntities(ctx, a, b, other))
	require.NoError(t, stores.Graph.InsertRelationships(ctx, coOccurs(a, b)))

	require.NoError(t, stores.Graph.DeleteBySourceItem(ctx, "doc1"))
	require.NoError(t, stores.Graph.DeleteBySourceItem(ctx, "doc1"), "deleting twice is not an error")

	ents, err := stores.Graph.EntitiesForItem(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, ents)

	rels, err := stores.Graph.RelationshipsForItem(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, rels)

	found, err := stores.Graph.SearchEntitiesByText(ctx, "pain")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "doc2", found[0].SourceItemID)
}

func TestGraphStore_ReinsertDoesNotDuplicate(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	a := entity("doc1", core.EntitySymptom, "fever")
	require.NoError(t, stores.Graph.InsertEntities(ctx, a))
	require.NoError(t, stores.Graph.InsertEntities(ctx, entity("doc1", core.EntitySymptom, "fever")))

	found, err := stores.Graph.SearchEntitiesByText(ctx, "fever")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestWatermarkStore(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	wm, err := stores.Watermarks.LoadWatermark(ctx, "index")
	require.NoError(t, err)
	assert.Nil(t, wm)

	saved := &core.Watermark{Name: "index"}
	saved.LastModified = saved.LastModified.AddDate(2024, 0, 0)
	require.NoError(t, stores.Watermarks.SaveWatermark(ctx, saved))
	assert.False(t, saved.UpdatedAt.IsZero())

	wm, err = stores.Watermarks.LoadWatermark(ctx, "index")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "index", wm.Name)
	assert.True(t, wm.LastModified.Equal(saved.LastModified))
}
