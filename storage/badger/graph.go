package badger

import (
	"context"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// GraphStore implements storage.GraphStore for BadgerDB.
// Entities are indexed by source item and by every token of their text.
type GraphStore struct {
	backend *Backend
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore creates a new GraphStore.
func NewGraphStore(backend *Backend) *GraphStore {
	return &GraphStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *GraphStore) Close() error {
	return nil
}

// InsertEntities stores entities and their item and token indexes.
func (s *GraphStore) InsertEntities(ctx context.Context, entities ...*core.Entity) error {
	for _, entity := range entities {
		if err := core.ValidateEntity(entity); err != nil {
			return err
		}
	}
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		for _, entity := range entities {
			key := makeEntityKey(entity.EntityID)
			old, err := readEntity(tx, key)
			if err != nil {
				return err
			}
			if old != nil {
				if err := deleteEntityIndexes(tx, old); err != nil {
					return err
				}
			}

			value := storage.MarshalEntity(entity)
			if err := tx.Set(key, value); err != nil {
				return err
			}
			if err := tx.Set(makeEntityItemKey(entity.SourceItemID, entity.EntityID), nil); err != nil {
				return err
			}
			for _, token := range core.UniqueTokens(entity.Text) {
				if err := tx.Set(makeEntityTokenKey(token, entity.EntityID), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// InsertRelationships stores relationships and their item index.
func (s *GraphStore) InsertRelationships(ctx context.Context, relationships ...*core.Relationship) error {
	for _, rel := range relationships {
		if err := core.ValidateRelationship(rel); err != nil {
			return err
		}
	}
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		for _, rel := range relationships {
			value := storage.MarshalRelationship(rel)
			if err := tx.Set(makeRelationKey(rel.RelationshipID), value); err != nil {
				return err
			}
			if err := tx.Set(makeRelationItemKey(rel.SourceItemID, rel.RelationshipID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchEntitiesByText returns entities having token among their text tokens,
// ordered by entity id.
func (s *GraphStore) SearchEntitiesByText(ctx context.Context, token string) ([]*core.Entity, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, nil
	}

	var results []*core.Entity
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		prefix := makeEntityTokenPrefix(token)
		for _, key := range scanKeys(tx, prefix) {
			entity, err := readEntity(tx, makeEntityKey(suffixAfter(key, prefix)))
			if err != nil {
				return err
			}
			if entity != nil {
				results = append(results, entity)
			}
		}
		return nil
	})
	return results, err
}

// DeleteBySourceItem removes every entity and relationship extracted from an item.
func (s *GraphStore) DeleteBySourceItem(ctx context.Context, itemID string) error {
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		prefix := makeEntityItemPrefix(itemID)
		for _, key := range scanKeys(tx, prefix) {
			entityKey := makeEntityKey(suffixAfter(key, prefix))
			entity, err := readEntity(tx, entityKey)
			if err != nil {
				return err
			}
			if entity != nil {
				if err := deleteEntityIndexes(tx, entity); err != nil {
					return err
				}
				if err := tx.Delete(entityKey); err != nil {
					return err
				}
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}

		relPrefix := makeRelationItemPrefix(itemID)
		for _, key := range scanKeys(tx, relPrefix) {
			if err := tx.Delete(makeRelationKey(suffixAfter(key, relPrefix))); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// EntitiesForItem returns the entities of an item ordered by entity id.
func (s *GraphStore) EntitiesForItem(ctx context.Context, itemID string) ([]*core.Entity, error) {
	var results []*core.Entity
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		prefix := makeEntityItemPrefix(itemID)
		for _, key := range scanKeys(tx, prefix) {
			entity, err := readEntity(tx, makeEntityKey(suffixAfter(key, prefix)))
			if err != nil {
				return err
			}
			if entity != nil {
				results = append(results, entity)
			}
		}
		return nil
	})
	return results, err
}

// RelationshipsForItem returns the relationships of an item ordered by id.
func (s *GraphStore) RelationshipsForItem(ctx context.Context, itemID string) ([]*core.Relationship, error) {
	var results []*core.Relationship
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		prefix := makeRelationItemPrefix(itemID)
		for _, key := range scanKeys(tx, prefix) {
			data, err := readValue(tx, makeRelationKey(suffixAfter(key, prefix)))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			rel, err := storage.UnmarshalRelationship(data)
			if err != nil {
				return err
			}
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(results, func(a, b *core.Relationship) int {
		return strings.Compare(a.RelationshipID, b.RelationshipID)
	})
	return results, nil
}

// deleteEntityIndexes removes the item and token index entries of an entity.
func deleteEntityIndexes(tx *badger.Txn, entity *core.Entity) error {
	if err := tx.Delete(makeEntityItemKey(entity.SourceItemID, entity.EntityID)); err != nil {
		return err
	}
	for _, token := range core.UniqueTokens(entity.Text) {
		if err := tx.Delete(makeEntityTokenKey(token, entity.EntityID)); err != nil {
			return err
		}
	}
	return nil
}

// readEntity reads an entity by key. Returns nil, nil if it doesn't exist.
func readEntity(tx *badger.Txn, key []byte) (*core.Entity, error) {
	data, err := readValue(tx, key)
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalEntity(data)
}
