package badger

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// DocumentStore implements storage.DocumentStore for BadgerDB.
// Each document is indexed by its distinct text tokens and its LastModified time.
type DocumentStore struct {
	backend *Backend
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(backend *Backend) *DocumentStore {
	return &DocumentStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *DocumentStore) Close() error {
	return nil
}

// PutDocuments stores items and rebuilds their keyword postings.
func (s *DocumentStore) PutDocuments(ctx context.Context, items ...*core.SourceItem) error {
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		for _, item := range items {
			key := makeDocumentKey(item.ItemID)

			old, err := s.readDocument(tx, key)
			if err != nil {
				return err
			}
			if old != nil {
				if err := s.deleteIndexes(tx, old); err != nil {
					return err
				}
			}

			value := storage.MarshalSourceItem(item)
			if err := tx.Set(key, value); err != nil {
				return err
			}
			for _, token := range core.UniqueTokens(item.TextContent) {
				if err := tx.Set(makeDocumentTokenKey(token, item.ItemID), nil); err != nil {
					return err
				}
			}
			if err := tx.Set(makeDocumentModKey(item.LastModified, item.ItemID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDocument removes an item and its postings. Missing items are ignored.
func (s *DocumentStore) DeleteDocument(ctx context.Context, itemID string) error {
	return s.backend.update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(itemID)
		old, err := s.readDocument(tx, key)
		if err != nil || old == nil {
			return err
		}
		if err := s.deleteIndexes(tx, old); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}

// GetDocuments retrieves items by id, skipping ids that are not stored.
func (s *DocumentStore) GetDocuments(ctx context.Context, ids ...string) ([]*core.SourceItem, error) {
	results := make([]*core.SourceItem, 0, len(ids))
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			item, err := s.readDocument(tx, makeDocumentKey(id))
			if err != nil {
				return err
			}
			if item != nil {
				results = append(results, item)
			}
		}
		return nil
	})
	return results, err
}

// SearchKeywords counts distinct matching tokens per item.
func (s *DocumentStore) SearchKeywords(ctx context.Context, tokens []string, limit int) ([]core.KeywordMatch, error) {
	counts := make(map[string]int)
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		seen := make(map[string]bool, len(tokens))
		for _, token := range tokens {
			token = strings.ToLower(strings.TrimSpace(token))
			if token == "" || seen[token] {
				continue
			}
			seen[token] = true

			prefix := makeDocumentTokenPrefix(token)
			for _, key := range scanKeys(tx, prefix) {
				counts[suffixAfter(key, prefix)]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]core.KeywordMatch, 0, len(counts))
	for id, n := range counts {
		matches = append(matches, core.KeywordMatch{ItemID: id, Matched: n})
	}
	slices.SortFunc(matches, func(a, b core.KeywordMatch) int {
		if a.Matched != b.Matched {
			return b.Matched - a.Matched
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// LatestModified returns the newest LastModified among stored documents.
func (s *DocumentStore) LatestModified(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := s.backend.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentModPrefix)
		opts.PrefetchValues = false
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse iteration must start past the last key under the prefix
		iter.Seek(append([]byte(documentModPrefix), 0xFF))
		if iter.Valid() {
			if ts, ok := parseDocumentModKey(iter.Item().Key()); ok {
				latest = ts
			}
		}
		return nil
	})
	return latest, err
}

// deleteIndexes removes the keyword postings and last-modified entry of a stored item.
func (s *DocumentStore) deleteIndexes(tx *badger.Txn, item *core.SourceItem) error {
	for _, token := range core.UniqueTokens(item.TextContent) {
		if err := tx.Delete(makeDocumentTokenKey(token, item.ItemID)); err != nil {
			return err
		}
	}
	return tx.Delete(makeDocumentModKey(item.LastModified, item.ItemID))
}

// readDocument reads a document by key. Returns nil, nil if it doesn't exist.
func (s *DocumentStore) readDocument(tx *badger.Txn, key []byte) (*core.SourceItem, error) {
	data, err := readValue(tx, key)
	if err != nil || data == nil {
		return nil, err
	}
	return storage.UnmarshalSourceItem(data)
}
