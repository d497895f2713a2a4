// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// WatermarkStore implements storage.WatermarkStore for BadgerDB.
type WatermarkStore struct {
	backend *Backend
}

var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// NewWatermarkStore creates a new WatermarkStore.
func NewWatermarkStore(backend *Backend) *WatermarkStore {
	return &WatermarkStore{
		backend: backend,
	}
}

// SaveWatermark persists a watermark by name.
func (r *WatermarkStore) SaveWatermark(ctx context.Context, watermark *core.Watermark) error {
	watermark.UpdatedAt = time.Now().UTC()
	value := storage.MarshalWatermark(watermark)
	return r.backend.update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeWatermarkKey(watermark.Name), value)
	})
}

// LoadWatermark retrieves the watermark for a name.
// Returns nil, nil if no watermark exists.
func (r *WatermarkStore) LoadWatermark(ctx context.Context, name string) (*core.Watermark, error) {
	var watermark *core.Watermark
	err := r.backend.view(ctx, func(tx *badger.Txn) error {
		data, err := readValue(tx, makeWatermarkKey(name))
		if err != nil || data == nil {
			return err
		}
		watermark, err = storage.UnmarshalWatermark(data)
		return err
	})
	return watermark, err
}
