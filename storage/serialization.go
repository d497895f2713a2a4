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

package storage

import (
	"fmt"

	"github.com/poiesic/medfuse/core"
)

func unmarshalFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
}

// MarshalSourceItem serializes a SourceItem to bytes.
func MarshalSourceItem(item *core.SourceItem) []byte {
	buf := make([]byte, core.SourceItemMUS.Size(*item))
	core.SourceItemMUS.Marshal(*item, buf)
	return buf
}

// UnmarshalSourceItem deserializes a SourceItem from bytes.
func UnmarshalSourceItem(data []byte) (*core.SourceItem, error) {
	item, _, err := core.SourceItemMUS.Unmarshal(data)
	if err != nil {
		return nil, unmarshalFailed(err)
	}
	return &item, nil
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(record *core.VectorRecord) []byte {
	buf := make([]byte, core.VectorRecordMUS.Size(*record))
	core.VectorRecordMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*core.VectorRecord, error) {
	record, _, err := core.VectorRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, unmarshalFailed(err)
	}
	return &record, nil
}

// MarshalEntity serializes an Entity to bytes.
func MarshalEntity(entity *core.Entity) []byte {
	buf := make([]byte, core.EntityMUS.Size(*entity))
	core.EntityMUS.Marshal(*entity, buf)
	return buf
}

// UnmarshalEntity deserializes an Entity from bytes.
func UnmarshalEntity(data []byte) (*core.Entity, error) {
	entity, _, err := core.EntityMUS.Unmarshal(data)
	if err != nil {
		return nil, unmarshalFailed(err)
	}
	return &entity, nil
}

// MarshalRelationship serializes a Relationship to bytes.
func MarshalRelationship(rel *core.Relationship) []byte {
	buf := make([]byte, core.RelationshipMUS.Size(*rel))
	core.RelationshipMUS.Marshal(*rel, buf)
	return buf
}

// UnmarshalRelationship deserializes a Relationship from bytes.
func UnmarshalRelationship(data []byte) (*core.Relationship, error) {
	rel, _, err := core.RelationshipMUS.Unmarshal(data)
	if err != nil {
		return nil, unmarshalFailed(err)
	}
	return &rel, nil
}

// MarshalWatermark serializes a Watermark to bytes.
func MarshalWatermark(watermark *core.Watermark) []byte {
	buf := make([]byte, core.WatermarkMUS.Size(*watermark))
	core.WatermarkMUS.Marshal(*watermark, buf)
	return buf
}

// UnmarshalWatermark deserializes a Watermark from bytes.
func UnmarshalWatermark(data []byte) (*core.Watermark, error) {
	watermark, _, err := core.WatermarkMUS.Unmarshal(data)
	if err != nil {
		return nil, unmarshalFailed(err)
	}
	return &watermark, nil
}
