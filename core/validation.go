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

package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateSourceItem checks that an item carries every field required by its type.
// Text items need non-blank text and no binary reference; images need a binary
// reference and no text.
func ValidateSourceItem(item *SourceItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidSourceItem)
	}

	if strings.TrimSpace(item.ItemID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrEmptyItemID)
	}

	if strings.TrimSpace(item.PatientID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrEmptyPatientID)
	}

	if err := ValidateItemType(item.ItemType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSourceItem, err)
	}

	if item.ItemType.HasText() {
		if strings.TrimSpace(item.TextContent) == "" {
			return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrEmptyContent)
		}
		if item.BinaryRef != "" {
			return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrUnexpectedContent)
		}
	} else {
		if strings.TrimSpace(item.BinaryRef) == "" {
			return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrEmptyBinaryRef)
		}
		if item.TextContent != "" {
			return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrUnexpectedContent)
		}
	}

	if !item.LastModified.IsZero() && !IsValidTimestamp(item.LastModified) {
		return fmt.Errorf("%w: %w", ErrInvalidSourceItem, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateItemType ensures the item type is one of the known values.
func ValidateItemType(t ItemType) error {
	for _, known := range ItemTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("%w: value %q", ErrInvalidItemType, t)
}

// ValidateVectorRecord checks a vector record before it is handed to a store.
// Dimension checks belong to the store, which owns the configured dimension.
func ValidateVectorRecord(record *VectorRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidVectorRecord)
	}
	if record.ItemID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidVectorRecord, ErrEmptyItemID)
	}
	if len(record.Embedding) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidVectorRecord, ErrEmptyEmbedding)
	}
	if record.EmbeddingModel == "" {
		return fmt.Errorf("%w: %w", ErrInvalidVectorRecord, ErrEmptyModel)
	}
	return nil
}

func ValidateEntity(entity *Entity) error {
	if entity == nil {
		return fmt.Errorf("%w: entity is nil", ErrInvalidEntity)
	}
	if strings.TrimSpace(entity.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrEmptyEntityText)
	}
	if err := ValidateEntityType(entity.Type); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	if entity.SourceItemID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrEmptyItemID)
	}
	if !validConfidence(entity.Confidence) {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, ErrInvalidConfidence)
	}
	return nil
}

func ValidateEntityType(t EntityType) error {
	for _, known := range EntityTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("%w: value %q", ErrInvalidEntityType, t)
}

func ValidateRelationship(rel *Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is nil", ErrInvalidRelationship)
	}
	if rel.SourceEntityID == "" || rel.TargetEntityID == "" {
		return fmt.Errorf("%w: endpoints are required", ErrInvalidRelationship)
	}
	if rel.SourceEntityID == rel.TargetEntityID {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrSelfLoop)
	}
	if rel.SourceItemID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrEmptyItemID)
	}
	if !validConfidence(rel.Confidence) {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrInvalidConfidence)
	}
	return nil
}

// IsValidTimestamp checks that a timestamp is not in the future.
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}
