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

import "errors"

var (
	// ErrInvalidSourceItem indicates a SourceItem failed validation.
	ErrInvalidSourceItem = errors.New("invalid source item")

	// ErrInvalidVectorRecord indicates a VectorRecord failed validation.
	ErrInvalidVectorRecord = errors.New("invalid vector record")

	// ErrInvalidEntity indicates an Entity failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidRelationship indicates a Relationship failed validation.
	ErrInvalidRelationship = errors.New("invalid relationship")

	// ErrEmptyItemID indicates the item identifier is missing.
	ErrEmptyItemID = errors.New("item id cannot be empty")

	// ErrEmptyPatientID indicates the patient identifier is missing.
	ErrEmptyPatientID = errors.New("patient id cannot be empty")

	// ErrInvalidItemType indicates an unknown ItemType value.
	ErrInvalidItemType = errors.New("invalid item type")

	// ErrEmptyContent indicates a text item has no text content.
	ErrEmptyContent = errors.New("text content cannot be empty")

	// ErrEmptyBinaryRef indicates an image item has no binary reference.
	ErrEmptyBinaryRef = errors.New("binary reference cannot be empty")

	// ErrUnexpectedContent indicates an item carries the payload of another item type.
	ErrUnexpectedContent = errors.New("item carries content for a different item type")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrEmptyEmbedding indicates a vector has no components.
	ErrEmptyEmbedding = errors.New("embedding cannot be empty")

	// ErrEmptyModel indicates the embedding model tag is missing.
	ErrEmptyModel = errors.New("embedding model cannot be empty")

	// ErrEmptyEntityText indicates the entity surface form is empty.
	ErrEmptyEntityText = errors.New("entity text cannot be empty")

	// ErrInvalidEntityType indicates an unknown EntityType value.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidConfidence indicates a confidence outside [0, 1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")

	// ErrSelfLoop indicates a relationship whose endpoints are the same entity.
	ErrSelfLoop = errors.New("relationship endpoints must differ")
)
