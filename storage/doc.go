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

// Package storage provides the storage abstraction layer for medfuse.
//
// This package defines the store interfaces that decouple the indexer and the
// query engine from concrete backends:
//
//   - VectorStore: item embeddings and similarity search
//   - GraphStore: extracted entities and co-occurrence relationships
//   - DocumentStore: indexed item copies and the keyword index
//   - CheckpointStore: durable per-item indexing state
//   - WatermarkStore: incremental sync high-water marks
//
// # Implementations
//
// The badger subpackage implements every store except CheckpointStore on an
// embedded BadgerDB. The sqlite subpackage implements CheckpointStore as a
// single table. The chroma and postgres subpackages offer external vector stores
// for larger deployments.
//
// # Write ordering
//
// The indexer writes vectors, entities and relationships before it marks an
// item completed. Vector inserts overwrite by (item id, model) and the graph is
// cleared per item before new entities are inserted, so replaying an item after
// a crash never duplicates data.
//
// # Serialization
//
// Values stored in key-value backends are encoded with MessagePack through the
// Marshal*/Unmarshal* helpers in this package.
//
// # Error Handling
//
// Stores return the sentinel errors defined in errors.go wrapped with %w.
// Callers should use errors.Is:
//
//	if errors.Is(err, storage.ErrDimensionMismatch) {
//	    // configuration problem, do not retry
//	}
package storage
