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

// Package search answers clinical queries by fusing three independent
// rankings of indexed items:
//   - vector similarity between the query embedding and item embeddings
//   - keyword overlap between query tokens and item text
//   - graph matches between query tokens and extracted entities
//
// The rankings are combined with Reciprocal Rank Fusion. Each item scores
// the sum of 1/(k + rank) over the lists it appears in, so an item found
// by several modalities outranks one found by a single modality at the
// same rank.
//
// Patient and document type filters are applied after fusion. A modality
// that fails is dropped and the response is marked degraded; Query only
// returns an error for invalid input.
package search
