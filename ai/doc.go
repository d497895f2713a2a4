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

// Package ai provides abstractions for the model services used by medfuse.
//
// This package defines interfaces for embedding generation and optional LLM
// query expansion so the indexer and query engine depend on abstractions
// rather than on a particular provider.
//
// # Interfaces
//
//   - Embedder: text and image embeddings, batch aware
//   - QueryExpander: clinical synonym expansion for search queries
//   - Provider: aggregates the services for initialization and shutdown
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible servers and NVIDIA NIM through langchaingo
//   - ai/ollama: Ollama's native API through langchaingo
//   - ai/openaisdk: the hosted OpenAI API through go-openai
//   - ai/mock: test doubles with injectable behavior
//
// # Errors
//
// Provider failures are reported as *ProviderError carrying the HTTP status
// when known. A 429 matches ErrRateLimited with errors.Is. IsTransient
// decides whether a caller should retry. A batch call where only some
// inputs failed returns *BatchError so callers can fail those items alone.
//
// # Rate limiting
//
// LimitedEmbedder puts a shared token bucket and a per-call timeout in front
// of any Embedder. A batch call consumes one token.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text"))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder := ai.NewLimitedEmbedder(provider.Embedder(), cfg.RequestsPerMinute, cfg.Timeout)
//	vectors, err := embedder.EmbedTexts(ctx, []string{"chest pain", "dyspnea"})
package ai
