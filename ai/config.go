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

package ai

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ProviderKind selects the embedding backend.
type ProviderKind string

const (
	// ProviderCompatible is any OpenAI-compatible server (Ollama's /v1, vLLM, LocalAI).
	ProviderCompatible ProviderKind = "compatible"
	// ProviderNIM is NVIDIA NIM, which speaks the OpenAI protocol with a bearer key.
	ProviderNIM ProviderKind = "nim"
	// ProviderOpenAI is the hosted OpenAI API.
	ProviderOpenAI ProviderKind = "openai"
	// ProviderOllama is Ollama's native API.
	ProviderOllama ProviderKind = "ollama"
)

// ProviderKinds lists every supported provider.
var ProviderKinds = []ProviderKind{ProviderCompatible, ProviderNIM, ProviderOpenAI, ProviderOllama}

const (
	defaultHost    = "http://localhost:11434/v1"
	openAIHost     = "https://api.openai.com/v1"
	nimHost        = "https://integrate.api.nvidia.com/v1"
	ollamaHost     = "http://localhost:11434"
	defaultModel   = "nomic-embed-text"
	defaultDim     = 768
	defaultRPM     = 600
	defaultMaxIn   = 8000
	defaultTimeout = 60 * time.Second
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the backend. Default: ProviderCompatible.
	Provider ProviderKind

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// APIKey authenticates against hosted providers. Required for nim and openai.
	APIKey string

	// Dimension is the expected embedding length. Vectors of any other
	// length are rejected by the vector store.
	Dimension int

	// ChatHost is the base URL for the chat model used for query expansion.
	// Defaults to EmbeddingHost.
	ChatHost string

	// ChatModel enables LLM query expansion when set.
	ChatModel string

	// MaxInputChars caps the characters sent per text. Longer inputs are truncated.
	MaxInputChars int

	// RequestsPerMinute limits embedding calls. Zero disables limiting.
	RequestsPerMinute int

	// Timeout bounds each embedding call.
	Timeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the provider kind.
func WithProvider(kind ProviderKind) ConfigOption {
	return func(c *Config) {
		c.Provider = kind
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithChatHost sets the chat service host URL.
func WithChatHost(host string) ConfigOption {
	return func(c *Config) {
		c.ChatHost = host
	}
}

// WithHost sets both embedding and chat hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.ChatHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithChatModel sets the chat model used for query expansion.
func WithChatModel(model string) ConfigOption {
	return func(c *Config) {
		c.ChatModel = model
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithDimension sets the expected embedding dimension.
func WithDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.Dimension = dim
	}
}

// WithMaxInputChars sets the per-text character cap.
func WithMaxInputChars(n int) ConfigOption {
	return func(c *Config) {
		c.MaxInputChars = n
	}
}

// WithRequestsPerMinute sets the embedding rate limit.
func WithRequestsPerMinute(rpm int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerMinute = rpm
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// DefaultConfig returns a Config for a local OpenAI-compatible server.
func DefaultConfig() *Config {
	return &Config{
		Provider:          ProviderCompatible,
		EmbeddingHost:     defaultHost,
		EmbeddingModel:    defaultModel,
		Dimension:         defaultDim,
		MaxInputChars:     defaultMaxIn,
		RequestsPerMinute: defaultRPM,
		Timeout:           defaultTimeout,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithProvider(ProviderNIM),
//	    WithAPIKey(os.Getenv("MEDFUSE_API_KEY")),
//	    WithEmbeddingModel("nvidia/nv-embedqa-e5-v5"),
//	    WithDimension(1024),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize puts the configuration in canonical form.
// OpenAI-protocol hosts get a /v1 suffix, Ollama hosts lose it, and hosted
// providers get their public endpoint when no host is set.
func (c *Config) Normalize() {
	if c.Provider == "" {
		c.Provider = ProviderCompatible
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.EmbeddingHost == "" || c.EmbeddingHost == defaultHost {
			c.EmbeddingHost = openAIHost
		}
	case ProviderNIM:
		if c.EmbeddingHost == "" || c.EmbeddingHost == defaultHost {
			c.EmbeddingHost = nimHost
		}
	case ProviderOllama:
		if c.EmbeddingHost == "" || c.EmbeddingHost == defaultHost {
			c.EmbeddingHost = ollamaHost
		}
	}

	if c.ChatHost == "" {
		c.ChatHost = c.EmbeddingHost
	}

	if c.Provider == ProviderOllama {
		c.EmbeddingHost = trimV1(c.EmbeddingHost)
		c.ChatHost = trimV1(c.ChatHost)
		return
	}
	c.EmbeddingHost = ensureV1(c.EmbeddingHost)
	c.ChatHost = ensureV1(c.ChatHost)
}

func ensureV1(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

func trimV1(host string) string {
	host = strings.TrimSuffix(host, "/")
	return strings.TrimSuffix(host, "/v1")
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if !slices.Contains(ProviderKinds, c.Provider) {
		return fmt.Errorf("ai config: unknown provider %q", c.Provider)
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if (c.Provider == ProviderNIM || c.Provider == ProviderOpenAI) && c.APIKey == "" {
		return fmt.Errorf("ai config: APIKey is required for provider %s", c.Provider)
	}
	if c.Dimension <= 0 {
		return errors.New("ai config: Dimension must be positive")
	}
	if c.MaxInputChars <= 0 {
		return errors.New("ai config: MaxInputChars must be positive")
	}
	if c.RequestsPerMinute < 0 {
		return errors.New("ai config: RequestsPerMinute must not be negative")
	}
	if c.Timeout <= 0 {
		return errors.New("ai config: Timeout must be positive")
	}
	return nil
}

// Token returns the bearer token to send. Local servers accept any value.
func (c *Config) Token() string {
	if c.APIKey == "" {
		return "none"
	}
	return c.APIKey
}
