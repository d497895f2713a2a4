package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderCompatible, cfg.Provider)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 768, cfg.Dimension)
	assert.Equal(t, 8000, cfg.MaxInputChars)
	assert.Equal(t, 600, cfg.RequestsPerMinute)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.ChatModel)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, 768, cfg.Dimension)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.ChatHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithChatHost("http://chat:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://chat:9090/v1", cfg.ChatHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithProvider(ProviderNIM),
			WithAPIKey("secret"),
			WithEmbeddingModel("nvidia/nv-embedqa-e5-v5"),
			WithChatModel("meta/llama-3.1-8b-instruct"),
			WithDimension(1024),
			WithMaxInputChars(2000),
			WithRequestsPerMinute(40),
			WithTimeout(5*time.Second),
		)

		assert.Equal(t, ProviderNIM, cfg.Provider)
		assert.Equal(t, "secret", cfg.APIKey)
		assert.Equal(t, "nvidia/nv-embedqa-e5-v5", cfg.EmbeddingModel)
		assert.Equal(t, "meta/llama-3.1-8b-instruct", cfg.ChatModel)
		assert.Equal(t, 1024, cfg.Dimension)
		assert.Equal(t, 2000, cfg.MaxInputChars)
		assert.Equal(t, 40, cfg.RequestsPerMinute)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name          string
		provider      ProviderKind
		embeddingHost string
		chatHost      string
		expectedEmbed string
		expectedChat  string
	}{
		{
			name:          "already has /v1",
			provider:      ProviderCompatible,
			embeddingHost: "http://localhost:11434/v1",
			expectedEmbed: "http://localhost:11434/v1",
			expectedChat:  "http://localhost:11434/v1",
		},
		{
			name:          "missing /v1",
			provider:      ProviderCompatible,
			embeddingHost: "http://localhost:11434",
			chatHost:      "http://localhost:11434",
			expectedEmbed: "http://localhost:11434/v1",
			expectedChat:  "http://localhost:11434/v1",
		},
		{
			name:          "has trailing slash",
			provider:      ProviderCompatible,
			embeddingHost: "http://localhost:11434/",
			expectedEmbed: "http://localhost:11434/v1",
			expectedChat:  "http://localhost:11434/v1",
		},
		{
			name:          "empty hosts",
			expectedEmbed: "",
			expectedChat:  "",
		},
		{
			name:          "different formats",
			provider:      ProviderCompatible,
			embeddingHost: "http://embed:8080",
			chatHost:      "http://chat:9090/v1",
			expectedEmbed: "http://embed:8080/v1",
			expectedChat:  "http://chat:9090/v1",
		},
		{
			name:          "ollama strips /v1",
			provider:      ProviderOllama,
			embeddingHost: "http://gpu-box:11434/v1/",
			expectedEmbed: "http://gpu-box:11434",
			expectedChat:  "http://gpu-box:11434",
		},
		{
			name:          "openai default endpoint",
			provider:      ProviderOpenAI,
			expectedEmbed: "https://api.openai.com/v1",
			expectedChat:  "https://api.openai.com/v1",
		},
		{
			name:          "nim replaces local default",
			provider:      ProviderNIM,
			embeddingHost: "http://localhost:11434/v1",
			expectedEmbed: "https://integrate.api.nvidia.com/v1",
			expectedChat:  "https://integrate.api.nvidia.com/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Provider:      tt.provider,
				EmbeddingHost: tt.embeddingHost,
				ChatHost:      tt.chatHost,
			}

			cfg.Normalize()

			assert.Equal(t, tt.expectedEmbed, cfg.EmbeddingHost)
			assert.Equal(t, tt.expectedChat, cfg.ChatHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Provider:       ProviderCompatible,
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			Dimension:      768,
			MaxInputChars:  8000,
			Timeout:        time.Second,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()

		err := cfg.Validate()
		assert.NoError(t, err)

		// Should also normalize
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "bedrock" }, "provider"},
		{"missing embedding model", func(c *Config) { c.EmbeddingModel = "" }, "EmbeddingModel"},
		{"zero dimension", func(c *Config) { c.Dimension = 0 }, "Dimension"},
		{"zero max input", func(c *Config) { c.MaxInputChars = 0 }, "MaxInputChars"},
		{"negative rpm", func(c *Config) { c.RequestsPerMinute = -1 }, "RequestsPerMinute"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "Timeout"},
		{"nim without key", func(c *Config) { c.Provider = ProviderNIM }, "APIKey"},
		{"openai without key", func(c *Config) { c.Provider = ProviderOpenAI }, "APIKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("ollama needs no key", func(t *testing.T) {
		cfg := valid()
		cfg.Provider = ProviderOllama
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigToken(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "none", cfg.Token())

	cfg.APIKey = "k"
	assert.Equal(t, "k", cfg.Token())
}

func TestConfigValidate_Integration(t *testing.T) {
	cfg := NewConfig()
	err := cfg.Validate()
	require.NoError(t, err)

	cfg = DefaultConfig()
	err = cfg.Validate()
	require.NoError(t, err)
}
