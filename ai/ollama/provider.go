// Package ollama implements the ai interfaces on Ollama's native API through
// langchaingo.
package ollama

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/medfuse/ai"
	aiopenai "github.com/poiesic/medfuse/ai/openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

const providerName = "ollama"

// Embedder implements ai.Embedder with an Ollama embedding model.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config) (*Embedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(config.EmbeddingModel),
		ollama.WithServerURL(config.EmbeddingHost),
	)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger:   slog.Default().With("component", "ollama-embedder"),
	}, nil
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, ai.ClassifyHTTPError(providerName, err)
	}
	return vector, nil
}

// EmbedTexts embeds texts in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, ai.ClassifyHTTPError(providerName, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ai.ErrCountMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedImage is not supported by Ollama embedding models.
func (e *Embedder) EmbedImage(ctx context.Context, ref string) ([]float32, error) {
	return nil, ai.ErrImagesUnsupported
}

// ModelName returns the configured embedding model.
func (e *Embedder) ModelName() string {
	return e.model
}

// Provider implements ai.Provider for Ollama.
type Provider struct {
	embedder *Embedder
	expander ai.QueryExpander
	logger   *slog.Logger
}

// NewProvider creates the Ollama embedder and, when a chat model is
// configured, a JSON-mode query expander.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		embedder: embedder,
		logger:   slog.Default().With("component", "ollama-provider"),
	}
	if config.ChatModel != "" {
		chat, err := ollama.New(
			ollama.WithModel(config.ChatModel),
			ollama.WithServerURL(config.ChatHost),
			ollama.WithFormat("json"),
		)
		if err != nil {
			return nil, err
		}
		p.expander = aiopenai.NewModelExpander(chat)
	}
	return p, nil
}

// Embedder returns the embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// QueryExpander returns the query expansion service, or nil.
func (p *Provider) QueryExpander() ai.QueryExpander {
	return p.expander
}

// Close is a no-op; the HTTP clients need no cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing Ollama provider")
	return nil
}
