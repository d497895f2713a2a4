// Package openaisdk implements ai.Embedder on the hosted OpenAI API using
// the go-openai client, which exposes typed API errors with status codes.
package openaisdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/medfuse/ai"
	aiopenai "github.com/poiesic/medfuse/ai/openai"
	openai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Embedder implements ai.Embedder with the OpenAI embeddings endpoint.
type Embedder struct {
	client    *openai.Client
	model     string
	dimension int
	logger    *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config) *Embedder {
	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.EmbeddingHost
	return &Embedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.EmbeddingModel,
		dimension: config.Dimension,
		logger:    slog.Default().With("component", "openaisdk-embedder"),
	}
}

// NewEmbedder creates an embedder for the hosted OpenAI API.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newEmbedder(config), nil
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in one request, reordering the response by index.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	resp, err := e.client.CreateEmbeddings(ctx, e.request(texts))
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, ai.ErrEmptyResponse
	}
	return collect(resp.Data, len(texts))
}

// EmbedImage is not supported by the OpenAI embeddings endpoint.
func (e *Embedder) EmbedImage(ctx context.Context, ref string) ([]float32, error) {
	return nil, ai.ErrImagesUnsupported
}

// ModelName returns the configured embedding model.
func (e *Embedder) ModelName() string {
	return e.model
}

func (e *Embedder) request(texts []string) openai.EmbeddingRequest {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a shortened dimension
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dimension
	}
	return req
}

func collect(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ai.ErrCountMismatch, len(data), want)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vectors := make([][]float32, want)
	for i, d := range data {
		if d.Index != i {
			return nil, fmt.Errorf("%w: missing index %d", ai.ErrCountMismatch, i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ai.ProviderError{Provider: providerName, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ai.ProviderError{Provider: providerName, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return ai.ClassifyHTTPError(providerName, err)
}

// Provider implements ai.Provider for the hosted OpenAI API.
type Provider struct {
	embedder *Embedder
	expander ai.QueryExpander
}

// NewProvider creates the embedder and, when a chat model is configured, a
// query expander on the same endpoint.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{embedder: newEmbedder(config)}
	if config.ChatModel != "" {
		expander, err := aiopenai.NewQueryExpander(config)
		if err != nil {
			return nil, err
		}
		p.expander = expander
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

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
