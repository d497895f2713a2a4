package ai

import "context"

// Embedder generates vector embeddings for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in one call.
	// The returned slice contains embeddings in the same order as the input texts.
	// When only some inputs fail the error is a *BatchError naming them and
	// the returned slice still holds the vectors of the other inputs.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedImage generates an embedding for the image at ref (a path or URL).
	// Providers without vision support return ErrImagesUnsupported.
	EmbedImage(ctx context.Context, ref string) ([]float32, error)

	// ModelName identifies the model that produced the vectors.
	ModelName() string
}

// QueryExpander rewrites a search query into extra clinical terms
// (synonyms, abbreviations, lay terms) used by keyword and graph search.
// Implementations must be thread-safe for concurrent use.
type QueryExpander interface {
	// ExpandQuery returns additional lowercase terms for query.
	// Returns an empty slice when the model has nothing to add.
	ExpandQuery(ctx context.Context, query string) ([]string, error)
}

// Provider aggregates AI services for convenient initialization and lifecycle management.
type Provider interface {
	// Embedder returns the embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// QueryExpander returns the query expansion service, or nil when no chat
	// model is configured.
	QueryExpander() QueryExpander

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
