// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.QueryExpander
// and ai.Provider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	embedder := mock.NewMockEmbedderWithDimension(16)
//	vectors, err := embedder.EmbedTexts(ctx, []string{"chest pain"})
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, &ai.ProviderError{Provider: "mock", StatusCode: 503, Err: errors.New("down")}
//	}
//
//	// Check call counts
//	count := embedder.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: bag-of-words vectors, so texts sharing words are similar
//   - MockQueryExpander: answers from a fixed synonym table
//   - MockProvider: aggregates a mock embedder and an optional expander
package mock
