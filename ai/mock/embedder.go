package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
)

// DefaultDimension is the vector length produced by NewMockEmbedder.
const DefaultDimension = 64

// DefaultModel is the model name reported by mock embedders.
const DefaultModel = "mock-embed"

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedImageFunc is called by EmbedImage if set.
	// If nil, the image reference is embedded like text.
	EmbedImageFunc func(ctx context.Context, ref string) ([]float32, error)

	// Model is reported by ModelName.
	Model string

	dimension int
	mu        sync.Mutex
	callCount int
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior
// and DefaultDimension-length vectors.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return NewMockEmbedderWithDimension(DefaultDimension)
}

// NewMockEmbedderWithDimension creates a mock embedder producing vectors of dim.
func NewMockEmbedderWithDimension(dim int) *MockEmbedder {
	return &MockEmbedder{Model: DefaultModel, dimension: dim}
}

// EmbedText generates a deterministic bag-of-words embedding.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.count()

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return BagOfWords(text, m.dimension), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.count()

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = BagOfWords(text, m.dimension)
	}
	return embeddings, nil
}

// EmbedImage embeds the reference string unless EmbedImageFunc is set.
func (m *MockEmbedder) EmbedImage(ctx context.Context, ref string) ([]float32, error) {
	m.count()

	if m.EmbedImageFunc != nil {
		return m.EmbedImageFunc(ctx, ref)
	}
	return BagOfWords(ref, m.dimension), nil
}

// ModelName returns Model.
func (m *MockEmbedder) ModelName() string {
	return m.Model
}

// Dimension returns the vector length of default embeddings.
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
	m.EmbedImageFunc = nil
}

func (m *MockEmbedder) count() {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()
}

// BagOfWords hashes each token of text into one of dim buckets and returns
// the L2-normalized counts. Texts sharing words get high cosine similarity,
// which makes vector ranking in tests predictable.
func BagOfWords(text string, dim int) []float32 {
	vector := make([]float32, dim)
	for _, token := range core.Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[h.Sum32()%uint32(dim)]++
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		// Constant vector so empty texts still have a defined direction
		for i := range vector {
			vector[i] = float32(1 / math.Sqrt(float64(dim)))
		}
		return vector
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
