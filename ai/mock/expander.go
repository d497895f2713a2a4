package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/medfuse/ai"
)

// MockQueryExpander is a test double for ai.QueryExpander.
type MockQueryExpander struct {
	// ExpandQueryFunc is called by ExpandQuery if set.
	ExpandQueryFunc func(ctx context.Context, query string) ([]string, error)

	// Synonyms maps a lowercase query word to the terms returned for it
	// when ExpandQueryFunc is nil.
	Synonyms map[string][]string

	mu        sync.Mutex
	callCount int
}

var _ ai.QueryExpander = (*MockQueryExpander)(nil)

// NewMockQueryExpander creates an expander answering from synonyms.
func NewMockQueryExpander(synonyms map[string][]string) *MockQueryExpander {
	return &MockQueryExpander{Synonyms: synonyms}
}

// ExpandQuery returns the synonyms of each query word in order.
func (m *MockQueryExpander) ExpandQuery(ctx context.Context, query string) ([]string, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.ExpandQueryFunc != nil {
		return m.ExpandQueryFunc(ctx, query)
	}

	terms := []string{}
	for _, word := range strings.Fields(strings.ToLower(query)) {
		terms = append(terms, m.Synonyms[word]...)
	}
	return terms, nil
}

// CallCount returns the number of ExpandQuery calls.
func (m *MockQueryExpander) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
