package search

import (
	"strings"

	"github.com/poiesic/medfuse/core"
)

// mergeTokens appends the tokens of each expansion term to base, skipping
// tokens already present.
func mergeTokens(base []string, terms []string) []string {
	seen := make(map[string]bool, len(base))
	merged := make([]string, 0, len(base)+len(terms))
	for _, t := range base {
		seen[t] = true
		merged = append(merged, t)
	}
	for _, term := range terms {
		for _, t := range core.Tokenize(term) {
			if !seen[t] {
				seen[t] = true
				merged = append(merged, t)
			}
		}
	}
	return merged
}

// splitSentences breaks text on sentence punctuation and line breaks.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// highlights returns up to limit sentences of text that contain a query
// token, in document order. Whitespace inside a sentence is collapsed.
func highlights(text string, tokens []string, limit int) []string {
	if len(tokens) == 0 || limit <= 0 {
		return nil
	}
	want := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		want[t] = true
	}

	var out []string
	for _, sentence := range splitSentences(text) {
		for _, t := range core.Tokenize(sentence) {
			if want[t] {
				out = append(out, strings.Join(strings.Fields(sentence), " "))
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out
}
