package core

import (
	"strings"
	"unicode"
)

// Stop words dropped from query and index tokens
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "were": true, "has": true, "had": true,
	"no": true, "patient": true, "pt": true,
}

// IsStopWord reports whether a lowercased token is ignored for matching.
func IsStopWord(token string) bool {
	return stopWords[token]
}

// Tokenize splits text into lowercased word tokens, dropping punctuation and
// stop words. Duplicates are kept in order of appearance.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if word != "" && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

// UniqueTokens tokenizes text and removes duplicate tokens, keeping first occurrence order.
func UniqueTokens(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]bool, len(tokens))
	unique := tokens[:0]
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	return unique
}
