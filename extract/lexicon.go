package extract

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/medfuse/core"
)

//go:embed lexicon.toml
var builtinLexicon []byte

// Lexicon maps entity types to the phrases recognised as exact matches.
type Lexicon struct {
	Version string                       `toml:"version"`
	Terms   map[core.EntityType][]string `toml:"terms"`
}

// DefaultLexicon returns a copy of the built-in lexicon.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(builtinLexicon)
	if err != nil {
		panic(fmt.Sprintf("built-in lexicon: %v", err))
	}
	return lex
}

// ParseLexicon decodes a TOML lexicon and validates its entity types.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := toml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLexicon, err)
	}
	for t := range lex.Terms {
		if err := core.ValidateEntityType(t); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidLexicon, err)
		}
	}
	return &lex, nil
}

// LoadLexicon reads a TOML lexicon file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLexicon(data)
}

// Merge adds the terms of other to l. The version becomes "l.Version+other.Version".
func (l *Lexicon) Merge(other *Lexicon) {
	if other == nil {
		return
	}
	if l.Terms == nil {
		l.Terms = make(map[core.EntityType][]string)
	}
	for t, phrases := range other.Terms {
		l.Terms[t] = append(l.Terms[t], phrases...)
	}
	if other.Version != "" {
		l.Version = l.Version + "+" + other.Version
	}
}

// phrase is one lexicon entry split into lowercase words.
type phrase struct {
	words []string
	typ   core.EntityType
}

// phraseIndex groups phrases by first word, longest first.
type phraseIndex map[string][]phrase

func buildIndex(lex *Lexicon) phraseIndex {
	index := make(phraseIndex)
	// Iterate types in a fixed order so the first type wins for a phrase
	// listed under several types.
	for _, t := range core.EntityTypes {
		for _, p := range lex.Terms[t] {
			words := wordsOf(strings.ToLower(p))
			if len(words) == 0 {
				continue
			}
			index[words[0]] = append(index[words[0]], phrase{words: words, typ: t})
		}
	}
	for first, list := range index {
		slices.SortStableFunc(list, func(a, b phrase) int {
			return len(b.words) - len(a.words)
		})
		index[first] = list
	}
	return index
}

func wordsOf(text string) []string {
	spans := scanWords(text)
	words := make([]string, len(spans))
	for i, s := range spans {
		words[i] = text[s.start:s.end]
	}
	return words
}
