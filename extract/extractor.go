package extract

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/medfuse/core"
)

// Confidence levels assigned by each rule stage.
const (
	ConfidenceLexicon  = 1.0
	ConfidenceTemporal = 0.8
	ConfidenceSuffix   = 0.7
	ConfidenceWeak     = 0.6
)

// DefaultMaxRelationships caps co-occurrence edges per item.
const DefaultMaxRelationships = 500

var temporalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b(?:for|since|over)\s+(?:the\s+)?(?:past\s+|last\s+)?\d+\s+(?:minutes?|hours?|days?|weeks?|months?|years?)\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(?:minutes?|hours?|days?|weeks?|months?|years?)\s+ago\b`),
	regexp.MustCompile(`(?i)\b(?:yesterday|today|tonight|last night|this morning)\b`),
	regexp.MustCompile(`(?i)\b(?:twice|once|three times)\s+(?:a\s+)?(?:daily|day|weekly|week)\b`),
	regexp.MustCompile(`(?i)\b(?:daily|nightly|bid|tid|qid|prn)\b`),
}

type suffixRule struct {
	typ        core.EntityType
	confidence float64
	suffixes   []string
}

// Rules apply in order; the first matching suffix classifies the word.
var suffixRules = []suffixRule{
	{core.EntityMedication, ConfidenceSuffix, []string{
		"olol", "pril", "sartan", "statin", "mab", "cillin", "mycin", "cycline",
		"prazole", "azole", "dipine", "floxacin", "parin", "tidine", "vir",
	}},
	{core.EntityProcedure, ConfidenceSuffix, []string{
		"ectomy", "otomy", "ostomy", "oscopy", "plasty", "graphy", "centesis",
	}},
	{core.EntityCondition, ConfidenceWeak, []string{"itis", "osis", "emia", "opathy"}},
	{core.EntitySymptom, ConfidenceWeak, []string{"algia", "odynia"}},
}

// Words that end in a clinical suffix but name no entity.
var suffixExceptions = map[string]bool{
	"diagnosis": true, "prognosis": true, "photography": true, "geography": true,
	"biography": true, "hemostasis": true,
}

// Words shorter than this are never classified by suffix.
const minSuffixWord = 5

// Extractor finds medical entities in free text with deterministic rules.
// It is safe for concurrent use.
type Extractor struct {
	lexicon          *Lexicon
	index            phraseIndex
	maxRelationships int
	logger           *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLexicon replaces the built-in lexicon.
func WithLexicon(lex *Lexicon) Option {
	return func(e *Extractor) {
		if lex != nil {
			e.lexicon = lex
		}
	}
}

// WithMaxRelationships caps the co-occurrence edges built per item.
// Values below one keep the default.
func WithMaxRelationships(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRelationships = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor using the built-in lexicon unless overridden.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		lexicon:          DefaultLexicon(),
		maxRelationships: DefaultMaxRelationships,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extractor")
	e.index = buildIndex(e.lexicon)
	return e
}

// Version identifies the ruleset. Identical input and version give identical output.
func (e *Extractor) Version() string {
	return e.lexicon.Version
}

// span is a located match in the source text.
type span struct {
	start, end int
}

type match struct {
	span
	typ        core.EntityType
	confidence float64
}

// Extract returns the entities found in text in order of appearance.
// Entity ids and source items are left empty. It never fails: invalid UTF-8
// is replaced and text nothing matches yields nil.
func (e *Extractor) Extract(text string) (entities []core.Entity) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction aborted", "panic", r)
			entities = nil
		}
	}()

	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var matches []match
	covered := func(s span) bool {
		for _, m := range matches {
			if s.start < m.end && m.start < s.end {
				return true
			}
		}
		return false
	}

	for _, re := range temporalPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if !covered(s) {
				matches = append(matches, match{s, core.EntityTemporal, ConfidenceTemporal})
			}
		}
	}

	words := scanWords(text)
	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(text[w.start:w.end])
	}

	used := make([]bool, len(words))
	for i := 0; i < len(words); i++ {
		if covered(words[i]) {
			used[i] = true
			continue
		}
		for _, p := range e.index[lower[i]] {
			n := len(p.words)
			if i+n > len(words) || !slices.Equal(p.words, lower[i:i+n]) {
				continue
			}
			s := span{words[i].start, words[i+n-1].end}
			if covered(s) {
				continue
			}
			matches = append(matches, match{s, p.typ, ConfidenceLexicon})
			for j := i; j < i+n; j++ {
				used[j] = true
			}
			i += n - 1
			break
		}
	}

	for i, w := range words {
		if used[i] {
			continue
		}
		if typ, conf, ok := classifySuffix(lower[i]); ok {
			matches = append(matches, match{w, typ, conf})
		}
	}

	slices.SortStableFunc(matches, func(a, b match) int {
		return a.start - b.start
	})

	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		surface := text[m.start:m.end]
		key := strings.ToLower(surface) + "\x00" + string(m.typ)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, core.Entity{
			Text:       surface,
			Type:       m.typ,
			Confidence: m.confidence,
		})
	}
	return entities
}

// ExtractItem extracts the entities of one source item and assigns their
// deterministic ids.
func (e *Extractor) ExtractItem(itemID, text string) []*core.Entity {
	found := e.Extract(text)
	if len(found) == 0 {
		return nil
	}
	entities := make([]*core.Entity, len(found))
	for i := range found {
		entity := found[i]
		entity.SourceItemID = itemID
		entity.EntityID = core.EntityIDFor(itemID, entity.Type, entity.Text)
		entities[i] = &entity
	}
	return entities
}

// Relationships links every pair of entities of an item with a CO_OCCURS_WITH
// edge, earlier entity as source. Confidence is the lower of the two endpoint
// confidences. At most the configured maximum number of edges is returned.
func (e *Extractor) Relationships(itemID string, entities []*core.Entity) []*core.Relationship {
	var rels []*core.Relationship
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if len(rels) >= e.maxRelationships {
				e.logger.Debug("relationship cap reached", "item_id", itemID, "cap", e.maxRelationships)
				return rels
			}
			src, dst := entities[i], entities[j]
			if src.EntityID == dst.EntityID {
				continue
			}
			rels = append(rels, &core.Relationship{
				RelationshipID:   core.RelationshipIDFor(src.EntityID, dst.EntityID, core.RelationshipCoOccurs),
				SourceEntityID:   src.EntityID,
				TargetEntityID:   dst.EntityID,
				RelationshipType: core.RelationshipCoOccurs,
				SourceItemID:     itemID,
				Confidence:       min(src.Confidence, dst.Confidence),
			})
		}
	}
	return rels
}

func classifySuffix(word string) (core.EntityType, float64, bool) {
	if utf8.RuneCountInString(word) < minSuffixWord || suffixExceptions[word] {
		return "", 0, false
	}
	for _, rule := range suffixRules {
		for _, suffix := range rule.suffixes {
			if strings.HasSuffix(word, suffix) && len(word) > len(suffix)+1 {
				return rule.typ, rule.confidence, true
			}
		}
	}
	return "", 0, false
}

// scanWords returns the byte spans of letter/digit runs in text.
func scanWords(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case isWord && start < 0:
			start = i
		case !isWord && start >= 0:
			spans = append(spans, span{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}
