package extract

import "errors"

// ErrInvalidLexicon is returned when a lexicon file cannot be used.
var ErrInvalidLexicon = errors.New("invalid lexicon")
