// Package extract finds medical entities in clinical text with a fixed set of
// rules: temporal patterns, a longest-match lexicon and word suffixes.
//
// Output depends only on the input text and the lexicon version, so fixtures
// built from it are reproducible. Lexicons are TOML files:
//
//	version = "site-1"
//
//	[terms]
//	MEDICATION = ["tenecteplase"]
//	CONDITION  = ["takotsubo cardiomyopathy"]
package extract
