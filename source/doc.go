// Package source loads clinical items for indexing.
//
// Three formats are supported:
//   - JSONL files with one item per line
//   - FHIR R4 Bundles of DocumentReference and DiagnosticReport resources
//   - directories of text and image files, one subdirectory per patient
//
// Open picks the format from the path. Every source returns items in input
// order; validation is left to the indexer so one bad item never blocks the
// rest.
package source
