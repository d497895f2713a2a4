// Package medfuse indexes clinical documents and answers multi-modal
// queries over them.
//
// Open wires a System from a config.Config: a badger store for documents
// and watermarks, a vector store (badger, Chroma or pgvector), an entity
// graph (badger or Postgres), SQLite checkpoints and an embedding provider.
// Index and Sync feed sources through the checkpointed indexer; Query fuses
// vector, keyword and graph rankings with reciprocal rank fusion.
//
//	sys, err := medfuse.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer sys.Close()
//
//	summary, err := sys.Index(ctx, source.NewJSONL("notes.jsonl"), true)
//	resp, err := sys.Query(ctx, &search.Query{Text: "chest pain", PatientID: "P1"})
package medfuse
