// Package indexer turns clinical source items into embedding vectors,
// stored documents and knowledge-graph entities.
//
// Every item is tracked in a storage.CheckpointStore through the states
// pending, processing, completed and failed. A batch is claimed, validated,
// embedded with one provider call, run through entity extraction, written to
// the vector, document and graph stores and only then checkpointed as
// completed. Interrupting a run and starting it again with Resume set
// processes exactly the items that are still pending or retryable.
//
// Failures never abort a run. Invalid items, dimension mismatches and
// unsupported modalities are rejected and never retried automatically;
// transient provider errors are retried with exponential backoff and then
// recorded as failed. Each failure is appended to an ErrorLog.
package indexer
