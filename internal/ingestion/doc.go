// Package ingestion turns provider pages into store writes.
//
// The pipeline for one (provider, query) task is:
//
//	Orchestrator.Run
//	  ├── RateLimiter.Await          (before every fetch)
//	  ├── SourceAdapter.FetchPage
//	  ├── DedupFilter.Partition      (new / changed / unchanged)
//	  └── UpsertWriter.Apply         (batch insert + per-record merge)
//
// Store failures are counted per record and never abort the page loop.
// Provider failures never reach this package: adapters return an empty page
// instead, which ends the task.
package ingestion
