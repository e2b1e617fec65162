// Package observability provides logging and metrics support for the paper
// aggregator.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Every subsystem tags its logger with a component, and the orchestrator adds
// the task it is working on:
//
//	logger = observability.WithComponent(logger, "orchestrator")
//	logger = observability.WithTaskContext(logger, "arxiv", "cs.AI", "incremental")
//
// # Metrics
//
//	metrics := observability.NewMetrics("paper_aggregator")
//	metrics.RecordPage("arxiv", "incremental", 10)
//	metrics.RecordWrite("arxiv", inserted, updated, unchanged)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Standard Fields
//
//   - component: owning subsystem (scheduler, orchestrator, arxiv, serpapi, store, admin)
//   - source: provider (arxiv, google_scholar)
//   - query: arXiv category or Scholar query
//   - mode: incremental or historical
//   - run_id: scheduler run identifier
//   - request_id: admin HTTP request identifier
package observability
