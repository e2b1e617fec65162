package scheduler

import (
	"github.com/helixir/paper-aggregator-service/internal/config"
	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/papersources"
)

// Task is one (provider, query) pair processed by the orchestrator.
type Task struct {
	Source domain.SourceType
	Query  string
}

// QuerySet lists what each provider is asked for per mode.
type QuerySet struct {
	// ArXivCategories are used in both modes.
	ArXivCategories    []string
	ScholarHistorical  []string
	ScholarIncremental []string
}

// QueriesFromConfig builds the query set from provider settings.
func QueriesFromConfig(cfg config.SourcesConfig) QuerySet {
	return QuerySet{
		ArXivCategories:    cfg.ArXiv.Categories,
		ScholarHistorical:  cfg.Scholar.HistoricalQueries,
		ScholarIncremental: cfg.Scholar.IncrementalQueries,
	}
}

// For returns the queries of a provider in the given mode.
func (q QuerySet) For(source domain.SourceType, mode domain.IngestMode) []string {
	switch source {
	case domain.SourceTypeArXiv:
		return q.ArXivCategories
	case domain.SourceTypeGoogleScholar:
		if mode == domain.IngestModeHistorical {
			return q.ScholarHistorical
		}
		return q.ScholarIncremental
	default:
		return nil
	}
}

// BuildTasks expands adapters into tasks, keeping adapter order and then
// query order.
func BuildTasks(adapters []papersources.SourceAdapter, queries QuerySet, mode domain.IngestMode) []Task {
	var tasks []Task
	for _, a := range adapters {
		for _, q := range queries.For(a.SourceType(), mode) {
			if q == "" {
				continue
			}
			tasks = append(tasks, Task{Source: a.SourceType(), Query: q})
		}
	}
	return tasks
}
