// Package domain provides the domain models shared by the paper aggregator's
// ingestion pipeline, store and admin surface.
package domain

import (
	"fmt"
	"time"
)

// SourceType identifies the provider a record was fetched from.
// These values must match the source column of the papers table.
type SourceType string

const (
	SourceTypeArXiv         SourceType = "arxiv"
	SourceTypeGoogleScholar SourceType = "google_scholar"
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType converts a provider name into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceTypeArXiv, SourceTypeGoogleScholar:
		return SourceType(s), nil
	default:
		return "", NewValidationError("source", fmt.Sprintf("unknown provider %q", s))
	}
}

// IngestMode selects between the capped recurring sync and the uncapped backfill.
type IngestMode string

const (
	IngestModeIncremental IngestMode = "incremental"
	IngestModeHistorical  IngestMode = "historical"
)

// String returns the string representation of the mode.
func (m IngestMode) String() string {
	return string(m)
}

// Scope bounds a dedup lookup to one provider and one category or query.
type Scope struct {
	Source   SourceType
	Category string
}

// TaskResult is the outcome of one (provider, query) orchestrator run.
type TaskResult struct {
	Source    SourceType `json:"source"`
	Query     string     `json:"query"`
	Mode      IngestMode `json:"mode"`
	Pages     int        `json:"pages"`
	Inserted  int        `json:"inserted"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Failed    int        `json:"failed"`
	EmptyPage bool       `json:"empty_page"`
}

// RunSummary aggregates the task results of one scheduler invocation.
type RunSummary struct {
	Mode          IngestMode         `json:"mode"`
	TotalInserted int                `json:"total_inserted"`
	TotalUpdated  int                `json:"total_updated"`
	ByProvider    map[SourceType]int `json:"by_provider"`
	Tasks         []TaskResult       `json:"tasks"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// NewRunSummary creates an empty summary for the given mode.
func NewRunSummary(mode IngestMode, startedAt time.Time) *RunSummary {
	return &RunSummary{
		Mode:       mode,
		ByProvider: make(map[SourceType]int),
		Tasks:      make([]TaskResult, 0),
		StartedAt:  startedAt,
	}
}

// Add folds a task result into the summary.
func (s *RunSummary) Add(r TaskResult) {
	s.Tasks = append(s.Tasks, r)
	s.TotalInserted += r.Inserted
	s.TotalUpdated += r.Updated
	s.ByProvider[r.Source] += r.Inserted
}

// Duration returns the wall-clock length of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
