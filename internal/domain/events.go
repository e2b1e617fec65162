package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventTypeSyncCompleted is published after every scheduler run.
const EventTypeSyncCompleted = "papers.sync_completed"

// SyncCompletedEvent tells downstream consumers (the search index builder)
// that a run has written new or changed records.
type SyncCompletedEvent struct {
	EventID       string             `json:"event_id"`
	EventType     string             `json:"event_type"`
	Mode          IngestMode         `json:"mode"`
	TotalInserted int                `json:"total_inserted"`
	TotalUpdated  int                `json:"total_updated"`
	ByProvider    map[SourceType]int `json:"by_provider"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// NewSyncCompletedEvent builds the event for a finished run.
func NewSyncCompletedEvent(summary *RunSummary) SyncCompletedEvent {
	byProvider := make(map[SourceType]int, len(summary.ByProvider))
	for k, v := range summary.ByProvider {
		byProvider[k] = v
	}
	return SyncCompletedEvent{
		EventID:       uuid.New().String(),
		EventType:     EventTypeSyncCompleted,
		Mode:          summary.Mode,
		TotalInserted: summary.TotalInserted,
		TotalUpdated:  summary.TotalUpdated,
		ByProvider:    byProvider,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
	}
}

// Marshal serializes the event payload.
func (e SyncCompletedEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
