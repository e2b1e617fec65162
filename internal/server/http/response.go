package httpserver

import (
	"time"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

type taskResponse struct {
	Source    string `json:"source"`
	Query     string `json:"query"`
	Pages     int    `json:"pages"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	EmptyPage bool   `json:"empty_page"`
}

type runSummaryResponse struct {
	Mode          string         `json:"mode"`
	TotalInserted int            `json:"total_inserted"`
	TotalUpdated  int            `json:"total_updated"`
	ByProvider    map[string]int `json:"by_provider"`
	Tasks         []taskResponse `json:"tasks"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Duration      string         `json:"duration,omitempty"`
}

type statusResponse struct {
	Running         bool                `json:"running"`
	LastIncremental *runSummaryResponse `json:"last_incremental,omitempty"`
	LastHistorical  *runSummaryResponse `json:"last_historical,omitempty"`
	StoredBySource  map[string]int64    `json:"stored_by_source"`
	StoredTotal     int64               `json:"stored_total"`
}

func summaryToResponse(s *domain.RunSummary) *runSummaryResponse {
	if s == nil {
		return nil
	}
	byProvider := make(map[string]int, len(s.ByProvider))
	for k, v := range s.ByProvider {
		byProvider[k.String()] = v
	}
	tasks := make([]taskResponse, len(s.Tasks))
	for i, t := range s.Tasks {
		tasks[i] = taskResponse{
			Source:    t.Source.String(),
			Query:     t.Query,
			Pages:     t.Pages,
			Inserted:  t.Inserted,
			Updated:   t.Updated,
			Unchanged: t.Unchanged,
			Failed:    t.Failed,
			EmptyPage: t.EmptyPage,
		}
	}
	resp := &runSummaryResponse{
		Mode:          s.Mode.String(),
		TotalInserted: s.TotalInserted,
		TotalUpdated:  s.TotalUpdated,
		ByProvider:    byProvider,
		Tasks:         tasks,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
	if d := s.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}
