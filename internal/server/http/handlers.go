package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/paper-aggregator-service/internal/domain"
	"github.com/helixir/paper-aggregator-service/internal/observability"
)

const maxRequestBodySize = 1 << 16

// backfillRequest is the optional body of POST /backfill.
type backfillRequest struct {
	Providers []string `json:"providers" validate:"omitempty,max=2,unique,dive,oneof=arxiv google_scholar"`
}

// triggerBackfill runs the historical backfill inside the request.
func (s *Server) triggerBackfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, s.logger)

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req backfillRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON request body")
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	providers := make([]domain.SourceType, len(req.Providers))
	for i, p := range req.Providers {
		providers[i] = domain.SourceType(p)
	}

	logger.Info().Strs("providers", req.Providers).Msg("backfill requested")
	summary, err := s.scheduler.RunHistorical(ctx, providers...)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		writeError(w, r, http.StatusConflict, "a run is already in progress")
		return
	case err != nil && summary == nil:
		logger.Error().Err(err).Msg("backfill failed")
		writeError(w, r, http.StatusInternalServerError, "backfill failed")
		return
	case err != nil:
		// Cancelled part way; report what was written.
		logger.Warn().Err(err).Msg("backfill interrupted")
	}

	writeJSON(w, r, http.StatusOK, summaryToResponse(summary))
}

// getStatus reports the last runs and stored record counts.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stats.CountBySource(r.Context())
	if err != nil {
		logger := observability.FromContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("failed to count stored records")
		writeError(w, r, http.StatusInternalServerError, "failed to read store statistics")
		return
	}

	resp := statusResponse{
		Running:         s.scheduler.Running(),
		LastIncremental: summaryToResponse(s.scheduler.LastSummary(domain.IngestModeIncremental)),
		LastHistorical:  summaryToResponse(s.scheduler.LastSummary(domain.IngestModeHistorical)),
		StoredBySource:  make(map[string]int64, len(counts)),
	}
	for src, n := range counts {
		resp.StoredBySource[src.String()] = n
		resp.StoredTotal += n
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("unknown provider %v: must be arxiv or google_scholar", fe.Value())
	case "unique":
		return "providers must not repeat"
	case "max":
		return "at most two providers may be given"
	default:
		return "invalid field " + fe.Field()
	}
}
