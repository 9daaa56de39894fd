package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

const (
	defaultJobLimit = 500
	maxJobLimit     = 5000
	maxRequestBytes = 1 << 20
)

// runRequest overrides parts of the default plan. Omitted fields keep the
// default.
type runRequest struct {
	FirstPeriod   *int              `json:"first_period"`
	LastPeriod    *int              `json:"last_period"`
	Categories    []string          `json:"categories"`
	Refresh       *[]refreshRequest `json:"refresh"`
	AwardSubtypes []string          `json:"award_subtypes"`
}

type refreshRequest struct {
	Period     int      `json:"period"`
	Categories []string `json:"categories"`
}

// startRun handles POST /v1/runs. An empty body runs the default plan.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	plan, err := applyRequest(s.runs.Plan(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runs.Start(r.Context(), plan)
	if err != nil {
		s.logger.Error("start run failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, "failed to start run")
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

// getRun handles GET /v1/runs/{run_id}?state=&limit=&offset=. It returns the
// run and a page of its job records.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state *harvest.State
	if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
		parsed, parseErr := parseState(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &parsed
	}

	run, records, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, harvest.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	filtered := filterRecords(records, state)
	total := len(filtered)
	writeJSON(w, http.StatusOK, map[string]any{
		"run":   run,
		"total": total,
		"jobs":  toJobDTOs(page(filtered, limit, offset)),
	})
}

func applyRequest(plan catalog.Plan, req runRequest) (catalog.Plan, error) {
	if req.FirstPeriod != nil {
		plan.FirstPeriod = *req.FirstPeriod
	}
	if req.LastPeriod != nil {
		plan.LastPeriod = *req.LastPeriod
	}
	if req.Categories != nil {
		categories, err := parseCategories(req.Categories)
		if err != nil {
			return catalog.Plan{}, err
		}
		plan.Categories = categories
	}
	if req.Refresh != nil {
		plan.Refresh = nil
		for _, target := range *req.Refresh {
			categories, err := parseCategories(target.Categories)
			if err != nil {
				return catalog.Plan{}, err
			}
			plan.Refresh = append(plan.Refresh, catalog.RefreshTarget{Period: target.Period, Categories: categories})
		}
	}
	if req.AwardSubtypes != nil {
		plan.AwardSubtypes = req.AwardSubtypes
	}
	return plan, nil
}

func parseCategories(names []string) ([]harvest.Category, error) {
	out := make([]harvest.Category, 0, len(names))
	for _, name := range names {
		category, err := harvest.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, nil
}

func parseRunID(r *http.Request) (string, error) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		return "", errors.New("run_id is required")
	}
	if _, err := uuid.Parse(runID); err != nil {
		return "", errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseState(input string) (harvest.State, error) {
	switch harvest.State(strings.ToLower(input)) {
	case harvest.StatePending:
		return harvest.StatePending, nil
	case harvest.StateFetching:
		return harvest.StateFetching, nil
	case harvest.StateDiscovering:
		return harvest.StateDiscovering, nil
	case harvest.StateSucceeded, "success":
		return harvest.StateSucceeded, nil
	case harvest.StateFailed, "error", "failure":
		return harvest.StateFailed, nil
	default:
		return "", errors.New("invalid state")
	}
}

func filterRecords(records []harvest.JobRecord, state *harvest.State) []harvest.JobRecord {
	if state == nil {
		return records
	}
	out := make([]harvest.JobRecord, 0, len(records))
	for _, record := range records {
		if record.State == *state {
			out = append(out, record)
		}
	}
	return out
}

func page(records []harvest.JobRecord, limit, offset int) []harvest.JobRecord {
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

func toJobDTOs(in []harvest.JobRecord) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, record := range in {
		out = append(out, toJobDTO(record))
	}
	return out
}

func toJobDTO(record harvest.JobRecord) jobDTO {
	dto := jobDTO{
		Key:      record.Job.Key(),
		Job:      record.Job,
		URL:      record.URL,
		Parent:   record.Parent,
		State:    string(record.State),
		Attempts: record.Attempts,
		Children: record.Children,
		Artifact: record.Artifact,
		Error:    record.ErrorText,
	}
	if !record.Started.IsZero() {
		started := record.Started
		dto.StartedAt = &started
	}
	if !record.Finished.IsZero() {
		finished := record.Finished
		dto.FinishedAt = &finished
	}
	return dto
}

type jobDTO struct {
	Key        string            `json:"key"`
	Job        harvest.Job       `json:"job"`
	URL        string            `json:"url,omitempty"`
	Parent     string            `json:"parent,omitempty"`
	State      string            `json:"state"`
	Attempts   int               `json:"attempts"`
	Children   int               `json:"children,omitempty"`
	Artifact   *harvest.Artifact `json:"artifact,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}
