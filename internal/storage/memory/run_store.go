package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// RunStore provides an in-memory harvest.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]harvest.Run
	jobs map[string][]harvest.JobRecord
	now  func() time.Time
}

var _ harvest.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]harvest.Run),
		jobs: make(map[string][]harvest.JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run harvest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = harvest.RunQueued
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun updates the status and counters of a run, stamping start and
// finish times on the relevant transitions.
func (s *RunStore) UpdateRun(
	_ context.Context,
	runID string,
	status harvest.RunStatus,
	errText string,
	counters harvest.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("update run %s: %w", runID, harvest.ErrRunNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == harvest.RunRunning && run.Started == nil {
		run.Started = &now
	}
	if status.Terminal() {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// RecordJob upserts a job record by job key.
func (s *RunStore) RecordJob(_ context.Context, runID string, record harvest.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("record job %s: %w", runID, harvest.ErrRunNotFound)
	}
	records := s.jobs[runID]
	for i := range records {
		if records[i].Job.Key() == record.Job.Key() {
			records[i] = record
			return nil
		}
	}
	s.jobs[runID] = append(records, record)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (harvest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return harvest.Run{}, fmt.Errorf("get run %s: %w", runID, harvest.ErrRunNotFound)
	}
	return run, nil
}

// ListJobs returns a copy of the job records of a run.
func (s *RunStore) ListJobs(_ context.Context, runID string) ([]harvest.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("list jobs %s: %w", runID, harvest.ErrRunNotFound)
	}
	records := s.jobs[runID]
	out := make([]harvest.JobRecord, len(records))
	copy(out, records)
	return out, nil
}
