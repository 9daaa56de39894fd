// Package runner owns the lifecycle of runs: it records them in a RunStore,
// drives the dispatcher and stamps the final status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/catalog"
	"github.com/JakeFAU/hoops-harvester/internal/dispatcher"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Dispatcher executes the jobs of one run.
type Dispatcher interface {
	Run(ctx context.Context, runID string, jobs []harvest.Job) *dispatcher.Report
}

// Manager starts and tracks runs.
type Manager struct {
	dispatcher Dispatcher
	store      harvest.RunStore
	ids        harvest.IDGenerator
	clock      harvest.Clock
	plan       catalog.Plan
	logger     *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	cancel map[string]context.CancelFunc
}

// New builds a Manager. plan is used whenever a caller does not supply one.
func New(
	d Dispatcher,
	store harvest.RunStore,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	plan catalog.Plan,
	logger *zap.Logger,
) (*Manager, error) {
	switch {
	case d == nil:
		return nil, errors.New("runner requires a dispatcher")
	case store == nil:
		return nil, errors.New("runner requires a run store")
	case ids == nil:
		return nil, errors.New("runner requires an id generator")
	case clock == nil:
		return nil, errors.New("runner requires a clock")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dispatcher: d,
		store:      store,
		ids:        ids,
		clock:      clock,
		plan:       plan,
		logger:     logger,
		cancel:     make(map[string]context.CancelFunc),
	}, nil
}

// Plan returns the default plan.
func (m *Manager) Plan() catalog.Plan {
	return m.plan
}

// Execute runs plan to completion and returns its report.
func (m *Manager) Execute(ctx context.Context, plan catalog.Plan) (*dispatcher.Report, error) {
	run, err := m.create(ctx, plan)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, run.ID, plan), nil
}

// Start records a queued run and executes it in the background under ctx,
// which should outlive the caller's request.
func (m *Manager) Start(ctx context.Context, plan catalog.Plan) (harvest.Run, error) {
	run, err := m.create(ctx, plan)
	if err != nil {
		return harvest.Run{}, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	m.cancel[run.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.cancel, run.ID)
			m.mu.Unlock()
			cancel()
		}()
		m.execute(runCtx, run.ID, plan)
	}()
	return run, nil
}

// Get returns a run together with its job records.
func (m *Manager) Get(ctx context.Context, runID string) (harvest.Run, []harvest.JobRecord, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return harvest.Run{}, nil, err
	}
	records, err := m.store.ListJobs(ctx, runID)
	if err != nil {
		return harvest.Run{}, nil, err
	}
	return run, records, nil
}

// Shutdown cancels in-flight runs and waits for them to record their final
// status, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.cancel {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func (m *Manager) create(ctx context.Context, plan catalog.Plan) (harvest.Run, error) {
	if err := plan.Validate(); err != nil {
		return harvest.Run{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return harvest.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := harvest.Run{ID: id, Status: harvest.RunQueued, Created: m.clock.Now()}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return harvest.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (m *Manager) execute(ctx context.Context, runID string, plan catalog.Plan) *dispatcher.Report {
	logger := m.logger.With(zap.String("run_id", runID))
	jobs := plan.Enumerate()
	m.update(ctx, runID, harvest.RunRunning, "", harvest.RunCounters{Jobs: len(jobs)})
	logger.Info("run started", zap.Int("jobs", len(jobs)))

	report := m.dispatcher.Run(ctx, runID, jobs)

	var errText string
	if err := report.Err(); err != nil {
		errText = err.Error()
	}
	counters := report.Counters()
	m.update(context.WithoutCancel(ctx), runID, report.Status(), errText, counters)
	logger.Info("run finished",
		zap.String("status", string(report.Status())),
		zap.Int("jobs", counters.Jobs),
		zap.Int("succeeded", counters.Succeeded),
		zap.Int("failed", counters.Failed),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report
}

func (m *Manager) update(ctx context.Context, runID string, status harvest.RunStatus, errText string, counters harvest.RunCounters) {
	if err := m.store.UpdateRun(ctx, runID, status, errText, counters); err != nil {
		m.logger.Error("update run status failed",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
