// Package dispatcher manages worker fan-out over the job queue for one run.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/queue/memory"
	"github.com/JakeFAU/hoops-harvester/internal/worker"
)

// Config sizes the worker pool and its queue.
type Config struct {
	// Workers is the fixed pool size. One worker reproduces a strictly
	// sequential run.
	Workers   int
	QueueSize int
}

// Dispatcher fans a run's jobs out to a pool of workers.
type Dispatcher struct {
	worker *worker.Worker
	store  harvest.RunStore
	clock  harvest.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher. store may be nil when runs are not tracked.
func New(w *worker.Worker, store harvest.RunStore, clock harvest.Clock, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if w == nil {
		return nil, errors.New("dispatcher requires a worker")
	}
	if clock == nil {
		return nil, errors.New("dispatcher requires a clock")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{worker: w, store: store, clock: clock, cfg: cfg, logger: logger}, nil
}

// Run executes jobs and every job they discover, returning once each one has
// reached a terminal state or ctx ends. Jobs that never finished are marked
// failed with the context error, so the report never holds a pending job.
func (d *Dispatcher) Run(ctx context.Context, runID string, jobs []harvest.Job) *Report {
	report := &Report{RunID: runID, Started: d.clock.Now()}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := newTracker()
	d.persist(ctx, runID, t.add(jobs, "")...)
	if t.idle() {
		report.Finished = d.clock.Now()
		return report
	}

	queue := memory.NewQueue(d.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.feed(runCtx, queue)
	}()

	done := func(record harvest.JobRecord, children []harvest.Job) {
		added := t.finish(record, children)
		d.persist(ctx, runID, append([]harvest.JobRecord{record}, added...)...)
		if len(added) > 0 {
			d.logger.Info("discovered jobs",
				zap.String("run_id", runID),
				zap.String("job", record.Job.Key()),
				zap.Int("children", len(added)),
			)
		}
	}
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker.Run(runCtx, queue, runID, done)
		}()
	}

	select {
	case <-t.finished:
	case <-ctx.Done():
		d.logger.Warn("run interrupted", zap.String("run_id", runID), zap.Error(ctx.Err()))
	}
	cancel()
	wg.Wait()

	abandoned := t.abandon(d.clock.Now(), ctx.Err())
	d.persist(context.WithoutCancel(ctx), runID, abandoned...)

	report.Records = t.records()
	report.Finished = d.clock.Now()
	return report
}

func (d *Dispatcher) persist(ctx context.Context, runID string, records ...harvest.JobRecord) {
	if d.store == nil {
		return
	}
	for _, record := range records {
		if err := d.store.RecordJob(ctx, runID, record); err != nil {
			d.logger.Error("record job failed",
				zap.String("run_id", runID),
				zap.String("job", record.Job.Key()),
				zap.Error(err),
			)
		}
	}
}

// tracker owns every record of a run plus the backlog of tasks not yet
// handed to the queue.
type tracker struct {
	mu       sync.Mutex
	order    []string
	byKey    map[string]harvest.JobRecord
	backlog  []harvest.Task
	pending  int
	wake     chan struct{}
	finished chan struct{}
	closed   bool
}

func newTracker() *tracker {
	return &tracker{
		byKey:    make(map[string]harvest.JobRecord),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// add registers unseen jobs as pending and returns their records.
func (t *tracker) add(jobs []harvest.Job, parent string) []harvest.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(jobs, parent)
}

func (t *tracker) addLocked(jobs []harvest.Job, parent string) []harvest.JobRecord {
	var added []harvest.JobRecord
	for _, job := range jobs {
		key := job.Key()
		if _, seen := t.byKey[key]; seen {
			continue
		}
		record := harvest.JobRecord{Job: job, Parent: parent, State: harvest.StatePending}
		t.byKey[key] = record
		t.order = append(t.order, key)
		t.backlog = append(t.backlog, harvest.Task{Job: job, Parent: parent})
		t.pending++
		added = append(added, record)
	}
	if len(added) > 0 {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	return added
}

// finish stores a terminal record. Children are counted before the parent is
// released so the run cannot end between the two.
func (t *tracker) finish(record harvest.JobRecord, children []harvest.Job) []harvest.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := t.addLocked(children, record.Job.Key())
	t.byKey[record.Job.Key()] = record
	t.pending--
	if t.pending == 0 && !t.closed {
		t.closed = true
		close(t.finished)
	}
	return added
}

func (t *tracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending == 0
}

func (t *tracker) next() (harvest.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.backlog) == 0 {
		return harvest.Task{}, false
	}
	task := t.backlog[0]
	t.backlog = t.backlog[1:]
	return task, true
}

// feed drains the backlog into the bounded queue. It is the only producer,
// so workers never block on enqueueing their own children.
func (t *tracker) feed(ctx context.Context, queue harvest.Queue) {
	for {
		task, ok := t.next()
		if !ok {
			select {
			case <-t.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if err := queue.Enqueue(ctx, task); err != nil {
			return
		}
	}
}

// abandon fails every record that never reached a terminal state.
func (t *tracker) abandon(now time.Time, cause error) []harvest.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cause == nil {
		cause = context.Canceled
	}
	var failed []harvest.JobRecord
	for _, key := range t.order {
		record := t.byKey[key]
		if record.State.Terminal() {
			continue
		}
		record.State = harvest.StateFailed
		record.Err = fmt.Errorf("job not completed: %w", cause)
		record.ErrorText = record.Err.Error()
		record.Finished = now
		t.byKey[key] = record
		failed = append(failed, record)
	}
	return failed
}

func (t *tracker) records() []harvest.JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]harvest.JobRecord, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.byKey[key])
	}
	return out
}
