// Package worker executes harvest jobs pulled from the work queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/discovery"
	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a whole job, retries and backoff included. Zero
	// disables the deadline.
	JobTimeout time.Duration
	// Topic receives one message per stored artifact when a Publisher is set.
	Topic string
}

// Deps are the collaborators a Worker needs. Index and Publisher are optional.
type Deps struct {
	Resolver  harvest.Resolver
	Fetcher   harvest.Fetcher
	Sink      harvest.ArtifactSink
	Index     harvest.ArtifactIndex
	Publisher harvest.Publisher
	Clock     harvest.Clock
}

// Worker turns one task into one terminal job record.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// DoneFunc receives each finished record and the jobs it discovered.
type DoneFunc func(record harvest.JobRecord, children []harvest.Job)

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("worker requires a resolver")
	case deps.Fetcher == nil:
		return nil, errors.New("worker requires a fetcher")
	case deps.Sink == nil:
		return nil, errors.New("worker requires an artifact sink")
	case deps.Clock == nil:
		return nil, errors.New("worker requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run blocks, consuming tasks until the context finishes or the queue is
// closed.
func (w *Worker) Run(ctx context.Context, queue harvest.Queue, runID string, done DoneFunc) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		task, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("queue drained, worker stopping", zap.String("run_id", runID), zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued job", zap.String("run_id", runID), zap.String("job", task.Job.Key()))
		record, children := w.Process(ctx, runID, task)
		done(record, children)
	}
}

// Process drives one job to a terminal state. Failures are recorded on the
// returned record. Navigation jobs return their children once discovery
// succeeded, even when storing the navigation fragment failed.
func (w *Worker) Process(ctx context.Context, runID string, task harvest.Task) (harvest.JobRecord, []harvest.Job) {
	job := task.Job
	record := harvest.JobRecord{
		Job:     job,
		Parent:  task.Parent,
		State:   harvest.StateFetching,
		Started: w.deps.Clock.Now(),
	}
	logger := w.logger.With(zap.String("run_id", runID), zap.String("job", job.Key()))

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	children, err := w.execute(jobCtx, runID, &record, logger)
	record.Finished = w.deps.Clock.Now()
	if err != nil {
		record.State = harvest.StateFailed
		record.Err = err
		record.ErrorText = err.Error()
		logger.Warn("job failed",
			zap.String("url", record.URL),
			zap.Int("attempts", record.Attempts),
			zap.Int("children", len(children)),
			zap.Error(err),
		)
	} else {
		record.State = harvest.StateSucceeded
		logger.Info("job succeeded",
			zap.String("artifact", record.Artifact.Name),
			zap.Int("attempts", record.Attempts),
			zap.Int("children", record.Children),
		)
	}
	metrics.ObserveJob(string(job.Category), string(record.State))
	return record, children
}

func (w *Worker) execute(
	ctx context.Context,
	runID string,
	record *harvest.JobRecord,
	logger *zap.Logger,
) ([]harvest.Job, error) {
	job := record.Job
	url, err := w.deps.Resolver.URL(job)
	if err != nil {
		return nil, fmt.Errorf("resolve url: %w", err)
	}
	record.URL = url
	rule := w.deps.Resolver.Rule(job)
	record.Rule = rule
	if strings.TrimSpace(rule.String()) == "" {
		return nil, harvest.Permanent(url, rule, harvest.ErrInvalidRule)
	}

	result, err := w.deps.Fetcher.Fetch(ctx, url, rule)
	record.Attempts = len(result.Attempts)
	if err != nil {
		return nil, err
	}
	if result.Title != "" {
		logger.Debug("page title", zap.String("url", result.URL), zap.String("title", result.Title))
	}

	var children []harvest.Job
	if job.IsNavigation() {
		record.State = harvest.StateDiscovering
		children, err = discovery.Children(job, result.Fragment)
		if err != nil {
			return nil, err
		}
		record.Children = len(children)
	}

	artifact, err := w.deps.Sink.Store(ctx, job, result.Fragment)
	if err != nil {
		return children, err
	}
	record.Artifact = &artifact
	w.announce(ctx, runID, artifact, logger)
	return children, nil
}

// announce runs the optional side effects of a stored artifact. The artifact
// already exists, so failures here are logged and counted only.
func (w *Worker) announce(ctx context.Context, runID string, artifact harvest.Artifact, logger *zap.Logger) {
	if w.deps.Index != nil {
		if err := w.deps.Index.RecordArtifact(ctx, runID, artifact); err != nil {
			metrics.ObserveSideEffectFailure("index")
			logger.Error("record artifact failed", zap.String("artifact", artifact.Name), zap.Error(err))
		}
	}
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    runID,
		"job":       artifact.Job.Key(),
		"period":    artifact.Job.Period,
		"category":  string(artifact.Job.Category),
		"subtype":   artifact.Job.Subtype,
		"artifact":  artifact.Name,
		"uri":       artifact.URI,
		"hash":      artifact.Hash,
		"size":      artifact.Size,
		"timestamp": artifact.StoredAt.Format(time.RFC3339),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		metrics.ObserveSideEffectFailure("publish")
		logger.Error("publish artifact failed", zap.String("artifact", artifact.Name), zap.Error(err))
		return
	}
	logger.Debug("artifact published", zap.String("artifact", artifact.Name), zap.String("message_id", id))
}
