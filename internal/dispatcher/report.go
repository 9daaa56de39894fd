package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	// Records are listed in enumeration order, discovered jobs after the
	// jobs known when they were found.
	Records []harvest.JobRecord
}

// Counters summarizes the records.
func (r *Report) Counters() harvest.RunCounters {
	c := harvest.RunCounters{Jobs: len(r.Records)}
	for _, record := range r.Records {
		switch record.State {
		case harvest.StateSucceeded:
			c.Succeeded++
		case harvest.StateFailed:
			c.Failed++
		}
	}
	return c
}

// Failures returns the failed records.
func (r *Report) Failures() []harvest.JobRecord {
	var out []harvest.JobRecord
	for _, record := range r.Records {
		if record.State == harvest.StateFailed {
			out = append(out, record)
		}
	}
	return out
}

// Artifacts returns every artifact the run stored.
func (r *Report) Artifacts() []harvest.Artifact {
	var out []harvest.Artifact
	for _, record := range r.Records {
		if record.Artifact != nil {
			out = append(out, *record.Artifact)
		}
	}
	return out
}

// Err joins the failures of the run, or returns nil when every job
// succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, record := range r.Failures() {
		err := record.Err
		if err == nil {
			err = errors.New(record.ErrorText)
		}
		errs = append(errs, fmt.Errorf("%s: %w", record.Job.Key(), err))
	}
	return errors.Join(errs...)
}

// Status maps the report onto a run status.
func (r *Report) Status() harvest.RunStatus {
	if r.Err() != nil {
		return harvest.RunFailed
	}
	return harvest.RunSucceeded
}
