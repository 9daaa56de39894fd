package harvest

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned by RunStore lookups for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Task is a job waiting in the work queue. Parent is the key of the
// navigation job that discovered it, if any.
type Task struct {
	Job    Job
	Parent string
}

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

// Run lifecycle states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunCounters aggregates job outcomes of a run.
type RunCounters struct {
	Jobs      int `json:"jobs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Run is one execution of a plan.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Created   time.Time   `json:"created_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	Counters  RunCounters `json:"counters"`
	ErrorText string      `json:"error,omitempty"`
}
