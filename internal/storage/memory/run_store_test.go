package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, harvest.Run{ID: "run-1"}))
	require.Error(t, store.CreateRun(ctx, harvest.Run{ID: "run-1"}), "duplicate run")

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, harvest.RunQueued, run.Status)

	require.NoError(t, store.UpdateRun(ctx, "run-1", harvest.RunRunning, "", harvest.RunCounters{Jobs: 2}))
	standings := harvest.JobRecord{Job: harvest.Job{Period: 1998, Category: harvest.CategoryStandings}, State: harvest.StateFetching}
	require.NoError(t, store.RecordJob(ctx, "run-1", standings))
	standings.State = harvest.StateSucceeded
	require.NoError(t, store.RecordJob(ctx, "run-1", standings))
	require.NoError(t, store.RecordJob(ctx, "run-1", harvest.JobRecord{
		Job:   harvest.Job{Period: 1998, Category: harvest.CategoryRookies},
		State: harvest.StateFailed,
	}))

	jobs, err := store.ListJobs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, harvest.StateSucceeded, jobs[0].State)
	jobs[0].State = harvest.StatePending
	again, _ := store.ListJobs(ctx, "run-1")
	assert.Equal(t, harvest.StateSucceeded, again[0].State, "ListJobs must return a copy")

	counters := harvest.RunCounters{Jobs: 2, Succeeded: 1, Failed: 1}
	require.NoError(t, store.UpdateRun(ctx, "run-1", harvest.RunFailed, "1 job failed", counters))
	final, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, harvest.RunFailed, final.Status)
	assert.Equal(t, counters, final.Counters)
	assert.Equal(t, "1 job failed", final.ErrorText)
	require.NotNil(t, final.Started)
	require.NotNil(t, final.Finished)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	_, err := store.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, harvest.ErrRunNotFound)
	_, err = store.ListJobs(ctx, "nope")
	assert.ErrorIs(t, err, harvest.ErrRunNotFound)
	assert.ErrorIs(t, store.UpdateRun(ctx, "nope", harvest.RunRunning, "", harvest.RunCounters{}), harvest.ErrRunNotFound)
	assert.ErrorIs(t, store.RecordJob(ctx, "nope", harvest.JobRecord{}), harvest.ErrRunNotFound)
}
