package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startJob(t *testing.T, jm *JobManager, siteKey string) Job {
	t.Helper()
	job, created := jm.StartJob(siteKey, false)
	require.True(t, created, "site %s already had an active job", siteKey)
	return job
}

func mustSnapshot(t *testing.T, jm *JobManager, id string) Job {
	t.Helper()
	job, ok := jm.Snapshot(id)
	require.True(t, ok, "job %s not found", id)
	return job
}

func TestJobManager_StartJob(t *testing.T) {
	jm := NewJobManager()
	assert.Empty(t, jm.ListJobs())

	job, created := jm.StartJob("docs", true)
	require.True(t, created)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "docs", job.SiteKey)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.True(t, job.Incremental)
	assert.False(t, job.StartedAt.IsZero())
	assert.True(t, job.CompletedAt.IsZero())
	assert.Nil(t, job.ctx, "callers get copies without the build context")

	again, created := jm.StartJob("docs", false)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)
	assert.True(t, again.Incremental, "the active job is returned unchanged")

	other := startJob(t, jm, "blog")
	assert.NotEqual(t, job.ID, other.ID)
}

func TestJobManager_StartJob_Concurrent(t *testing.T) {
	jm := NewJobManager()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created := jm.StartJob("docs", false)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	n := 0
	for created := range createdCount {
		if created {
			n++
		}
	}
	assert.Equal(t, 1, n, "one active job per site")
	assert.Len(t, jm.ListJobs(), 1)
}

func TestJobManager_Lifecycle(t *testing.T) {
	tests := []struct {
		name    string
		final   JobStatus
		message string
	}{
		{"completed", JobStatusCompleted, ""},
		{"failed", JobStatusFailed, "build incomplete: 2 documents failed"},
		{"cancelled", JobStatusCancelled, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			job := startJob(t, jm, "docs")

			jm.UpdateStatus(job.ID, JobStatusRunning, "")
			assert.True(t, jm.IsRunning("docs"))
			active, ok := jm.ActiveJob("docs")
			require.True(t, ok)
			assert.Equal(t, JobStatusRunning, active.Status)
			require.NoError(t, jm.Context(job.ID).Err())

			jm.UpdateStatus(job.ID, tt.final, tt.message)
			got := mustSnapshot(t, jm, job.ID)
			assert.Equal(t, tt.final, got.Status)
			assert.Equal(t, tt.message, got.ErrorMessage)
			assert.False(t, got.CompletedAt.IsZero())
			assert.False(t, jm.IsRunning("docs"))
			assert.Error(t, jm.Context(job.ID).Err(), "finished jobs release their context")

			next := startJob(t, jm, "docs")
			assert.NotEqual(t, job.ID, next.ID)
		})
	}
}

func TestJobManager_FinishedJobKeepsStatus(t *testing.T) {
	jm := NewJobManager()
	old := startJob(t, jm, "docs")
	jm.UpdateStatus(old.ID, JobStatusRunning, "")
	require.True(t, jm.CancelJob(old.ID))

	next := startJob(t, jm, "docs")
	// The cancelled build returns late and reports success
	jm.UpdateStatus(old.ID, JobStatusCompleted, "")

	assert.Equal(t, JobStatusCancelled, mustSnapshot(t, jm, old.ID).Status)
	active, ok := jm.ActiveJob("docs")
	require.True(t, ok, "finishing the old job must not release the new one")
	assert.Equal(t, next.ID, active.ID)

	assert.False(t, jm.CancelJob(old.ID))
	assert.False(t, jm.CancelJob("missing"))
	jm.UpdateStatus("missing", JobStatusRunning, "")
}

func TestJobManager_UpdateProgress(t *testing.T) {
	jm := NewJobManager()
	job := startJob(t, jm, "docs")
	before := mustSnapshot(t, jm, job.ID)

	jm.UpdateProgress(job.ID, 42, 7, 1)
	jm.UpdateProgress("missing", 1, 1, 1)

	got := mustSnapshot(t, jm, job.ID)
	assert.Equal(t, int64(42), got.DocumentsRendered)
	assert.Equal(t, int64(7), got.DocumentsUnchanged)
	assert.Equal(t, int64(1), got.DocumentsFailed)
	assert.Zero(t, before.DocumentsRendered, "snapshots are copies")

	_, ok := jm.Snapshot("missing")
	assert.False(t, ok)
}

func TestJobManager_CancelAll(t *testing.T) {
	jm := NewJobManager()
	a := startJob(t, jm, "site-a")
	b := startJob(t, jm, "site-b")
	done := startJob(t, jm, "site-c")
	jm.UpdateStatus(done.ID, JobStatusCompleted, "")

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, mustSnapshot(t, jm, a.ID).Status)
	assert.Equal(t, JobStatusCancelled, mustSnapshot(t, jm, b.ID).Status)
	assert.Equal(t, JobStatusCompleted, mustSnapshot(t, jm, done.ID).Status)
	for _, key := range []string{"site-a", "site-b", "site-c"} {
		assert.False(t, jm.IsRunning(key), key)
	}
}

func TestJobManager_ListJobsOldestFirst(t *testing.T) {
	jm := NewJobManager()
	var ids []string
	for _, key := range []string{"c", "a", "b"} {
		ids = append(ids, startJob(t, jm, key).ID)
		time.Sleep(time.Millisecond)
	}

	jobs := jm.ListJobs()
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
		assert.Nil(t, job.cancel)
	}
}

func TestJobManager_ContextOfUnknownJob(t *testing.T) {
	jm := NewJobManager()
	assert.Equal(t, context.Background(), jm.Context("missing"))
}
