package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a build job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job is a background build of one site started through build_site
type Job struct {
	ID                 string    `json:"id"`
	SiteKey            string    `json:"site_key"`
	Status             JobStatus `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at,omitempty"`
	DocumentsRendered  int64     `json:"documents_rendered"`
	DocumentsUnchanged int64     `json:"documents_unchanged"`
	DocumentsFailed    int64     `json:"documents_failed"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	Incremental        bool      `json:"incremental"`

	ctx    context.Context
	cancel context.CancelFunc
}

// snapshot copies j without its context. Caller must hold the manager lock.
func (j *Job) snapshot() Job {
	snap := *j
	snap.ctx, snap.cancel = nil, nil
	return snap
}

// JobManager tracks build jobs. A site has at most one active job.
// Callers only ever see copies of jobs.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[string]string // site key -> ID of its pending or running job
}

// NewJobManager creates an empty job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		active: make(map[string]string),
	}
}

// StartJob registers a pending job for siteKey. If the site already has an active
// job, that job is returned with created set to false.
func (m *JobManager) StartJob(siteKey string, incremental bool) (job Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.activeLocked(siteKey); existing != nil {
		return existing.snapshot(), false
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:          uuid.New().String(),
		SiteKey:     siteKey,
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
		Incremental: incremental,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.jobs[j.ID] = j
	m.active[siteKey] = j.ID
	return j.snapshot(), true
}

func (m *JobManager) activeLocked(siteKey string) *Job {
	id, ok := m.active[siteKey]
	if !ok {
		return nil
	}
	if j := m.jobs[id]; j != nil && j.Status.active() {
		return j
	}
	return nil
}

// ActiveJob returns the pending or running job of a site
func (m *JobManager) ActiveJob(siteKey string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if j := m.activeLocked(siteKey); j != nil {
		return j.snapshot(), true
	}
	return Job{}, false
}

// IsRunning reports whether siteKey has an active job
func (m *JobManager) IsRunning(siteKey string) bool {
	_, ok := m.ActiveJob(siteKey)
	return ok
}

// Snapshot returns a copy of a job
func (m *JobManager) Snapshot(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// UpdateStatus moves a job to status. Finished jobs keep the status they ended with,
// so a build that returns after cancel_job does not overwrite "cancelled".
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || !j.Status.active() {
		return
	}
	j.Status = status
	if errorMsg != "" {
		j.ErrorMessage = errorMsg
	}
	if !status.active() {
		m.finishLocked(j)
	}
}

// finishLocked stamps the completion time and frees the site for new jobs
func (m *JobManager) finishLocked(j *Job) {
	j.CompletedAt = time.Now()
	j.cancel()
	if m.active[j.SiteKey] == j.ID {
		delete(m.active, j.SiteKey)
	}
}

// UpdateProgress sets the document counters of a job
func (m *JobManager) UpdateProgress(jobID string, rendered, unchanged, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[jobID]; ok {
		j.DocumentsRendered = rendered
		j.DocumentsUnchanged = unchanged
		j.DocumentsFailed = failed
	}
}

// CancelJob cancels an active job. It returns false for unknown or finished jobs.
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || !j.Status.active() {
		return false
	}
	j.Status = JobStatusCancelled
	m.finishLocked(j)
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Status.active() {
			j.Status = JobStatusCancelled
			m.finishLocked(j)
		}
	}
}

// ListJobs returns copies of all jobs, oldest first
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.snapshot())
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].StartedAt.Before(jobs[b].StartedAt) })
	return jobs
}

// Context returns the context a job's build runs under. It is cancelled when the job finishes.
func (m *JobManager) Context(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if j, ok := m.jobs[jobID]; ok {
		return j.ctx
	}
	return context.Background()
}
