package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexus-batch/pkg/models"
)

// JobStatus represents the current state of a batch run job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background batch run
type Job struct {
	ID            string    `json:"id"`
	CollectionURL string    `json:"collection_url"`
	Status        JobStatus `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	DryRun        bool      `json:"dry_run"`
	RunID         string    `json:"run_id,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
	report *models.RunReport
}

// JobManager manages background batch runs. The driven browser session is a
// single shared resource, so at most one job runs at a time.
type JobManager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	runningID string
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a new run job. When a job is already pending or
// running, that job is returned instead and created is false.
func (m *JobManager) CreateJob(collectionURL string, dryRun bool) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningID != "" {
		if existing := m.jobs[m.runningID]; existing != nil &&
			(existing.Status == JobStatusPending || existing.Status == JobStatusRunning) {
			return existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:            uuid.New().String(),
		CollectionURL: collectionURL,
		Status:        JobStatusPending,
		StartedAt:     time.Now(),
		DryRun:        dryRun,
		ctx:           ctx,
		cancel:        cancel,
	}
	m.jobs[job.ID] = job
	m.runningID = job.ID
	return job, true
}

// GetJob retrieves a job by ID
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID]
}

// Running returns the currently pending/running job, if any
func (m *JobManager) Running() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runningID == "" {
		return nil
	}
	job := m.jobs[m.runningID]
	if job == nil || (job.Status != JobStatusPending && job.Status != JobStatusRunning) {
		return nil
	}
	return job
}

// UpdateStatus updates the status of a job; terminal statuses free the
// single run slot.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return
	}
	job.Status = status
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		job.CompletedAt = time.Now()
		if m.runningID == jobID {
			m.runningID = ""
		}
	}
}

// AttachReport stores the finished run report on the job
func (m *JobManager) AttachReport(jobID string, report *models.RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[jobID]; exists {
		job.report = report
		if report != nil {
			job.RunID = report.RunID
		}
	}
}

// Report returns the stored run report for a job, if finished
func (m *JobManager) Report(jobID string) *models.RunReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, exists := m.jobs[jobID]; exists {
		return job.report
	}
	return nil
}

// CancelJob cancels a pending or running job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || (job.Status != JobStatusPending && job.Status != JobStatusRunning) {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.runningID == jobID {
		m.runningID = ""
	}
	return true
}

// CancelAll cancels every pending or running job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.runningID = ""
}

// ListJobs returns all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// GetContext returns the cancellation context for a job
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
