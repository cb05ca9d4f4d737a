package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kerf/driver"
)

// JobState is the lifecycle state of a stream job
type JobState string

const (
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
	JobAborted JobState = "aborted"
)

// Job is a G-code program streamed to the controller in the background
type Job struct {
	ID         string          `json:"id"`
	State      JobState        `json:"state"`
	Error      string          `json:"error,omitempty"`
	Progress   driver.Progress `json:"progress"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// JobTracker runs at most one stream job at a time and remembers the
// outcome of every job it started
type JobTracker struct {
	drv driver.Driver
	log *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	active string
	wg     sync.WaitGroup
}

// NewJobTracker creates a tracker streaming to drv
func NewJobTracker(drv driver.Driver, log *slog.Logger) *JobTracker {
	return &JobTracker{
		drv:  drv,
		log:  log,
		jobs: make(map[string]*Job),
	}
}

// Start begins streaming text and returns the new job
func (t *JobTracker) Start(text string, mode driver.StreamMode) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.drv.IsConnected() {
		return Job{}, driver.ErrNotConnected
	}
	if t.active != "" || t.drv.Progress().Active {
		return Job{}, driver.ErrStreamActive
	}
	if mode != driver.ModeAck && mode != "" {
		return Job{}, driver.ErrUnsupportedMode
	}

	job := &Job{
		ID:        uuid.NewString(),
		State:     JobRunning,
		StartedAt: time.Now(),
	}
	t.jobs[job.ID] = job
	t.active = job.ID

	t.wg.Add(1)
	go t.run(job.ID, text, mode)

	t.log.Info("job started", "id", job.ID)
	return *job, nil
}

func (t *JobTracker) run(id, text string, mode driver.StreamMode) {
	defer t.wg.Done()

	err := t.drv.StreamJob(context.Background(), text, mode)
	progress := t.drv.Progress()
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	job := t.jobs[id]
	job.Progress = progress
	job.FinishedAt = &now
	switch {
	case err == nil:
		job.State = JobDone
	case errors.Is(err, driver.ErrAborted):
		job.State = JobAborted
		job.Error = err.Error()
	default:
		job.State = JobFailed
		job.Error = err.Error()
	}
	t.active = ""

	t.log.Info("job finished", "id", id, "state", job.State, "sent", progress.Sent, "total", progress.Total)
}

// Get returns a snapshot of a job. A running job reports live progress.
func (t *JobTracker) Get(id string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	snap := *job
	if snap.State == JobRunning {
		snap.Progress = t.drv.Progress()
	}
	return snap, true
}

// Wait blocks until every started job has finished
func (t *JobTracker) Wait() {
	t.wg.Wait()
}
