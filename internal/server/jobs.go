// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bodaay/formerhub/pkg/formers"
)

// JobStatus represents the state of a prefetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job fetches the checkpoint of one identifier into the cache.
type Job struct {
	ID         string              `json:"id"`
	Identifier string              `json:"identifier"`
	Status     JobStatus           `json:"status"`
	Progress   JobProgress         `json:"progress"`
	Checkpoint *formers.Checkpoint `json:"checkpoint,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	StartedAt  *time.Time          `json:"startedAt,omitempty"`
	EndedAt    *time.Time          `json:"endedAt,omitempty"`

	cancel context.CancelFunc
}

// JobProgress holds transfer progress.
type JobProgress struct {
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
	BytesPerSecond  int64 `json:"bytesPerSecond"`
	CacheHit        bool  `json:"cacheHit,omitempty"`
}

// JobManager runs prefetch jobs against the hub's checkpoint store.
// Accessors return copies; the manager owns the jobs it tracks.
type JobManager struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	hub        *formers.Hub
	logger     *slog.Logger
	listeners  []chan Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
}

// NewJobManager creates a job manager. wsHub may be nil.
func NewJobManager(hub *formers.Hub, wsHub *WSHub, logger *slog.Logger) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		hub:    hub,
		logger: logger,
		wsHub:  wsHub,
	}
}

// CreateJob starts fetching the checkpoint of identifier. When a job for the
// same identifier is still queued or running, that job is returned with
// existing set.
func (m *JobManager) CreateJob(identifier string) (job Job, existing bool, err error) {
	if _, err := formers.CheckSupported(identifier, m.hub.Model.SupportList()); err != nil {
		return Job{}, false, err
	}

	m.mu.Lock()
	for _, j := range m.jobs {
		if j.Identifier == identifier && j.Status.active() {
			snap := *j
			m.mu.Unlock()
			return snap, true, nil
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Status:     JobStatusQueued,
		CreatedAt:  time.Now(),
		cancel:     cancel,
	}
	m.jobs[j.ID] = j
	snap := *j
	m.mu.Unlock()

	m.logger.Info("prefetch queued", "job", j.ID, "identifier", identifier)
	go m.runJob(ctx, j)
	return snap, false, nil
}

// GetJob returns a copy of the job with the given id.
func (m *JobManager) GetJob(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// ListJobs returns copies of all jobs, oldest first.
func (m *JobManager) ListJobs() []Job {
	m.mu.Lock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs
}

// CancelJob cancels a queued or running job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || !j.Status.active() {
		m.mu.Unlock()
		return false
	}
	j.cancel()
	j.Status = JobStatusCancelled
	now := time.Now()
	j.EndedAt = &now
	snap := *j
	m.mu.Unlock()

	m.notifyListeners(snap)
	return true
}

// DeleteJob forgets a finished job.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.active() {
		return false
	}
	delete(m.jobs, id)
	return true
}

// CancelAll cancels every active job.
func (m *JobManager) CancelAll() {
	for _, j := range m.ListJobs() {
		if j.Status.active() {
			m.CancelJob(j.ID)
		}
	}
}

// Subscribe returns a channel receiving a copy of each job update.
func (m *JobManager) Subscribe() chan Job {
	ch := make(chan Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener.
func (m *JobManager) Unsubscribe(ch chan Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	for i, l := range m.listeners {
		if l == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// slow listener
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// update applies fn to job under the lock and publishes the result.
func (m *JobManager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	fn(job)
	snap := *job
	m.mu.Unlock()
	m.notifyListeners(snap)
}

// storeFor returns a copy of the hub's store reporting to progress.
func (m *JobManager) storeFor(progress formers.ProgressFunc) *formers.Store {
	st := *m.hub.Store()
	f := *st.Fetcher
	f.Progress = progress
	st.Fetcher = &f
	st.Progress = progress
	return &st
}

func (m *JobManager) runJob(ctx context.Context, job *Job) {
	m.update(job, func(j *Job) {
		if j.Status == JobStatusQueued {
			j.Status = JobStatusRunning
			now := time.Now()
			j.StartedAt = &now
		}
	})

	progress := func(ev formers.ProgressEvent) {
		m.update(job, func(j *Job) {
			switch ev.Event {
			case "cache_hit":
				j.Progress.CacheHit = true
			case "fetch_start":
				j.Progress.TotalBytes = ev.Total
			case "fetch_progress", "fetch_done":
				j.Progress.DownloadedBytes = ev.Downloaded
				if ev.Event == "fetch_done" {
					j.Progress.TotalBytes = ev.Downloaded
				}
				if j.StartedAt != nil {
					if secs := time.Since(*j.StartedAt).Seconds(); secs > 0 {
						j.Progress.BytesPerSecond = int64(float64(ev.Downloaded) / secs)
					}
				}
			}
		})
		if m.wsHub != nil {
			m.wsHub.BroadcastEvent(job.ID, ev)
		}
	}

	ck, err := m.storeFor(progress).LoadWeights(ctx, job.Identifier)

	m.update(job, func(j *Job) {
		if !j.Status.active() {
			return
		}
		now := time.Now()
		j.EndedAt = &now
		switch {
		case ctx.Err() != nil:
			j.Status = JobStatusCancelled
		case err != nil:
			j.Status = JobStatusFailed
			j.Error = err.Error()
		default:
			j.Status = JobStatusCompleted
			j.Checkpoint = ck
			if j.Progress.TotalBytes == 0 {
				j.Progress.TotalBytes = ck.Size
				j.Progress.DownloadedBytes = ck.Size
			}
		}
	})
	switch {
	case ctx.Err() != nil:
		m.logger.Info("prefetch cancelled", "job", job.ID, "identifier", job.Identifier)
	case err != nil:
		m.logger.Warn("prefetch failed", "job", job.ID, "identifier", job.Identifier, "err", err)
	default:
		m.logger.Info("prefetch finished", "job", job.ID, "identifier", job.Identifier, "size", humanize.Bytes(uint64(ck.Size)))
	}
	job.cancel()
}
