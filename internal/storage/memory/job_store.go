// Package memory stores download jobs in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/saveforme/saveforme/internal/download"
)

// JobStore keeps job records in a map. It enforces the same lifecycle
// transition rules as the Postgres store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]download.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]download.Job)}
}

// CreateJob inserts a new job record.
func (s *JobStore) CreateJob(_ context.Context, job download.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// GetJob loads one job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (download.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.Job{}, download.ErrNotFound
	}
	return job, nil
}

// UpdateStatus applies a guarded status transition, stamping started_at and
// completed_at as the job enters the corresponding states.
func (s *JobStore) UpdateStatus(_ context.Context, jobID string, status download.Status, errText string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.ErrNotFound
	}
	if !job.Status.CanTransition(status) {
		return &download.TransitionError{JobID: jobID, From: job.Status, To: status}
	}

	job.Status = status
	job.ErrorText = errText
	job.UpdatedAt = at
	switch status {
	case download.StatusProcessing:
		started := at
		job.StartedAt = &started
	case download.StatusCompleted, download.StatusFailed:
		completed := at
		job.CompletedAt = &completed
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateMetadata attaches fetched metadata to the job.
func (s *JobStore) UpdateMetadata(_ context.Context, jobID string, meta download.Metadata, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.ErrNotFound
	}
	m := meta
	job.Metadata = &m
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return nil
}

// UpdateFileInfo records the completed artifact's location and size.
func (s *JobStore) UpdateFileInfo(_ context.Context, jobID string, info download.FileInfo, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.ErrNotFound
	}
	job.FilePath = info.Path
	job.FileName = info.Name
	job.FileSizeMB = info.SizeMB
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return nil
}

// DeleteJob removes the job record permanently.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return download.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

// CountByClientSince counts jobs the client created after the given instant.
func (s *JobStore) CountByClientSince(_ context.Context, clientIP string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, job := range s.jobs {
		if job.ClientIP == clientIP && job.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// ListPage returns one page of jobs, newest first, plus the unpaginated total.
func (s *JobStore) ListPage(_ context.Context, filter download.HistoryFilter, page, perPage int) ([]download.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}

	matched := s.collect(func(job download.Job) bool {
		if filter.ClientIP != "" && job.ClientIP != filter.ClientIP {
			return false
		}
		if filter.SessionID != "" && job.SessionID != filter.SessionID {
			return false
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListCompletedBefore returns completed jobs created before the cutoff.
func (s *JobStore) ListCompletedBefore(_ context.Context, cutoff time.Time) ([]download.Job, error) {
	return s.collect(func(job download.Job) bool {
		return job.Status == download.StatusCompleted && job.CreatedAt.Before(cutoff)
	}), nil
}

// ListExpired returns non-processing jobs whose absolute expiry has passed.
func (s *JobStore) ListExpired(_ context.Context, now time.Time) ([]download.Job, error) {
	return s.collect(func(job download.Job) bool {
		switch job.Status {
		case download.StatusPending, download.StatusCompleted, download.StatusFailed:
			return !job.ExpiresAt.After(now)
		}
		return false
	}), nil
}

// ListBySession returns the session's jobs, excluding any still processing.
func (s *JobStore) ListBySession(_ context.Context, sessionID string) ([]download.Job, error) {
	return s.collect(func(job download.Job) bool {
		return job.SessionID == sessionID && job.Status != download.StatusProcessing
	}), nil
}

// ListPurgeable returns expired jobs whose grace period lapsed before cutoff.
func (s *JobStore) ListPurgeable(_ context.Context, cutoff time.Time) ([]download.Job, error) {
	return s.collect(func(job download.Job) bool {
		return job.Status == download.StatusExpired && job.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *JobStore) collect(match func(download.Job) bool) []download.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []download.Job
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job)
		}
	}
	return out
}
