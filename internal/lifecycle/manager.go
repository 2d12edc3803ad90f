// Package lifecycle coordinates job submission, status reads, and history
// listings. It owns the front half of the job state machine: admission,
// validation, persistence of the pending record, and handoff to the queue.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
	"github.com/saveforme/saveforme/internal/policy/admission"
	"github.com/saveforme/saveforme/internal/progress"
)

// Admitter decides whether a client may submit another job.
type Admitter interface {
	Check(ctx context.Context, clientIP string) (admission.Decision, error)
}

// ProgressReader exposes live progress snapshots for processing jobs.
type ProgressReader interface {
	Snapshot(jobID string) (progress.Snapshot, bool)
}

// ArtifactChecker reports whether an artifact still exists on disk.
type ArtifactChecker interface {
	Exists(path string) bool
}

// Config carries the manager's tunables.
type Config struct {
	// FileRetention is the expiry window stamped on anonymous submissions.
	FileRetention time.Duration
	// SessionRetention is the shorter window for session-scoped submissions.
	SessionRetention time.Duration
	// HistoryPerPageMax caps the page size of history listings.
	HistoryPerPageMax int
}

// Manager implements the submission and read paths of the service.
type Manager struct {
	store     download.JobStore
	queue     download.Queue
	admitter  Admitter
	progress  ProgressReader
	artifacts ArtifactChecker
	clock     download.Clock
	ids       download.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Manager.
func New(
	store download.JobStore,
	queue download.Queue,
	admitter Admitter,
	progressReader ProgressReader,
	artifacts ArtifactChecker,
	clock download.Clock,
	ids download.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		queue:     queue,
		admitter:  admitter,
		progress:  progressReader,
		artifacts: artifacts,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Submit validates the request, applies admission control, persists a pending
// job, and enqueues it for a worker. The returned job carries the assigned ID
// and expiry.
func (m *Manager) Submit(ctx context.Context, req download.Request) (download.Job, error) {
	videoID, err := download.ExtractVideoID(req.URL)
	if err != nil {
		return download.Job{}, err
	}
	if _, err := download.ParseQuality(req.Quality); err != nil {
		return download.Job{}, err
	}

	decision, err := m.admitter.Check(ctx, req.ClientIP)
	if err != nil {
		return download.Job{}, fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		metrics.ObserveAdmissionRejection()
		return download.Job{}, &download.RateLimitError{
			HourlyCount: decision.HourlyCount,
			HourlyLimit: decision.HourlyLimit,
			DailyCount:  decision.DailyCount,
			DailyLimit:  decision.DailyLimit,
		}
	}

	id, err := m.ids.NewID()
	if err != nil {
		return download.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	now := m.clock.Now()
	retention := m.cfg.FileRetention
	if req.SessionID != "" {
		retention = m.cfg.SessionRetention
	}
	job := download.Job{
		ID:        id,
		URL:       req.URL,
		VideoID:   videoID,
		Format:    req.Format,
		Quality:   req.Quality,
		AudioOnly: req.AudioOnly,
		ClientIP:  req.ClientIP,
		SessionID: req.SessionID,
		Status:    download.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(retention),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return download.Job{}, fmt.Errorf("create job: %w", err)
	}

	item := download.QueueItem{JobID: id, Submitted: now.Unix()}
	if err := m.queue.Enqueue(ctx, item); err != nil {
		// A pending record with no queued item would count against the
		// client's rate limit without ever running. Roll it back.
		if delErr := m.store.DeleteJob(ctx, id); delErr != nil {
			m.logger.Error("rollback of unqueued job failed",
				zap.String("job_id", id),
				zap.Error(delErr),
			)
		}
		return download.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.ObserveJobStatus(string(download.StatusPending))
	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("video_id", videoID),
		zap.String("client_ip", req.ClientIP),
	)
	return job, nil
}

// Status returns the caller-facing view of a job, merging live progress for
// jobs still processing.
func (m *Manager) Status(ctx context.Context, jobID string) (download.StatusView, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return download.StatusView{}, err
	}

	view := download.StatusView{
		ID:           job.ID,
		Status:       job.Status,
		ErrorMessage: job.ErrorText,
		FileName:     job.FileName,
		FileSizeMB:   job.FileSizeMB,
	}
	switch job.Status {
	case download.StatusProcessing:
		if snap, ok := m.progress.Snapshot(job.ID); ok {
			pct := snap.Percent
			view.Progress = &pct
		}
	case download.StatusCompleted:
		pct := 100.0
		view.Progress = &pct
		view.DownloadURL = downloadURL(job.ID)
	}
	return view, nil
}

// File resolves the artifact of a completed job for serving. It fails with
// ErrArtifactMissing when the job has not completed or the file has already
// been reclaimed.
func (m *Manager) File(ctx context.Context, jobID string) (download.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return download.Job{}, err
	}
	if job.Status != download.StatusCompleted || job.FilePath == "" {
		return download.Job{}, download.ErrArtifactMissing
	}
	if !m.artifacts.Exists(job.FilePath) {
		return download.Job{}, download.ErrArtifactMissing
	}
	return job, nil
}

// History returns one page of job history, newest first.
func (m *Manager) History(ctx context.Context, filter download.HistoryFilter, page, perPage int) (download.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if m.cfg.HistoryPerPageMax > 0 && perPage > m.cfg.HistoryPerPageMax {
		perPage = m.cfg.HistoryPerPageMax
	}

	jobs, total, err := m.store.ListPage(ctx, filter, page, perPage)
	if err != nil {
		return download.HistoryPage{}, fmt.Errorf("list history: %w", err)
	}

	entries := make([]download.HistoryEntry, 0, len(jobs))
	for _, job := range jobs {
		entry := download.HistoryEntry{
			ID:           job.ID,
			Status:       job.Status,
			Metadata:     job.Metadata,
			ErrorMessage: job.ErrorText,
			CreatedAt:    job.CreatedAt,
		}
		if job.Status == download.StatusCompleted {
			entry.DownloadURL = downloadURL(job.ID)
		}
		entries = append(entries, entry)
	}
	return download.HistoryPage{
		Downloads: entries,
		Total:     total,
		Page:      page,
		PerPage:   perPage,
	}, nil
}

func downloadURL(jobID string) string {
	return "/api/v1/downloads/" + jobID + "/file"
}
