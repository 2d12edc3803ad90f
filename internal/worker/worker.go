// Package worker implements the download pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

// Tracker receives live progress from the media fetch and is told to drop a
// job's points once the job reaches a terminal status.
type Tracker interface {
	Emit(p download.Progress)
	Forget(jobID string)
}

// Remover deletes artifacts that failed post-transfer checks.
type Remover interface {
	Remove(path string) error
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds the wall-clock time of one job.
	JobTimeout time.Duration
	// MaxFileSizeMB rejects artifacts larger than this after transfer.
	MaxFileSizeMB int
	// MaxDurationMinutes rejects videos longer than this before transfer.
	MaxDurationMinutes int
}

// Worker consumes queue items and executes the download pipeline.
type Worker struct {
	queue   download.Queue
	store   download.JobStore
	gateway download.Gateway
	tracker Tracker
	files   Remover
	clock   download.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue download.Queue,
	store download.JobStore,
	gateway download.Gateway,
	tracker Tracker,
	files Remover,
	clock download.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		store:   store,
		gateway: gateway,
		tracker: tracker,
		files:   files,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item download.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.clock.Now()
	if err := w.store.UpdateStatus(ctx, item.JobID, download.StatusProcessing, "", started); err != nil {
		// The job may have expired or been purged while queued.
		w.logger.Warn("job not claimable, skipping",
			zap.String("job_id", item.JobID),
			zap.Error(err),
		)
		return
	}

	job, err := w.store.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if w.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
	}
	err = w.execute(jobCtx, job)
	cancel()

	elapsed := w.clock.Now().Sub(started)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", download.ErrJobTimeout, w.cfg.JobTimeout)
		}
		w.fail(ctx, job.ID, err)
		metrics.ObserveJobStatus(string(download.StatusFailed))
		metrics.ObserveJobDuration(string(download.StatusFailed), elapsed)
	} else {
		w.logger.Info("job completed",
			zap.String("job_id", job.ID),
			zap.Duration("elapsed", elapsed),
		)
		metrics.ObserveJobStatus(string(download.StatusCompleted))
		metrics.ObserveJobDuration(string(download.StatusCompleted), elapsed)
	}
	w.tracker.Forget(job.ID)
}

// execute runs the pipeline stages: metadata probe, duration gate, media
// transfer, size gate, persistence.
func (w *Worker) execute(ctx context.Context, job download.Job) error {
	meta, err := w.gateway.FetchMetadata(ctx, job.URL)
	if err != nil {
		return err
	}
	if w.cfg.MaxDurationMinutes > 0 && meta.Duration > int64(w.cfg.MaxDurationMinutes)*60 {
		return fmt.Errorf("%w: video runs %s, limit is %d minutes",
			download.ErrInvalidRequest, download.FormatDuration(meta.Duration), w.cfg.MaxDurationMinutes)
	}
	// Metadata is informational; a failed write does not stop the transfer.
	if err := w.store.UpdateMetadata(ctx, job.ID, meta, w.clock.Now()); err != nil {
		w.logger.Warn("persist metadata failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	opts := download.MediaOptions{
		Quality:   job.Quality,
		AudioOnly: job.AudioOnly,
		VideoID:   job.VideoID,
	}
	onProgress := func(p download.Progress) {
		p.JobID = job.ID
		w.tracker.Emit(p)
	}
	artifact, err := w.gateway.FetchMedia(ctx, job.URL, opts, onProgress)
	if err != nil {
		return err
	}

	if w.cfg.MaxFileSizeMB > 0 && artifact.SizeMB > float64(w.cfg.MaxFileSizeMB) {
		if rmErr := w.files.Remove(artifact.Path); rmErr != nil {
			w.logger.Error("remove oversize artifact failed",
				zap.String("job_id", job.ID),
				zap.String("path", artifact.Path),
				zap.Error(rmErr),
			)
		}
		return fmt.Errorf("%w: %s > %d MB",
			download.ErrArtifactTooLarge, download.FormatSizeMB(artifact.SizeMB), w.cfg.MaxFileSizeMB)
	}

	info := download.FileInfo{Path: artifact.Path, Name: artifact.Name, SizeMB: artifact.SizeMB}
	if err := w.store.UpdateFileInfo(ctx, job.ID, info, w.clock.Now()); err != nil {
		return fmt.Errorf("persist file info: %w", err)
	}
	if err := w.store.UpdateStatus(ctx, job.ID, download.StatusCompleted, "", w.clock.Now()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	metrics.ObserveArtifactBytes(int64(artifact.SizeMB * 1024 * 1024))
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	w.logger.Warn("job failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := w.store.UpdateStatus(ctx, jobID, download.StatusFailed, cause.Error(), w.clock.Now()); err != nil {
		w.logger.Error("fail status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
