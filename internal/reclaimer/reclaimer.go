// Package reclaimer enforces retention: it expires aged jobs, deletes their
// artifacts, and eventually purges the expired records themselves.
package reclaimer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

// ArtifactStore is the slice of the artifact layer the reclaimer needs.
type ArtifactStore interface {
	Remove(path string) error
	Exists(path string) bool
}

// Config carries the retention windows and sweep cadences.
type Config struct {
	// CompletedRetention is how long completed artifacts live after creation
	// before the frequent sweep reclaims them. It is a short window, well
	// ahead of each job's absolute expiry.
	CompletedRetention time.Duration
	// PurgeGrace is how long an expired record lingers before deletion.
	PurgeGrace time.Duration

	RetentionSweepEvery time.Duration
	ExpirySweepEvery    time.Duration
	PurgeSweepEvery     time.Duration
}

// Reclaimer runs the multi-stage expiration pipeline on cron cadences.
// Jobs currently processing are never touched; the store's sweep queries
// exclude them.
type Reclaimer struct {
	store  download.JobStore
	files  ArtifactStore
	clock  download.Clock
	cfg    Config
	cron   *cron.Cron
	logger *zap.Logger
}

// New constructs a Reclaimer.
func New(store download.JobStore, files ArtifactStore, clock download.Clock, cfg Config, logger *zap.Logger) *Reclaimer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reclaimer{
		store:  store,
		files:  files,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Start schedules the sweeps and returns immediately. The context bounds
// each sweep's store and filesystem calls.
func (r *Reclaimer) Start(ctx context.Context) error {
	c := cron.New()
	schedule := func(every time.Duration, name string, sweep func(context.Context)) error {
		if every <= 0 {
			return nil
		}
		_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() { sweep(ctx) })
		if err != nil {
			return fmt.Errorf("schedule %s sweep: %w", name, err)
		}
		return nil
	}

	if err := schedule(r.cfg.RetentionSweepEvery, "retention", r.SweepRetention); err != nil {
		return err
	}
	if err := schedule(r.cfg.ExpirySweepEvery, "expiry", r.SweepExpiry); err != nil {
		return err
	}
	if err := schedule(r.cfg.PurgeSweepEvery, "purge", r.SweepPurge); err != nil {
		return err
	}

	c.Start()
	r.cron = c
	r.logger.Info("reclaimer started",
		zap.Duration("retention_sweep", r.cfg.RetentionSweepEvery),
		zap.Duration("expiry_sweep", r.cfg.ExpirySweepEvery),
		zap.Duration("purge_sweep", r.cfg.PurgeSweepEvery),
	)
	return nil
}

// Stop halts the schedule and waits for any running sweep to finish, or for
// the context to end.
func (r *Reclaimer) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepRetention expires completed jobs older than the short completed
// retention window.
func (r *Reclaimer) SweepRetention(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.cfg.CompletedRetention)
	jobs, err := r.store.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep listing failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		r.expire(ctx, job, "retention")
	}
}

// SweepExpiry expires any non-processing job whose absolute expiry passed.
// It is the safety net for jobs the retention sweep cannot see, such as
// failed jobs and stuck pending ones.
func (r *Reclaimer) SweepExpiry(ctx context.Context) {
	jobs, err := r.store.ListExpired(ctx, r.clock.Now())
	if err != nil {
		r.logger.Error("expiry sweep listing failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		r.expire(ctx, job, "expiry")
	}
}

// SweepPurge deletes expired records whose grace period has lapsed and whose
// artifact is gone.
func (r *Reclaimer) SweepPurge(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.cfg.PurgeGrace)
	jobs, err := r.store.ListPurgeable(ctx, cutoff)
	if err != nil {
		r.logger.Error("purge sweep listing failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		if job.FilePath != "" && r.files.Exists(job.FilePath) {
			if err := r.files.Remove(job.FilePath); err != nil {
				// Retried on the next sweep; the record stays until the
				// artifact is actually gone.
				r.logger.Error("purge artifact removal failed",
					zap.String("job_id", job.ID),
					zap.String("path", job.FilePath),
					zap.Error(err),
				)
				continue
			}
		}
		if err := r.store.DeleteJob(ctx, job.ID); err != nil {
			r.logger.Error("purge record deletion failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		metrics.ObservePurgedRecord()
		r.logger.Debug("record purged", zap.String("job_id", job.ID))
	}
}

// PurgeSession reclaims a session's jobs immediately: artifacts are removed
// and records marked expired, skipping jobs still processing. The records
// themselves stay until the purge sweep deletes them after the grace period.
// It returns the number of jobs reclaimed.
func (r *Reclaimer) PurgeSession(ctx context.Context, sessionID string) (int, error) {
	jobs, err := r.store.ListBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list session jobs: %w", err)
	}
	reclaimed := 0
	for _, job := range jobs {
		if job.Status == download.StatusExpired {
			continue
		}
		if r.expire(ctx, job, "session") {
			reclaimed++
		}
	}
	r.logger.Info("session reclaimed", zap.String("session_id", sessionID), zap.Int("jobs", reclaimed))
	return reclaimed, nil
}

// expire removes the job's artifact and marks the record expired, reporting
// whether both steps succeeded. Failures are logged and retried on a later
// sweep.
func (r *Reclaimer) expire(ctx context.Context, job download.Job, sweep string) bool {
	if job.FilePath != "" && r.files.Exists(job.FilePath) {
		if err := r.files.Remove(job.FilePath); err != nil {
			r.logger.Error("artifact removal failed",
				zap.String("job_id", job.ID),
				zap.String("path", job.FilePath),
				zap.Error(err),
			)
			return false
		}
		metrics.ObserveReclaimedFile(sweep)
	}
	if err := r.store.UpdateStatus(ctx, job.ID, download.StatusExpired, "", r.clock.Now()); err != nil {
		r.logger.Error("expire status update failed", zap.String("job_id", job.ID), zap.Error(err))
		return false
	}
	metrics.ObserveJobStatus(string(download.StatusExpired))
	r.logger.Debug("job expired", zap.String("job_id", job.ID), zap.String("sweep", sweep))
	return true
}
