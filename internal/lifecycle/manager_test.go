package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
	"github.com/saveforme/saveforme/internal/policy/admission"
	"github.com/saveforme/saveforme/internal/progress"
	queuemem "github.com/saveforme/saveforme/internal/queue/memory"
	storemem "github.com/saveforme/saveforme/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type fakeAdmitter struct {
	decision admission.Decision
	err      error
}

func (f *fakeAdmitter) Check(context.Context, string) (admission.Decision, error) {
	return f.decision, f.err
}

type fakeProgress struct {
	snaps map[string]progress.Snapshot
}

func (f *fakeProgress) Snapshot(jobID string) (progress.Snapshot, bool) {
	s, ok := f.snaps[jobID]
	return s, ok
}

type fakeArtifacts struct{ present map[string]bool }

func (f *fakeArtifacts) Exists(path string) bool { return f.present[path] }

type managerFixture struct {
	manager *Manager
	store   *storemem.JobStore
	queue   *queuemem.Queue
	admit   *fakeAdmitter
	prog    *fakeProgress
	files   *fakeArtifacts
	now     time.Time
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &managerFixture{
		store: storemem.NewJobStore(),
		queue: queuemem.NewQueue(8),
		admit: &fakeAdmitter{decision: admission.Decision{Allowed: true, HourlyLimit: 50, DailyLimit: 200}},
		prog:  &fakeProgress{snaps: map[string]progress.Snapshot{}},
		files: &fakeArtifacts{present: map[string]bool{}},
		now:   now,
	}
	f.manager = New(
		f.store, f.queue, f.admit, f.prog, f.files,
		fixedClock{now: now}, &seqIDs{},
		Config{
			FileRetention:     24 * time.Hour,
			SessionRetention:  time.Hour,
			HistoryPerPageMax: 100,
		},
		nil,
	)
	return f
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, download.Request{
		URL:      "https://www.youtube.com/watch?v=abc123def45",
		Quality:  "720p",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "abc123def45", job.VideoID)
	assert.Equal(t, download.StatusPending, job.Status)
	assert.Equal(t, f.now.Add(24*time.Hour), job.ExpiresAt)

	stored, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, download.StatusPending, stored.Status)

	item, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)
}

func TestSubmitSessionUsesShorterRetention(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.manager.Submit(context.Background(), download.Request{
		URL:       "https://youtu.be/abc123def45",
		ClientIP:  "203.0.113.7",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Hour), job.ExpiresAt)
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(), download.Request{
		URL:      "https://vimeo.com/12345",
		ClientIP: "203.0.113.7",
	})
	require.ErrorIs(t, err, download.ErrInvalidRequest)
}

func TestSubmitRejectsInvalidQuality(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(), download.Request{
		URL:      "https://youtu.be/abc123def45",
		Quality:  "ultra",
		ClientIP: "203.0.113.7",
	})
	require.ErrorIs(t, err, download.ErrInvalidRequest)
}

func TestSubmitRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.admit.decision = admission.Decision{
		Allowed:     false,
		HourlyCount: 50, HourlyLimit: 50,
		DailyCount: 120, DailyLimit: 200,
	}

	_, err := f.manager.Submit(context.Background(), download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})

	var rateErr *download.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 50, rateErr.HourlyCount)
	assert.Equal(t, 200, rateErr.DailyLimit)
}

func TestSubmitAdmitterError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.admit.err = errors.New("db down")

	_, err := f.manager.Submit(context.Background(), download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admission check")
}

func TestSubmitRollsBackWhenQueueFull(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	full := queuemem.NewQueue(0)
	f.manager = New(
		f.store, full, f.admit, f.prog, f.files,
		fixedClock{now: f.now}, &seqIDs{},
		Config{FileRetention: 24 * time.Hour},
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.manager.Submit(ctx, download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})
	require.Error(t, err)

	_, err = f.store.GetJob(context.Background(), "job-1")
	require.ErrorIs(t, err, download.ErrNotFound)
}

func TestStatusMergesLiveProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateStatus(ctx, job.ID, download.StatusProcessing, "", f.now))
	f.prog.snaps[job.ID] = progress.Snapshot{Percent: 37.5}

	view, err := f.manager.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StatusProcessing, view.Status)
	require.NotNil(t, view.Progress)
	assert.InDelta(t, 37.5, *view.Progress, 0.001)
	assert.Empty(t, view.DownloadURL)
}

func TestStatusCompletedExposesDownloadURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateStatus(ctx, job.ID, download.StatusProcessing, "", f.now))
	require.NoError(t, f.store.UpdateFileInfo(ctx, job.ID, download.FileInfo{
		Path: "downloads/abc123def45_clip.mp4", Name: "abc123def45_clip.mp4", SizeMB: 12.5,
	}, f.now))
	require.NoError(t, f.store.UpdateStatus(ctx, job.ID, download.StatusCompleted, "", f.now))

	view, err := f.manager.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StatusCompleted, view.Status)
	assert.Equal(t, "/api/v1/downloads/job-1/file", view.DownloadURL)
	require.NotNil(t, view.Progress)
	assert.InDelta(t, 100.0, *view.Progress, 0.001)
	assert.Equal(t, 12.5, view.FileSizeMB)
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.manager.Status(context.Background(), "missing")
	require.ErrorIs(t, err, download.ErrNotFound)
}

func TestFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, download.Request{
		URL:      "https://youtu.be/abc123def45",
		ClientIP: "203.0.113.7",
	})
	require.NoError(t, err)

	// Not yet completed.
	_, err = f.manager.File(ctx, job.ID)
	require.ErrorIs(t, err, download.ErrArtifactMissing)

	require.NoError(t, f.store.UpdateStatus(ctx, job.ID, download.StatusProcessing, "", f.now))
	require.NoError(t, f.store.UpdateFileInfo(ctx, job.ID, download.FileInfo{
		Path: "downloads/abc123def45_clip.mp4", Name: "abc123def45_clip.mp4", SizeMB: 12.5,
	}, f.now))
	require.NoError(t, f.store.UpdateStatus(ctx, job.ID, download.StatusCompleted, "", f.now))

	// Completed but the file is already gone from disk.
	_, err = f.manager.File(ctx, job.ID)
	require.ErrorIs(t, err, download.ErrArtifactMissing)

	f.files.present["downloads/abc123def45_clip.mp4"] = true
	got, err := f.manager.File(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123def45_clip.mp4", got.FileName)
}

func TestHistoryPaginatesAndCapsPerPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.manager.Submit(ctx, download.Request{
			URL:      "https://youtu.be/abc123def45",
			ClientIP: "203.0.113.7",
		})
		require.NoError(t, err)
	}

	page, err := f.manager.History(ctx, download.HistoryFilter{ClientIP: "203.0.113.7"}, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 100, page.PerPage, "per_page must be capped")
	assert.Len(t, page.Downloads, 3)

	page, err = f.manager.History(ctx, download.HistoryFilter{ClientIP: "203.0.113.7"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PerPage)
}
