package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/saveforme/saveforme/internal/download"
)

var jobRowColumns = []string{
	"id", "url", "video_id", "format", "quality", "audio_only", "client_ip", "session_id",
	"status", "error_text", "metadata", "file_path", "file_name", "file_size_mb",
	"created_at", "updated_at", "started_at", "completed_at", "expires_at",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *JobStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "downloads")
	require.NoError(t, err)
	return mock, store
}

func sampleJob(now time.Time) download.Job {
	return download.Job{
		ID:        "01912345-0000-7000-8000-000000000001",
		URL:       "https://youtu.be/abc123def45",
		VideoID:   "abc123def45",
		Quality:   "720p",
		ClientIP:  "203.0.113.7",
		SessionID: "sess-1",
		Status:    download.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestNewJobStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "downloads; DROP TABLE downloads")
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := sampleJob(now)

	quality := "720p"
	sessionID := "sess-1"
	mock.ExpectExec("INSERT INTO downloads").
		WithArgs(
			job.ID,
			job.URL,
			job.VideoID,
			nil,
			&quality,
			false,
			job.ClientIP,
			&sessionID,
			"pending",
			nil,
			nil,
			nil,
			nil,
			0.0,
			job.CreatedAt,
			job.UpdatedAt,
			nil,
			nil,
			job.ExpiresAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRequiresID(t *testing.T) {
	t.Parallel()

	_, store := newMockStore(t)
	err := store.CreateJob(context.Background(), download.Job{})
	require.Error(t, err)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM downloads WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, download.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Minute)

	rows := pgxmock.NewRows(jobRowColumns).AddRow(
		"job-1", "https://youtu.be/abc123def45", "abc123def45",
		nil, strPtr("720p"), false, "203.0.113.7", strPtr("sess-1"),
		"processing", nil, []byte(`{"video_id":"abc123def45","title":"clip"}`),
		nil, nil, nil,
		now, now, &started, nil, now.Add(24*time.Hour),
	)
	mock.ExpectQuery("SELECT .+ FROM downloads WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, download.StatusProcessing, job.Status)
	require.Equal(t, "720p", job.Quality)
	require.Equal(t, "sess-1", job.SessionID)
	require.NotNil(t, job.Metadata)
	require.Equal(t, "clip", job.Metadata.Title)
	require.NotNil(t, job.StartedAt)
	require.Equal(t, started, *job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusGuardedTransition(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE downloads SET").
		WithArgs("processing", nil, now, "job-1", []string{"pending"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateStatus(context.Background(), "job-1", download.StatusProcessing, "", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE downloads SET").
		WithArgs("completed", nil, now, "job-1", []string{"processing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM downloads").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("expired"))

	err := store.UpdateStatus(context.Background(), "job-1", download.StatusCompleted, "", now)

	var transErr *download.TransitionError
	require.ErrorAs(t, err, &transErr)
	require.Equal(t, download.StatusExpired, transErr.From)
	require.Equal(t, download.StatusCompleted, transErr.To)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMissingRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE downloads SET").
		WithArgs("failed", strPtr("boom"), now, "missing", []string{"processing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM downloads").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := store.UpdateStatus(context.Background(), "missing", download.StatusFailed, "boom", now)
	require.ErrorIs(t, err, download.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFileInfo(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE downloads SET file_path").
		WithArgs(strPtr("downloads/abc123def45_clip.mp4"), strPtr("abc123def45_clip.mp4"), 12.5, now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	info := download.FileInfo{Path: "downloads/abc123def45_clip.mp4", Name: "abc123def45_clip.mp4", SizeMB: 12.5}
	require.NoError(t, store.UpdateFileInfo(context.Background(), "job-1", info, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByClientSince(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	since := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM downloads WHERE client_ip").
		WithArgs("203.0.113.7", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.CountByClientSince(context.Background(), "203.0.113.7", since)
	require.NoError(t, err)
	require.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPage(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM downloads WHERE client_ip").
		WithArgs("203.0.113.7").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	rows := pgxmock.NewRows(jobRowColumns).AddRow(
		"job-1", "https://youtu.be/abc123def45", "abc123def45",
		nil, nil, false, "203.0.113.7", nil,
		"completed", nil, nil,
		strPtr("downloads/f.mp4"), strPtr("f.mp4"), floatPtr(12.5),
		now, now, nil, &now, now.Add(24*time.Hour),
	)
	mock.ExpectQuery("SELECT .+ FROM downloads WHERE client_ip .+ ORDER BY created_at DESC").
		WithArgs("203.0.113.7", 10, 10).
		WillReturnRows(rows)

	jobs, total, err := store.ListPage(context.Background(), download.HistoryFilter{ClientIP: "203.0.113.7"}, 2, 10)
	require.NoError(t, err)
	require.Equal(t, 42, total)
	require.Len(t, jobs, 1)
	require.Equal(t, 12.5, jobs[0].FileSizeMB)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPurgeable(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows(jobRowColumns).AddRow(
		"job-1", "https://youtu.be/abc123def45", "abc123def45",
		nil, nil, false, "203.0.113.7", nil,
		"expired", nil, nil,
		nil, nil, nil,
		cutoff.Add(-25*time.Hour), cutoff.Add(-2*time.Minute), nil, nil, cutoff.Add(-time.Hour),
	)
	mock.ExpectQuery("SELECT .+ FROM downloads WHERE status = 'expired'").
		WithArgs(cutoff).
		WillReturnRows(rows)

	jobs, err := store.ListPurgeable(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, download.StatusExpired, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("DELETE FROM downloads").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteJob(context.Background(), "missing")
	require.ErrorIs(t, err, download.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
