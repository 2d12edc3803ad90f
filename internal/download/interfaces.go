package download

import (
	"context"
	"time"
)

// HistoryFilter narrows history listings. Zero values mean no filtering.
type HistoryFilter struct {
	ClientIP  string
	SessionID string
}

// JobStore persists job records. All mutations are atomic per row; status
// updates enforce the lifecycle transition rules and reject regressions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateStatus(ctx context.Context, jobID string, status Status, errText string, at time.Time) error
	UpdateMetadata(ctx context.Context, jobID string, meta Metadata, at time.Time) error
	UpdateFileInfo(ctx context.Context, jobID string, info FileInfo, at time.Time) error
	DeleteJob(ctx context.Context, jobID string) error

	// CountByClientSince returns how many jobs the client created after the
	// given instant, regardless of their current status.
	CountByClientSince(ctx context.Context, clientIP string, since time.Time) (int, error)

	// ListPage returns a page of jobs ordered by creation time descending,
	// plus the unpaginated total.
	ListPage(ctx context.Context, filter HistoryFilter, page, perPage int) ([]Job, int, error)

	// Sweep queries used by the reclaimer. None of them return jobs that are
	// currently processing.
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]Job, error)
	ListExpired(ctx context.Context, now time.Time) ([]Job, error)
	ListBySession(ctx context.Context, sessionID string) ([]Job, error)
	ListPurgeable(ctx context.Context, cutoff time.Time) ([]Job, error)
}

// Gateway wraps the external retrieval service.
type Gateway interface {
	FetchMetadata(ctx context.Context, url string) (Metadata, error)
	FetchMedia(ctx context.Context, url string, opts MediaOptions, onProgress ProgressFunc) (Artifact, error)
}

// Progress is a byte-level snapshot reported while a media fetch is in flight.
type Progress struct {
	JobID           string
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	SpeedBPS        float64
	ETASeconds      int64
}

// ProgressFunc consumes progress snapshots. Implementations must not block
// the caller; the fetch goroutine invokes it inline.
type ProgressFunc func(p Progress)

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for download jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
