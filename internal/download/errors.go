package download

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers or recorded on failed jobs.
var (
	// ErrInvalidRequest marks a malformed or unsupported source URL.
	ErrInvalidRequest = errors.New("invalid download request")
	// ErrNotFound is returned by stores when no job matches the given ID.
	ErrNotFound = errors.New("job not found")
	// ErrArtifactMissing means the media fetch reported success but no file
	// tagged with the video ID exists in the storage directory.
	ErrArtifactMissing = errors.New("downloaded artifact not found")
	// ErrArtifactAmbiguous means more than one file matched the video ID.
	ErrArtifactAmbiguous = errors.New("multiple artifacts match video id")
	// ErrArtifactTooLarge means the artifact exceeded the configured ceiling.
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
	// ErrJobTimeout marks a job that exceeded the wall-clock ceiling.
	ErrJobTimeout = errors.New("job exceeded time limit")
)

// RateLimitError is returned when admission control denies a submission. It
// carries the observed counts so the API can surface them to the client.
type RateLimitError struct {
	HourlyCount int
	HourlyLimit int
	DailyCount  int
	DailyLimit  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d hourly, %d/%d daily",
		e.HourlyCount, e.HourlyLimit, e.DailyCount, e.DailyLimit)
}

// MetadataError wraps a failure of the metadata fetch step. Metadata fetches
// are never retried; the job moves straight to failed.
type MetadataError struct {
	URL string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("fetch metadata for %s: %v", e.URL, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// MediaFetchError aggregates the failures of both retrieval strategies.
type MediaFetchError struct {
	PrimaryErr  error
	FallbackErr error
}

func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("primary strategy: %v; fallback strategy: %v", e.PrimaryErr, e.FallbackErr)
}

// TransitionError reports an illegal status transition attempt. The store
// rejects the update and leaves the row unchanged.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %s -> %s", e.JobID, e.From, e.To)
}
