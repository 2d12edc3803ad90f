// Package download defines core types shared across subsystems.
package download

import (
	"time"
)

// Status represents the lifecycle state of a download job.
type Status string

// Job status values persisted in the job store.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// rank orders statuses along the lifecycle so regressions can be rejected.
// Completed and failed share a rank; a job reaches exactly one of them.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	case StatusExpired:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Transitions never skip pending and never regress.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusExpired
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return next == StatusExpired
	case StatusExpired:
		return false
	}
	return false
}

// Terminal reports whether the job will not be picked up by a worker again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Request captures the client-supplied parameters of a submission.
type Request struct {
	URL       string `json:"url"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	AudioOnly bool   `json:"audio_only"`
	ClientIP  string `json:"-"`
	SessionID string `json:"-"`
}

// Metadata holds the video description fetched before the media transfer.
// All fields are optional; state progression never depends on them.
type Metadata struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	ViewCount   int64  `json:"view_count,omitempty"`
}

// Job represents the metadata persisted for each submitted download request.
type Job struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	VideoID   string `json:"video_id"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	AudioOnly bool   `json:"audio_only"`
	ClientIP  string `json:"-"`
	SessionID string `json:"-"`

	Status    Status `json:"status"`
	ErrorText string `json:"error_text,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`

	FilePath   string  `json:"-"`
	FileName   string  `json:"file_name,omitempty"`
	FileSizeMB float64 `json:"file_size_mb,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// FileInfo bundles the artifact fields recorded when a job completes.
type FileInfo struct {
	Path   string
	Name   string
	SizeMB float64
}

// MediaOptions selects format and quality for a media fetch.
type MediaOptions struct {
	Quality   string
	AudioOnly bool
	VideoID   string
}

// Artifact describes the local file produced by a successful media fetch.
type Artifact struct {
	Path   string
	Name   string
	SizeMB float64
}

// StatusView is the shape returned to callers polling job status.
type StatusView struct {
	ID           string   `json:"id"`
	Status       Status   `json:"status"`
	Progress     *float64 `json:"progress,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	FileName     string   `json:"file_name,omitempty"`
	FileSizeMB   float64  `json:"file_size_mb,omitempty"`
	DownloadURL  string   `json:"download_url,omitempty"`
}

// HistoryEntry is one row of a paginated history listing.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	DownloadURL  string    `json:"download_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryPage wraps history entries with pagination bookkeeping.
type HistoryPage struct {
	Downloads []HistoryEntry `json:"downloads"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PerPage   int            `json:"per_page"`
}
