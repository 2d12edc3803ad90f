// Package progress buffers byte-level transfer updates emitted by in-flight
// media fetches and exposes the latest value per job to status queries.
package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

// Config controls buffering and coalescing for the Tracker.
//   - BufferSize: size of the internal channel (default 1024).
//   - Threshold: minimum change in percent before a snapshot is replaced
//     (default 5). Terminal updates (>= 100) always apply.
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize int
	Threshold  float64
	Logger     *zap.Logger
}

const (
	defaultBufferSize = 1024
	defaultThreshold  = 5.0
	dropLogInterval   = 5 * time.Second
)

// Snapshot is the latest surfaced progress for a job.
type Snapshot struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	SpeedBPS        float64
	ETASeconds      int64
	UpdatedAt       time.Time
}

// Tracker ingests progress events through a bounded drop-oldest channel and
// keeps one coalesced snapshot per job. Emit never blocks the fetch goroutine;
// only the newest value matters, so dropped intermediate events are harmless.
type Tracker struct {
	cfg    Config
	events chan download.Progress
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	latest map[string]Snapshot

	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewTracker initializes a Tracker and starts its background loop.
func NewTracker(cfg Config) *Tracker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:    cfg,
		events: make(chan download.Progress, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
		latest: make(map[string]Snapshot),
	}
	go t.run()
	return t
}

// Emit enqueues a progress event. When the buffer is full the oldest queued
// event is discarded to make room for the newest one.
func (t *Tracker) Emit(p download.Progress) {
	if t == nil || t.closed.Load() {
		return
	}
	if p.JobID == "" {
		return
	}
	select {
	case t.events <- p:
		return
	default:
	}
	// Buffer full: drop the oldest event and retry once.
	select {
	case <-t.events:
		t.dropped.Add(1)
		metrics.ObserveProgressDrop()
	default:
	}
	select {
	case t.events <- p:
	default:
		t.dropped.Add(1)
		metrics.ObserveProgressDrop()
		t.maybeLogDrops()
	}
}

// Snapshot returns the latest surfaced progress for the job, if any.
func (t *Tracker) Snapshot(jobID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.latest[jobID]
	return snap, ok
}

// Forget discards the job's transient progress state. Workers call it once a
// job reaches a terminal status; persisted fields take over from there.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.latest, jobID)
}

// Close stops the background loop after draining buffered events.
func (t *Tracker) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.stopCh)
	})
	select {
	case <-t.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress tracker close wait: %w", ctx.Err())
	}
}

func (t *Tracker) run() {
	defer close(t.doneCh)
	for {
		select {
		case p := <-t.events:
			t.apply(p)
		case <-t.stopCh:
			for {
				select {
				case p := <-t.events:
					t.apply(p)
				default:
					return
				}
			}
		}
	}
}

// apply coalesces updates: a snapshot is replaced only when the percent moved
// by at least the threshold, finished, or is the first one for the job.
func (t *Tracker) apply(p download.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.latest[p.JobID]
	if seen && p.Percent < 100 {
		delta := p.Percent - prev.Percent
		if delta < 0 {
			delta = -delta
		}
		if delta < t.cfg.Threshold {
			return
		}
	}
	t.latest[p.JobID] = Snapshot{
		Percent:         p.Percent,
		DownloadedBytes: p.DownloadedBytes,
		TotalBytes:      p.TotalBytes,
		SpeedBPS:        p.SpeedBPS,
		ETASeconds:      p.ETASeconds,
		UpdatedAt:       time.Now().UTC(),
	}
}

func (t *Tracker) maybeLogDrops() {
	now := time.Now().UnixNano()
	last := t.lastDropLog.Load()
	if now-last < dropLogInterval.Nanoseconds() {
		return
	}
	if !t.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	count := t.dropped.Swap(0)
	t.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
}
