package retrieval

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/saveforme/saveforme/internal/download"
)

// backoffPolicy computes jittered exponential delays between attempts.
type backoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func defaultBackoffPolicy() backoffPolicy {
	return backoffPolicy{
		baseDelay: 500 * time.Millisecond,
		maxDelay:  10 * time.Second,
	}
}

// delay returns the wait duration before the given (zero-based) retry.
func (p backoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	return time.Duration(d/2) + randomJitter(time.Duration(d)/2)
}

// wait sleeps for the attempt's backoff, or returns early with the context
// error if the context is done first.
func (p backoffPolicy) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// nonRetryable reports errors that further attempts, including the fallback
// strategy, cannot fix: the caller gave up, or the engine exited cleanly but
// the artifact itself is unusable.
func nonRetryable(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, download.ErrArtifactMissing) ||
		errors.Is(err, download.ErrArtifactAmbiguous)
}
