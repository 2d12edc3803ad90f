package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

// Invoker runs a single strategy-parameterized call against the media engine.
type Invoker interface {
	Metadata(ctx context.Context, url string, st Strategy) (download.Metadata, error)
	Download(ctx context.Context, url string, opts download.MediaOptions, st Strategy, onProgress download.ProgressFunc) (download.Artifact, error)
}

// Config carries the two resolved strategies.
type Config struct {
	Primary  Strategy
	Fallback Strategy
}

// Gateway implements download.Gateway on top of an Invoker. Metadata fetches
// are a single attempt with the primary strategy; media fetches exhaust the
// primary strategy, then the fallback, and aggregate both failures when
// neither succeeds.
type Gateway struct {
	invoker  Invoker
	primary  Strategy
	fallback Strategy
	backoff  backoffPolicy
	logger   *zap.Logger
}

// New constructs a Gateway.
func New(invoker Invoker, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		invoker:  invoker,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		backoff:  defaultBackoffPolicy(),
		logger:   logger,
	}
}

// FetchMetadata fetches the video description using the primary strategy.
// It is a single attempt with no retry and no fallback; a failure is
// wrapped in a MetadataError and fails the job.
func (g *Gateway) FetchMetadata(ctx context.Context, url string) (download.Metadata, error) {
	meta, err := g.invoker.Metadata(ctx, url, g.primary)
	if err != nil {
		g.logger.Warn("metadata fetch failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return download.Metadata{}, &download.MetadataError{URL: url, Err: err}
	}
	return meta, nil
}

// FetchMedia transfers the media with the primary strategy, then the
// fallback. When both strategies are exhausted the returned error carries
// each strategy's final failure.
func (g *Gateway) FetchMedia(ctx context.Context, url string, opts download.MediaOptions, onProgress download.ProgressFunc) (download.Artifact, error) {
	art, primaryErr := g.fetchWith(ctx, g.primary, url, opts, onProgress)
	if primaryErr == nil {
		return art, nil
	}
	if nonRetryable(primaryErr) {
		return download.Artifact{}, primaryErr
	}

	g.logger.Warn("primary strategy exhausted, trying fallback",
		zap.String("url", url),
		zap.Error(primaryErr),
	)

	art, fallbackErr := g.fetchWith(ctx, g.fallback, url, opts, onProgress)
	if fallbackErr == nil {
		g.logger.Info("fallback strategy succeeded", zap.String("url", url))
		return art, nil
	}
	if nonRetryable(fallbackErr) {
		return download.Artifact{}, fallbackErr
	}
	return download.Artifact{}, &download.MediaFetchError{
		PrimaryErr:  primaryErr,
		FallbackErr: fallbackErr,
	}
}

// fetchWith runs one strategy to exhaustion, backing off between attempts.
func (g *Gateway) fetchWith(ctx context.Context, st Strategy, url string, opts download.MediaOptions, onProgress download.ProgressFunc) (download.Artifact, error) {
	var lastErr error
	for attempt := 0; attempt < st.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.backoff.wait(ctx, attempt-1); err != nil {
				return download.Artifact{}, lastErr
			}
		}
		art, err := g.invoker.Download(ctx, url, opts, st, onProgress)
		if err == nil {
			metrics.ObserveRetrievalAttempt(st.Name, "success")
			return art, nil
		}
		metrics.ObserveRetrievalAttempt(st.Name, "failure")
		lastErr = err
		if nonRetryable(err) {
			return download.Artifact{}, err
		}
		g.logger.Warn("media attempt failed",
			zap.String("url", url),
			zap.String("strategy", st.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return download.Artifact{}, lastErr
}
