// Package admission implements per-client rate-limit admission control over
// trailing one-hour and 24-hour windows.
package admission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
)

// Counter is the slice of the job store the controller needs.
type Counter interface {
	CountByClientSince(ctx context.Context, clientIP string, since time.Time) (int, error)
}

// Config holds the admission ceilings.
type Config struct {
	HourlyLimit int
	DailyLimit  int
}

// Decision is the outcome of a rate-limit check, including the observed
// counts so callers can surface them.
type Decision struct {
	Allowed     bool `json:"allowed"`
	HourlyCount int  `json:"hourly_count"`
	HourlyLimit int  `json:"hourly_limit"`
	DailyCount  int  `json:"daily_count"`
	DailyLimit  int  `json:"daily_limit"`
}

// Controller decides whether a client may submit another job. It counts the
// client's existing jobs inside each trailing window; a submission is allowed
// only while both counts are strictly below their ceilings.
//
// This is advisory, best-effort control: two concurrent submissions from the
// same client can both read counts below the ceiling and both be admitted,
// transiently exceeding the nominal limit by a small margin. That
// approximation is accepted; there is no cross-request locking here.
type Controller struct {
	store  Counter
	clock  download.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Controller.
func New(store Counter, clock download.Clock, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Check computes the client's trailing-window counts and the admission
// decision.
func (c *Controller) Check(ctx context.Context, clientIP string) (Decision, error) {
	now := c.clock.Now()

	hourly, err := c.store.CountByClientSince(ctx, clientIP, now.Add(-time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count hourly window: %w", err)
	}
	daily, err := c.store.CountByClientSince(ctx, clientIP, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count daily window: %w", err)
	}

	decision := Decision{
		Allowed:     hourly < c.cfg.HourlyLimit && daily < c.cfg.DailyLimit,
		HourlyCount: hourly,
		HourlyLimit: c.cfg.HourlyLimit,
		DailyCount:  daily,
		DailyLimit:  c.cfg.DailyLimit,
	}
	if !decision.Allowed {
		c.logger.Info("submission denied by rate limit",
			zap.String("client_ip", clientIP),
			zap.Int("hourly_count", hourly),
			zap.Int("daily_count", daily),
		)
	}
	return decision, nil
}
