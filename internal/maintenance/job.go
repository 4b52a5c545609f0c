package maintenance

import (
	"context"
	"fmt"
	"time"

	"incident-api/internal/auth"
	"incident-api/internal/observability"
)

type AuthCleaner interface {
	Cleanup(ctx context.Context) (auth.CleanupResult, error)
}

// StaleRemover drops rate-limiter rows untouched since cutoff.
type StaleRemover interface {
	RemoveStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type Result struct {
	auth.CleanupResult
	RemovedIPLimits int64 `json:"removed_ip_limits"`
}

type Job struct {
	auth             AuthCleaner
	limiter          StaleRemover
	limiterRetention time.Duration
	logger           *observability.Logger
}

// NewJob builds the cleanup job. limiter may be nil when the login limiter
// keeps its state in memory.
func NewJob(cleaner AuthCleaner, limiter StaleRemover, limiterRetention time.Duration, logger *observability.Logger) *Job {
	if limiterRetention <= 0 {
		limiterRetention = 24 * time.Hour
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Job{
		auth:             cleaner,
		limiter:          limiter,
		limiterRetention: limiterRetention,
		logger:           logger,
	}
}

func (j *Job) Run(ctx context.Context) (Result, error) {
	cleaned, err := j.auth.Cleanup(ctx)
	if err != nil {
		return Result{}, err
	}
	result := Result{CleanupResult: cleaned}

	if j.limiter != nil {
		removed, err := j.limiter.RemoveStale(ctx, time.Now().UTC().Add(-j.limiterRetention))
		if err != nil {
			return result, fmt.Errorf("remove stale ip limits: %w", err)
		}
		result.RemovedIPLimits = removed
	}

	j.logger.Info("auth_cleanup_completed", map[string]any{
		"removed_refresh_tokens":    result.RemovedRefreshTokens,
		"removed_blacklist_entries": result.RemovedBlacklist,
		"removed_reset_tokens":      result.RemovedResetTokens,
		"removed_ip_limits":         result.RemovedIPLimits,
	})
	return result, nil
}

// Sweep runs the job every interval until ctx is done.
func (j *Job) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
