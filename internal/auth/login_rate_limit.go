package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"incident-api/internal/observability"
)

// HitCounter records one login hit for ip and reports whether it fits the
// window.
type HitCounter interface {
	Allow(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	counter HitCounter
	maxHits int
	window  time.Duration
	logger  *observability.Logger
}

func NewLoginRateLimiter(counter HitCounter, maxHits int, window time.Duration, logger *observability.Logger) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &LoginRateLimiter{
		counter: counter,
		maxHits: maxHits,
		window:  window,
		logger:  logger,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		allowed, retryAfter, err := l.counter.Allow(r.Context(), ip, l.maxHits, l.window, time.Now().UTC())
		if err != nil {
			// the per-account lockout still applies, so fail open here
			l.logger.Error("login_rate_limit_failed", map[string]any{"ip": ip, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MemoryHitCounter keeps a sliding window of hits per IP.
type MemoryHitCounter struct {
	mu        sync.Mutex
	hitByIP   map[string][]time.Time
	maxMemory int
}

func NewMemoryHitCounter() *MemoryHitCounter {
	return &MemoryHitCounter{
		hitByIP:   make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (c *MemoryHitCounter) Allow(_ context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= maxHits {
		retryAfter := filtered[0].Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		c.hitByIP[ip] = filtered
		return false, retryAfter, nil
	}

	filtered = append(filtered, now)
	c.hitByIP[ip] = filtered

	if len(c.hitByIP) > c.maxMemory {
		for key, value := range c.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(c.hitByIP, key)
			}
		}
	}

	return true, 0, nil
}

// PostgresHitCounter shares a fixed window per IP across instances.
type PostgresHitCounter struct {
	db *sql.DB
}

func NewPostgresHitCounter(db *sql.DB) *PostgresHitCounter {
	return &PostgresHitCounter{db: db}
}

func (c *PostgresHitCounter) Allow(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO login_ip_limits (ip, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (ip) DO UPDATE
		SET
			hits = CASE
				WHEN login_ip_limits.window_started_at <= $3 THEN 1
				ELSE login_ip_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN login_ip_limits.window_started_at <= $3 THEN $2
				ELSE login_ip_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

// RemoveStale drops limiter rows untouched since cutoff.
func (c *PostgresHitCounter) RemoveStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteInBatches(ctx, c.db, "login ip limits", `
		WITH stale AS (
			SELECT ip FROM login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff.UTC())
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}
