// Package retry holds the pure retry/backoff helpers shared by the REST
// client and the CRM sync service.
package retry

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config bounds a retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig is the standard retry budget: 3 retries, 500ms seed, 10s cap.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Backoff returns the delay before retry attempt n (0-based): exponential
// growth seeded from InitialBackoff with up to 25% jitter, capped at
// MaxBackoff. The jitter keeps concurrent retriers from stampeding.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := cfg.InitialBackoff << uint(attempt)
	if d > cfg.MaxBackoff || d <= 0 {
		d = cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	d += jitter
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}

// Wait blocks for d or until ctx is done, whichever comes first. Returns the
// context error when the wait was cut short.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
// 429 and 5xx are transient; all other 4xx are caller errors.
func RetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// NewIdempotencyKey generates a client-side idempotency token for POST/PUT
// requests so a retried write is safe to replay on the server side.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
