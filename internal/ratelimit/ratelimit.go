// Package ratelimit throttles repeated password-recovery requests per e-mail.
//
// It is best-effort: the default marker lives in a client-held cookie, so a
// client that drops cookies bypasses it. It reduces accidental resubmission and
// casual abuse and is not a security boundary. Use the Redis marker store when
// a server-side limit is required.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultWindow is the minimum interval between two requests for the same key
const DefaultWindow = 5 * time.Minute

// Decision is the outcome of a limiter check
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter allows one request per key per window
type Limiter struct {
	Window time.Duration
}

// NewLimiter creates a limiter, falling back to DefaultWindow
func NewLimiter(window time.Duration) Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return Limiter{Window: window}
}

// Allow decides from the time of the last accepted request, nil when there was none
func (l Limiter) Allow(last *time.Time, now time.Time) Decision {
	if last == nil {
		return Decision{Allowed: true}
	}
	elapsed := now.Sub(*last)
	if elapsed < 0 || elapsed >= l.Window {
		return Decision{Allowed: true}
	}
	wait := l.Window - elapsed
	return Decision{RetryAfterSeconds: int(math.Ceil(wait.Seconds()))}
}

// Key normalizes an e-mail into a marker key: lower-cased, alphanumerics only
func Key(email string) string {
	var b strings.Builder
	b.Grow(len(email))
	for _, r := range strings.ToLower(email) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MarkerStore persists the time of the last accepted request per key
type MarkerStore interface {
	Get(ctx context.Context, key string) (*time.Time, error)
	Set(ctx context.Context, key string, t time.Time, ttl time.Duration) error
}

// Check consults the store and records a new marker when the request is allowed
func (l Limiter) Check(ctx context.Context, store MarkerStore, key string, now time.Time) (Decision, error) {
	last, err := store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	decision := l.Allow(last, now)
	if !decision.Allowed {
		return decision, nil
	}
	if err := store.Set(ctx, key, now, l.Window); err != nil {
		return decision, err
	}
	return decision, nil
}
