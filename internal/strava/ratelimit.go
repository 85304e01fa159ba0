package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strava rate limits (per application):
// - 100 requests per 15 minutes
// - 1000 requests per day

// ErrRateLimited is returned when a window is exhausted. Webhook jobs fail fast
// instead of sleeping until the window resets.
var ErrRateLimited = errors.New("strava rate limit exhausted")

// RateLimiter tracks Strava API usage across all athletes
type RateLimiter struct {
	mu sync.Mutex

	// 15-minute window
	shortLimit    int
	shortUsage    int
	shortResetsAt time.Time

	// Daily window
	dailyLimit    int
	dailyUsage    int
	dailyResetsAt time.Time

	// Minimum interval between requests
	minInterval time.Duration
	lastRequest time.Time

	now func() time.Time
}

// NewRateLimiter creates a new rate limiter with Strava's limits
func NewRateLimiter() *RateLimiter {
	r := &RateLimiter{
		shortLimit:  100,
		dailyLimit:  1000,
		minInterval: 150 * time.Millisecond,
		now:         time.Now,
	}
	now := r.now()
	r.shortResetsAt = nextQuarterHour(now)
	r.dailyResetsAt = nextMidnightUTC(now)
	return r
}

// Reserve claims one request slot. It waits at most minInterval for spacing
// and returns ErrRateLimited when either window has no budget left.
func (r *RateLimiter) Reserve(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Reset windows if expired
	if !now.Before(r.shortResetsAt) {
		r.shortUsage = 0
		r.shortResetsAt = nextQuarterHour(now)
	}
	if !now.Before(r.dailyResetsAt) {
		r.dailyUsage = 0
		r.dailyResetsAt = nextMidnightUTC(now)
	}

	if r.shortUsage >= r.shortLimit {
		return fmt.Errorf("%w: 15-minute window resets at %s", ErrRateLimited, r.shortResetsAt.Format(time.RFC3339))
	}
	if r.dailyUsage >= r.dailyLimit {
		return fmt.Errorf("%w: daily window resets at %s", ErrRateLimited, r.dailyResetsAt.Format(time.RFC3339))
	}

	// Enforce minimum interval between requests
	if elapsed := now.Sub(r.lastRequest); elapsed < r.minInterval {
		wait := r.minInterval - elapsed
		r.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			r.mu.Lock()
			return ctx.Err()
		}
		r.mu.Lock()
	}

	r.shortUsage++
	r.dailyUsage++
	r.lastRequest = r.now()

	return nil
}

// UpdateFromHeaders updates rate limit state from Strava response headers
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strava returns: X-RateLimit-Limit: "100,1000" and X-RateLimit-Usage: "34,512"
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Usage")); ok {
		r.shortUsage, r.dailyUsage = short, daily
	}
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Limit")); ok {
		r.shortLimit, r.dailyLimit = short, daily
	}
}

// Status returns current rate limit status
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortLimit - r.shortUsage, r.dailyLimit - r.dailyUsage
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// Strava's short window is aligned to the quarter hour, the daily one to UTC midnight
func nextQuarterHour(t time.Time) time.Time {
	return t.Truncate(15 * time.Minute).Add(15 * time.Minute)
}

func nextMidnightUTC(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
