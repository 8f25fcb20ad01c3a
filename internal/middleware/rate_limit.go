package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the default number of layout writes per minute
	DefaultRateLimit = 100
	// DefaultBurstSize is the default burst size
	DefaultBurstSize = 10
	// CleanupInterval is how often idle buckets are swept
	CleanupInterval = 5 * time.Minute
	// LimiterTTL is how long a bucket may sit idle before it is dropped
	LimiterTTL = 10 * time.Minute
)

// Quota is the outcome of taking one token from a caller's bucket
type Quota struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// RateLimiter keeps one token bucket per caller
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perMinute int
	every     rate.Limit
	burst     int

	stopCh   chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter with the default quota
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(DefaultRateLimit, DefaultBurstSize)
}

// NewRateLimiterWithConfig creates a RateLimiter allowing perMinute writes with
// bursts of up to burst, and starts its sweeper. Call Stop when done.
func NewRateLimiterWithConfig(perMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		every:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		stopCh:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow reports whether key may make one more request now
func (r *RateLimiter) Allow(key string) bool {
	return r.Take(key, time.Now()).Allowed
}

// Take spends one token for key at now. A refused request spends nothing.
func (r *RateLimiter) Take(key string, now time.Time) Quota {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucketFor(key, now)
	q := Quota{Limit: r.perMinute}

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
		res.CancelAt(now)
		q.RetryAfter = delay
		if !res.OK() || q.RetryAfter < time.Second {
			q.RetryAfter = time.Second
		}
		q.Reset = now.Add(q.RetryAfter)
		return q
	}

	q.Allowed = true
	q.Remaining = int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
	q.Reset = now.Add(r.refillTime(r.burst - q.Remaining))
	return q
}

// Peek reports the quota for key without spending a token
func (r *RateLimiter) Peek(key string, now time.Time) Quota {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := Quota{Allowed: true, Limit: r.perMinute, Remaining: r.burst, Reset: now}
	if b, ok := r.buckets[key]; ok {
		q.Remaining = int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
		q.Reset = now.Add(r.refillTime(r.burst - q.Remaining))
		q.Allowed = q.Remaining > 0
	}
	return q
}

func (r *RateLimiter) bucketFor(key string, now time.Time) *bucket {
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.every, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// refillTime is how long it takes to earn back n tokens
func (r *RateLimiter) refillTime(n int) time.Duration {
	if n <= 0 || r.every <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(r.every) * float64(time.Second))
}

func (r *RateLimiter) sweep() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.removeStale(now)
		case <-r.stopCh:
			return
		}
	}
}

func (r *RateLimiter) removeStale(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > LimiterTTL {
			delete(r.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(r.buckets)).Msg("Swept idle rate limit buckets")
	}
}

// Stop ends the sweeper. It may be called more than once.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// RateLimitMiddleware limits layout writes per authenticated user. Reads and
// requests without a user pass through untouched.
func RateLimitMiddleware(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := GetUserID(c)
			if userID == "" || !isWrite(c.Request().Method) {
				return next(c)
			}

			q := rl.Take(userID, time.Now())
			setQuotaHeaders(c.Response().Header(), q)
			if q.Allowed {
				return next(c)
			}

			seconds := int(math.Ceil(q.RetryAfter.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			log.Warn().
				Str("user_id", userID).
				Str("namespace", GetNamespace(c)).
				Int("retry_after", seconds).
				Msg("Layout write rate limit exceeded")

			return rateLimitError(c, fmt.Sprintf("Too many layout changes. Retry in %d seconds.", seconds))
		}
	}
}

func setQuotaHeaders(h http.Header, q Quota) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(q.Reset.Unix(), 10))
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
