package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxRateLimitEntries = 100000

// Limiter is a sliding-window request limiter keyed by client IP.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	requests map[string][]time.Time
}

func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{window: window, max: max, requests: make(map[string][]time.Time)}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetIn := l.check(clientIP(r), time.Now())

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "Too many requests. Please slow down.",
				"resetIn": resetIn,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) check(ip string, now time.Time) (allowed bool, remaining int, resetIn int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := now.Add(-l.window)
	filtered := prune(l.requests[ip], windowStart)

	if len(filtered) >= l.max {
		resetSec := int(filtered[0].Add(l.window).Sub(now).Seconds()) + 1
		l.requests[ip] = filtered
		return false, 0, resetSec
	}

	if _, known := l.requests[ip]; !known && len(l.requests) >= maxRateLimitEntries {
		return false, 0, int(l.window.Seconds())
	}

	filtered = append(filtered, now)
	l.requests[ip] = filtered
	return true, l.max - len(filtered), 0
}

func prune(requests []time.Time, windowStart time.Time) []time.Time {
	filtered := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// StartCleanup drops idle clients every window until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.mu.Lock()
				windowStart := now.Add(-l.window)
				for ip, requests := range l.requests {
					if filtered := prune(requests, windowStart); len(filtered) == 0 {
						delete(l.requests, ip)
					} else {
						l.requests[ip] = filtered
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}
