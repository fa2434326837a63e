package gateway

import (
	"sync"
	"time"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 10
)

// ClientRateLimiter limits one WebSocket client with a sliding one-minute
// window and a cap on in-flight requests.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	inFlight          int
	now               func() time.Time
}

// NewClientRateLimiter creates a rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(DefaultRequestsPerMinute, DefaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Begin admits a request and counts it as in flight. On rejection it returns
// the RPC error code and reason.
func (r *ClientRateLimiter) Begin() (bool, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, TooManyConcurrent, "too many concurrent requests"
	}

	r.pruneLocked()
	if len(r.requests) >= r.requestsPerMinute {
		return false, RateLimitExceeded, "rate limit exceeded"
	}

	r.requests = append(r.requests, r.now())
	r.inFlight++
	return true, 0, ""
}

// End marks an admitted request as finished
func (r *ClientRateLimiter) End() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Stats returns the requests in the current window and those in flight
func (r *ClientRateLimiter) Stats() (requestCount, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests), r.inFlight
}

func (r *ClientRateLimiter) pruneLocked() {
	cutoff := r.now().Add(-time.Minute)
	kept := r.requests[:0]
	for _, at := range r.requests {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	r.requests = kept
}
