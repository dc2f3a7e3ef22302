package sources

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter rate limits requests per upstream host.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHostLimiter allows limit requests per second to each host with the given burst.
func NewHostLimiter(limit rate.Limit, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until a request to rawURL's host is allowed.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return l.get(hostOf(rawURL)).Wait(ctx)
}

// Slow limits rawURL's host to one request per delay when that is slower
// than its current rate. A host is never sped up.
func (l *HostLimiter) Slow(rawURL string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	lim := l.get(hostOf(rawURL))
	if every := rate.Every(delay); every < lim.Limit() {
		lim.SetLimit(every)
		lim.SetBurst(1)
	}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

func (l *HostLimiter) get(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	return lim
}
