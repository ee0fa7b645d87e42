package transport

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimitedTransport keeps one token bucket per destination host.
type rateLimitedTransport struct {
	next  http.RoundTripper
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimitedTransport(next http.RoundTripper, rps float64, burst int) *rateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedTransport{
		next:     next,
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *rateLimitedTransport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.rps), t.burst)
		t.limiters[host] = l
	}
	return l
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// Len returns the number of tracked hosts (for testing)
func (t *rateLimitedTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
