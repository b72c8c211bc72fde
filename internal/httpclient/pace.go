package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer is a process-global per-host request pacer. All fetchers in the
// process share the same limiter for a given host, so many sources on the
// same upstream (reddit, youtube) don't hammer it at once.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// GlobalPacer is the shared per-host pacer: 2 requests/second with a small
// burst, per host, across the entire process.
var GlobalPacer = NewPacer(2, 4)

func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until the host extracted from rawURL has budget, or ctx ends.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	return p.limiterFor(rawURL).Wait(ctx)
}

func (p *Pacer) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[host] = l
	}
	return l
}
