package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer paces outbound upstream calls per account so a single account does
// not burst past the upstream's documented per-second quota even when the
// gateway itself is handling many concurrent callers. This sits alongside
// with, not instead of, the cooldown map in internal/account: the cooldown
// map reacts to 429s already received, the pacer tries to avoid causing
// them in the first place.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPacer creates a pacer allowing rps requests per second per account key,
// with the given burst allowance.
func NewPacer(rps float64, burst int) *Pacer {
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *Pacer) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = l
	}
	return l
}

// Wait blocks until accountKey is permitted to issue another upstream call,
// or ctx is done.
func (p *Pacer) Wait(ctx context.Context, accountKey string) error {
	if p.rps <= 0 {
		return nil
	}
	return p.limiterFor(accountKey).Wait(ctx)
}
