package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Pacer makes callers with the same key wait until interval has passed since
// the previous call for that key returned from Wait. A zero interval never
// waits.
type Pacer struct {
	interval time.Duration
	lastSent map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

func New(interval time.Duration) *Pacer {
	return &Pacer{
		interval: max(interval, 0),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Wait blocks until key may be used again or ctx is done.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	if p == nil || p.interval == 0 {
		return ctx.Err()
	}

	for {
		p.mu.Lock()
		delay := p.delay(key)
		if delay == 0 {
			p.lastSent[key] = p.now()
			p.mu.Unlock()

			return nil
		}
		p.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		}
	}
}

func (p *Pacer) delay(key string) time.Duration {
	lastSent, ok := p.lastSent[key]
	if !ok {
		return 0
	}

	return max(p.interval-p.now().Sub(lastSent), 0)
}
