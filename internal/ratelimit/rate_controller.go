package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default pacing values.
const (
	DefaultBaseDelay = 50 * time.Millisecond
	DefaultMaxDelay  = 2 * time.Second
)

// ErrMaxWaitExceeded is returned when budget did not free up in time.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for generation budget")

// Pacer waits for budget with exponential backoff between refusals.
type Pacer struct {
	tracker          *BudgetTracker
	baseDelay        time.Duration
	maxDelay         time.Duration
	currentDelay     time.Duration
	consecutiveFails int
	mu               sync.Mutex
}

// NewPacer creates a pacer over tracker. Zero delays use the defaults.
func NewPacer(tracker *BudgetTracker, baseDelay, maxDelay time.Duration) *Pacer {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if baseDelay > maxDelay {
		baseDelay = maxDelay
	}

	return &Pacer{
		tracker:      tracker,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		currentDelay: baseDelay,
	}
}

// Wait blocks until units are granted, ctx is done or maxWait passes.
// A non-positive maxWait waits as long as ctx allows.
func (p *Pacer) Wait(ctx context.Context, units int, priority Priority, maxWait time.Duration) error {
	if units <= 0 {
		return nil
	}

	var deadline <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait := p.tracker.TryConsume(ctx, units, priority)
		if allowed {
			p.recordSuccess()
			return nil
		}

		delay := p.recordFailure()
		if wait > delay {
			delay = wait
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrMaxWaitExceeded
		case <-time.After(delay):
		}
	}
}

func (p *Pacer) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFails = 0
	p.currentDelay = p.baseDelay
}

// recordFailure doubles the delay up to maxDelay and returns the delay to use
func (p *Pacer) recordFailure() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.currentDelay
	p.consecutiveFails++

	next := p.currentDelay * 2
	if next > p.maxDelay {
		next = p.maxDelay
	}
	p.currentDelay = next

	return delay
}

// CurrentDelay returns the current backoff delay.
func (p *Pacer) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}
