package delivery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is cooling down.
var ErrCircuitOpen = errors.New("delivery circuit open")

// BreakerConfig holds consecutive-failure breaker settings.
// Trip < 0 disables the breaker; zero values take defaults.
type BreakerConfig struct {
	Trip       int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ResetAfter time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Trip == 0 {
		c.Trip = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

// Breaker wraps a channel with a consecutive-failure circuit breaker:
//   - a success closes the circuit and clears the failure count;
//   - once failures reach Trip the circuit opens for BaseDelay, doubling
//     with every further failure up to MaxDelay;
//   - a failure streak older than ResetAfter is forgotten.
//
// Invalid-recipient failures are the caller's fault and do not count.
type Breaker struct {
	next Channel
	cfg  BreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func NewBreaker(next Channel, cfg BreakerConfig) *Breaker {
	return &Breaker{next: next, cfg: cfg.withDefaults(), now: time.Now}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) Send(ctx context.Context, msg Message) error {
	if b.cfg.Trip < 0 {
		return b.next.Send(ctx, msg)
	}
	if open, until := b.isOpen(b.now()); open {
		return &ProviderError{Provider: b.next.Name(), Code: CodeUnavailable, Err: breakerErr(until)}
	}
	err := b.next.Send(ctx, msg)
	if err != nil && Classify(err) == CodeInvalidRecipient {
		return err
	}
	b.record(b.now(), err)
	return err
}

func breakerErr(until time.Time) error {
	return &openError{until: until}
}

type openError struct{ until time.Time }

func (e *openError) Error() string {
	return ErrCircuitOpen.Error() + " until " + e.until.Format(time.RFC3339)
}

func (e *openError) Is(target error) bool { return target == ErrCircuitOpen }

// State reports the current failure streak and whether the circuit is open.
func (b *Breaker) State() (fails int, open bool) {
	now := b.now()
	o, _ := b.isOpen(now)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails, o
}

func (b *Breaker) isOpen(now time.Time) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return true, b.openUntil
	}
	return false, time.Time{}
}

func (b *Breaker) expireLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.ResetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}

func (b *Breaker) record(now time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}

	b.fails++
	b.lastFailure = now
	if b.fails < b.cfg.Trip {
		return
	}
	d := b.cfg.BaseDelay
	for i := 0; i < b.fails-b.cfg.Trip; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			d = b.cfg.MaxDelay
			break
		}
	}
	b.openUntil = now.Add(d)
}
