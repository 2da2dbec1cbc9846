// Package retry implements the session's reconnection retrier: a delay
// policy, an attempt limit, and a reason filter.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Reason is the minimal surface a retrier needs from a close reason: whether
// it is inherently non-retryable. It is also the value handed to the
// configured Filter. The session package supplies the
// concrete CloseReason type; this package stays decoupled from it.
type Reason interface {
	// RetryDisallowed reports whether this reason must never be retried,
	// independent of any configured filter (an unreachable or down
	// network always refuses).
	RetryDisallowed() bool
}

// Policy computes the delay before the nth retry attempt (0-indexed).
type Policy interface {
	Delay(attempt int) time.Duration
}

// Linear grows the delay by Scale*(attempt+1), unbounded.
type Linear struct{ Scale time.Duration }

func (p Linear) Delay(attempt int) time.Duration { return p.Scale * time.Duration(attempt+1) }

// Equals returns the same fixed interval every attempt.
type Equals struct{ Interval time.Duration }

func (p Equals) Delay(int) time.Duration { return p.Interval }

// Random picks a uniform delay in [Min, Max) on every attempt.
type Random struct{ Min, Max time.Duration }

func (p Random) Delay(int) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	span := p.Max - p.Min
	return p.Min + time.Duration(rand.Int63n(int64(span)))
}

// Exponential grows Base*Scale^attempt, clamped to Max.
type Exponential struct {
	Base  time.Duration
	Scale float64
	Max   time.Duration
}

func (p Exponential) Delay(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Scale, float64(attempt))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}

// Filter reports whether reason must not be retried. A nil Filter never
// rejects.
type Filter func(Reason) bool

// Retrier tracks attempts across the lifetime of one session and decides
// whether/when to schedule the next reconnection.
type Retrier struct {
	policy  Policy
	limit   int // <= 0 means unlimited
	filter  Filter
	attempt int
}

// New returns a Retrier with the given policy, attempt limit (0 or negative
// for unlimited) and optional filter.
func New(policy Policy, limit int, filter Filter) *Retrier {
	return &Retrier{policy: policy, limit: limit, filter: filter}
}

// Delay returns the delay before the next attempt, or (0, false) if this
// reason must not be retried (because it is inherently non-retryable, the
// filter rejects it, or the attempt limit is exceeded).
func (r *Retrier) Delay(reason Reason) (time.Duration, bool) {
	if reason != nil && reason.RetryDisallowed() {
		return 0, false
	}
	if r.filter != nil && r.filter(reason) {
		return 0, false
	}
	if r.limit > 0 && r.attempt >= r.limit {
		return 0, false
	}
	d := r.policy.Delay(r.attempt)
	r.attempt++
	return d, true
}

// Reset clears the attempt counter, called on every successful open.
func (r *Retrier) Reset() {
	r.attempt = 0
}

// Attempt reports the number of attempts made since the last Reset.
func (r *Retrier) Attempt() int {
	return r.attempt
}
