// Package state holds per-rule runtime state and persists execution
// history for the out-of-core stats CLI verb.
package state

import (
	"time"

	"github.com/mprather/kicker/internal/ratelimit"
)

// Totals are the counters carried alongside a rule's runtime state.
type Totals struct {
	Checks  int64
	Actions int64
}

// Runtime is the mutable, per-rule, per-daemon-lifetime state. It is
// created on first observation of a rule and dropped when the rule is
// removed.
type Runtime struct {
	RuleID      int
	PrevExit    *int
	CurrExit    *int
	NextDueAt   time.Time
	RateLimiter *ratelimit.Limiter
	Totals      Totals
}

// NewRuntime constructs runtime state for a rule first observed at t0,
// with its first check due immediately.
func NewRuntime(ruleID int, limiter *ratelimit.Limiter, t0 time.Time) *Runtime {
	return &Runtime{
		RuleID:      ruleID,
		NextDueAt:   t0,
		RateLimiter: limiter,
	}
}

// RecordCheck shifts curr into prev and sets the new curr.
func (r *Runtime) RecordCheck(exitCode int) {
	r.PrevExit = r.CurrExit
	code := exitCode
	r.CurrExit = &code
	r.Totals.Checks++
}

// RecordAction increments the action counter after a successful dispatch.
func (r *Runtime) RecordAction() {
	r.Totals.Actions++
}

// Reschedule sets next_due_at from t0 + interval, clamped forward to now
// if that has already passed, so cadence stays stable under execution
// jitter without ever scheduling into the past.
func (r *Runtime) Reschedule(t0 time.Time, interval time.Duration, now time.Time) {
	next := t0.Add(interval)
	if next.Before(now) {
		next = now
	}
	r.NextDueAt = next
}
