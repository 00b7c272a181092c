// Package trigger implements the trigger evaluator: the pure predicate over
// a rule's previous and current check exit codes that decides whether its
// action fires for a pass.
package trigger

import "fmt"

// Mode is one of the five trigger modes a rule can be configured with.
type Mode string

const (
	OnZero                 Mode = "on_zero"
	OnNonZero              Mode = "on_nonzero"
	OnTransitionFailToPass Mode = "on_transition_fail_to_pass"
	OnTransitionPassToFail Mode = "on_transition_pass_to_fail"
	OnCodeN                Mode = "on_code_n"
)

// ParseMode validates a mode string, returning an error for anything not in
// the set of known modes.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case OnZero, OnNonZero, OnTransitionFailToPass, OnTransitionPassToFail, OnCodeN:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown trigger mode %q", s)
	}
}

// IsTransition reports whether mode requires a defined previous exit code
// before it can fire: transition modes must not fire on the first
// evaluation.
func (m Mode) IsTransition() bool {
	return m == OnTransitionFailToPass || m == OnTransitionPassToFail
}
