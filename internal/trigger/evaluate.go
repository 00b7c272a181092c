package trigger

// Evaluate decides whether a pass fires, given the previous exit code (nil
// if this is the rule's first evaluation), the current exit code, the
// configured mode, and — for on_code_n only — the code to match.
//
// Transition modes never fire when prev is nil: that is the mechanism that
// prevents a spurious fire on daemon startup.
func Evaluate(prev *int, curr int, mode Mode, n int) bool {
	switch mode {
	case OnZero:
		return curr == 0
	case OnNonZero:
		return curr != 0
	case OnTransitionFailToPass:
		return prev != nil && *prev != 0 && curr == 0
	case OnTransitionPassToFail:
		return prev != nil && *prev == 0 && curr != 0
	case OnCodeN:
		return curr == n
	default:
		return false
	}
}
