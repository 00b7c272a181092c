// Package config defines the persisted rule store: the set of rules a
// kicker daemon evaluates, and the global defaults they inherit from.
package config

import "time"

// RuleSet is the top-level document persisted at the rule store path
// (typically ~/.config/kicker/config.yaml).
type RuleSet struct {
	Version             int     `yaml:"version"`
	DefaultPollInterval float64 `yaml:"default_poll_interval"`
	NextID              int     `yaml:"next_id"`
	Rules               []*Rule `yaml:"rules"`
}

// Rule is the unit of automation: a check script, a trigger condition over
// its exit code, and an action script to run when the trigger fires.
type Rule struct {
	ID            int         `yaml:"id"`
	CheckScript   string      `yaml:"check_script"`
	ActionScript  string      `yaml:"action_script"`
	Trigger       TriggerSpec `yaml:"trigger"`
	PollInterval  float64     `yaml:"poll_interval,omitempty"`
	RateLimit     *RateLimit  `yaml:"rate_limit,omitempty"`
	Timeout       float64     `yaml:"timeout,omitempty"`
	Once          bool        `yaml:"once,omitempty"`
	OriginalSpec  string      `yaml:"original_spec,omitempty"`
}

// TriggerSpec is the on-disk form of a trigger mode: a name, plus the extra
// "N" parameter that only on_code_n uses.
type TriggerSpec struct {
	Mode string `yaml:"mode"`
	N    int    `yaml:"n,omitempty"`
}

// RateLimit is the "count/window_seconds" pair a rule's action dispatch is
// budgeted against.
type RateLimit struct {
	Count  int     `yaml:"count"`
	Window float64 `yaml:"window_seconds"`
}

// EffectivePollInterval returns the rule's configured poll interval, or the
// ruleset's default when the rule doesn't override it.
func (r *Rule) EffectivePollInterval(defaultInterval float64) time.Duration {
	interval := r.PollInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	if interval <= 0 {
		interval = 60
	}
	return time.Duration(interval * float64(time.Second))
}

// EffectiveTimeout returns the rule's configured check/action timeout,
// defaulting to 90% of its poll interval.
func (r *Rule) EffectiveTimeout(defaultInterval float64) time.Duration {
	if r.Timeout > 0 {
		return time.Duration(r.Timeout * float64(time.Second))
	}
	return time.Duration(float64(r.EffectivePollInterval(defaultInterval)) * 0.9)
}

// EffectiveRateLimit returns the rule's rate limit, defaulting to
// (1, poll_interval).
func (r *Rule) EffectiveRateLimit(defaultInterval float64) RateLimit {
	if r.RateLimit != nil && r.RateLimit.Count > 0 && r.RateLimit.Window > 0 {
		return *r.RateLimit
	}
	return RateLimit{Count: 1, Window: r.EffectivePollInterval(defaultInterval).Seconds()}
}
