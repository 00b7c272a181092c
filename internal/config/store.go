package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mprather/kicker/internal/trigger"
)

// Load reads and validates a rule store from path.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule store: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rule store: %w", err)
	}

	applyDefaults(&rs)

	for _, rule := range rs.Rules {
		if err := Validate(rule); err != nil {
			return nil, fmt.Errorf("validating rule %d: %w", rule.ID, err)
		}
	}

	return &rs, nil
}

// Save persists the rule store to path, creating its parent directory if
// necessary. Used by the external rule-editing CLI (add/remove) and by the
// daemon, which writes the store only to remove a `once` rule after its
// action dispatch.
func Save(path string, rs *RuleSet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating rule store directory: %w", err)
	}

	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encoding rule store: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("writing rule store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("installing rule store: %w", err)
	}
	return nil
}

// NextID allocates and reserves the next rule ID, mutating rs.NextID.
// IDs are never reused, even across deletions.
func NextID(rs *RuleSet) int {
	if rs.NextID <= 0 {
		for _, r := range rs.Rules {
			if r.ID >= rs.NextID {
				rs.NextID = r.ID + 1
			}
		}
	}
	id := rs.NextID
	rs.NextID++
	return id
}

// RemoveRule deletes the rule with the given ID. It does not renumber
// remaining rules or reset NextID.
func RemoveRule(rs *RuleSet, id int) bool {
	for i, r := range rs.Rules {
		if r.ID == id {
			rs.Rules = append(rs.Rules[:i], rs.Rules[i+1:]...)
			return true
		}
	}
	return false
}

// Validate checks a single rule's static well-formedness. It does not touch
// the filesystem — script existence/executability is a per-pass runtime
// concern, not a load-time one, so that a daemon restart doesn't fail
// outright over a momentarily missing script.
func Validate(r *Rule) error {
	if r.CheckScript == "" {
		return fmt.Errorf("check_script is required")
	}
	if r.ActionScript == "" {
		return fmt.Errorf("action_script is required")
	}

	if _, err := trigger.ParseMode(r.Trigger.Mode); err != nil {
		return fmt.Errorf("invalid trigger mode %q", r.Trigger.Mode)
	}

	if r.PollInterval < 0 {
		return fmt.Errorf("poll_interval must be >= 0, got %v", r.PollInterval)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", r.Timeout)
	}
	if r.RateLimit != nil {
		if r.RateLimit.Count <= 0 {
			return fmt.Errorf("rate_limit.count must be > 0")
		}
		if r.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window_seconds must be > 0")
		}
	}

	return nil
}

func applyDefaults(rs *RuleSet) {
	if rs.Version <= 0 {
		rs.Version = 1
	}
	if rs.DefaultPollInterval <= 0 {
		rs.DefaultPollInterval = 60
	}
}

// ReconstructSpec renders a human-readable description of a trigger, the
// kind of string the external CLI stores as original_spec when it creates a
// rule and echoes back in `kicker list`.
func ReconstructSpec(t TriggerSpec) string {
	switch t.Mode {
	case "on_zero":
		return "--if-zero"
	case "on_nonzero":
		return "--if-nonzero"
	case "on_transition_fail_to_pass":
		return "--if-fail-to-pass"
	case "on_transition_pass_to_fail":
		return "--if-pass-to-fail"
	case "on_code_n":
		return fmt.Sprintf("--if-code %d", t.N)
	default:
		return strings.TrimSpace(t.Mode)
	}
}
