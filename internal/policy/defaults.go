package policy

import "github.com/cmdhub/cmdhub/internal/model"

// DefaultRules returns the bundled rule set from spec.md §4.3, so a fresh
// hub is safe out of the box even before a custom policyConfigPath is
// loaded.
func DefaultRules() []RuleSpec {
	return []RuleSpec{
		{
			ID:       "block-dangerous-rm",
			Priority: 1000,
			Pattern:  `rm\s+-rf\s+/(\s|$)|sudo\s+rm\b|chmod\s+777\b|dd\s+if=.*of=/dev/`,
			Tools:    []string{"Bash"},
			Decision: model.Blocked,
			Confidence: model.High,
			Reason:   "matched dangerous shell pattern",
		},
		{
			ID:       "escalate-system-paths",
			Priority: 500,
			Pattern:  `(^|\s)/(etc|usr|var|boot|sys|proc|dev)/`,
			Tools:    []string{"Bash", "Write", "Edit", "MultiEdit"},
			Decision: model.Escalate,
			Confidence: model.Medium,
			Reason:   "mutating access to a system path requires review",
		},
		{
			ID:       "approve-safe-readers",
			Priority: 10,
			Pattern:  `.*`,
			Tools:    []string{"Read", "Glob", "Grep", "LS", "WebFetch", "WebSearch"},
			Decision: model.Approved,
			Confidence: model.High,
			Reason:   "known safe read-only tool",
		},
	}
}
