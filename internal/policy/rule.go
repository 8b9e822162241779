// Package policy implements the L2 policy cache from spec.md §4.3: a
// compiled, trie-organized rule set evaluated first-match-wins in under
// 5ms, with a bundled default rule set so the hub is safe out of the box.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

// RuleSpec is the uncompiled, config-source form of a rule (what
// internal/config loads from policyConfigPath).
type RuleSpec struct {
	ID            string
	Priority      int
	Pattern       string   // regex matched against the request subject built by subjectFor
	Tools         []string // empty = any tool
	AgentPatterns []string // empty = any agent
	Decision      model.Decision
	Confidence    model.Confidence
	Reason        string
}

// stats are the per-rule counters from spec.md §3 ("Policy rule" data
// model: match count, last-match time, avg eval time).
type stats struct {
	mu          sync.Mutex
	matchCount  int64
	lastMatch   time.Time
	avgEvalNS   float64
}

func (s *stats) record(matched bool, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if matched {
		s.matchCount++
		s.lastMatch = time.Now()
	}
	// exponential moving average, alpha = 0.2
	const alpha = 0.2
	if s.avgEvalNS == 0 {
		s.avgEvalNS = float64(dur.Nanoseconds())
	} else {
		s.avgEvalNS = alpha*float64(dur.Nanoseconds()) + (1-alpha)*s.avgEvalNS
	}
}

func (s *stats) snapshot() (matchCount int64, lastMatch time.Time, avgEvalNS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchCount, s.lastMatch, s.avgEvalNS
}

// compiledRule is the compiled form from spec.md §3's "Policy rule"
// entity: pre-compiled regex, normalized tool allowlist, pre-compiled
// agent patterns.
type compiledRule struct {
	spec RuleSpec

	pattern       *regexp.Regexp
	toolSet       map[string]bool // nil = any tool
	agentPatterns []*regexp.Regexp

	stats *stats
}

func compile(spec RuleSpec) (*compiledRule, error) {
	pattern, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("policy: rule %s: invalid regex %q: %w", spec.ID, spec.Pattern, err)
	}

	var toolSet map[string]bool
	if len(spec.Tools) > 0 {
		toolSet = make(map[string]bool, len(spec.Tools))
		for _, t := range spec.Tools {
			toolSet[t] = true
		}
	}

	var agentPatterns []*regexp.Regexp
	for _, ap := range spec.AgentPatterns {
		re, err := regexp.Compile(ap)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s: invalid agent pattern %q: %w", spec.ID, ap, err)
		}
		agentPatterns = append(agentPatterns, re)
	}

	return &compiledRule{spec: spec, pattern: pattern, toolSet: toolSet, agentPatterns: agentPatterns, stats: &stats{}}, nil
}

func (r *compiledRule) appliesToTool(tool string) bool {
	if r.toolSet == nil {
		return true
	}
	return r.toolSet[tool]
}

func (r *compiledRule) agentMatches(agentID string) bool {
	if len(r.agentPatterns) == 0 {
		return true
	}
	for _, re := range r.agentPatterns {
		if re.MatchString(agentID) {
			return true
		}
	}
	return false
}

// evaluate runs the rule against a subject string (the tool name followed
// by the tool input's string values in key order, see subjectFor).
// It returns true on match and records stats either way.
func (r *compiledRule) evaluate(req model.Request, subject string) bool {
	start := time.Now()
	matched := r.appliesToTool(req.ToolName) && r.agentMatches(req.AgentID) && r.pattern.MatchString(subject)
	r.stats.record(matched, time.Since(start))
	return matched
}

func (r *compiledRule) toResult() model.Result {
	return model.Result{
		Decision:   r.spec.Decision,
		Confidence: r.spec.Confidence,
		Reason:     r.spec.Reason,
		Layer:      model.LayerPolicy,
	}
}

// sortByPriorityDesc sorts rules with the highest priority first, stable
// on insertion order for ties (so bundled defaults keep a predictable
// order).
func sortByPriorityDesc(rules []*compiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].spec.Priority > rules[j].spec.Priority
	})
}
