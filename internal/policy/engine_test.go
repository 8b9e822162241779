package policy

import (
	"log"
	"testing"

	"github.com/cmdhub/cmdhub/internal/model"
)

func mustRequest(t *testing.T, tool, agent string, input map[string]any) model.Request {
	t.Helper()
	r, err := model.NewRequest(tool, agent, input)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return r
}

func TestDefaultRulesBlockDangerousBash(t *testing.T) {
	t.Parallel()
	e := New(DefaultRules(), log.Default())

	req := mustRequest(t, "Bash", "agent-a", map[string]any{"command": "sudo rm -rf /"})
	result, ok := e.Evaluate(req)
	if !ok {
		t.Fatal("expected a match")
	}
	if result.Decision != model.Blocked {
		t.Errorf("Decision = %v, want Blocked", result.Decision)
	}
	if result.Confidence != model.High {
		t.Errorf("Confidence = %v, want High", result.Confidence)
	}
}

func TestDefaultRulesApproveSafeRead(t *testing.T) {
	t.Parallel()
	e := New(DefaultRules(), log.Default())

	req := mustRequest(t, "Read", "agent-a", map[string]any{"file_path": "/home/u/a.txt"})
	result, ok := e.Evaluate(req)
	if !ok {
		t.Fatal("expected a match")
	}
	if result.Decision != model.Approved {
		t.Errorf("Decision = %v, want Approved", result.Decision)
	}
}

func TestDefaultRulesEscalateSystemPath(t *testing.T) {
	t.Parallel()
	e := New(DefaultRules(), log.Default())

	req := mustRequest(t, "Write", "agent-a", map[string]any{"file_path": "/etc/passwd"})
	result, ok := e.Evaluate(req)
	if !ok {
		t.Fatal("expected a match")
	}
	if result.Decision != model.Escalate {
		t.Errorf("Decision = %v, want Escalate", result.Decision)
	}
}

func TestNoMatchFallsThrough(t *testing.T) {
	t.Parallel()
	e := New(DefaultRules(), log.Default())

	req := mustRequest(t, "Bash", "agent-a", map[string]any{"command": "run-my-novel-thing"})
	if _, ok := e.Evaluate(req); ok {
		t.Error("expected no match for a harmless, unclassified command")
	}
}

func TestInvalidRegexDropped(t *testing.T) {
	t.Parallel()
	specs := []RuleSpec{
		{ID: "bad", Priority: 100, Pattern: "(unterminated", Decision: model.Blocked},
		{ID: "good", Priority: 1, Pattern: ".*", Decision: model.Approved, Tools: []string{"Read"}},
	}
	e := New(specs, log.Default())
	if e.RuleCount() != 1 {
		t.Fatalf("RuleCount() = %d, want 1 (invalid regex should be dropped, not treated as match-all)", e.RuleCount())
	}

	req := mustRequest(t, "Bash", "agent-a", map[string]any{"command": "anything"})
	if _, ok := e.Evaluate(req); ok {
		t.Error("dropped invalid rule must not match everything")
	}
}

func TestPriorityOrderingFirstMatchWins(t *testing.T) {
	t.Parallel()
	specs := []RuleSpec{
		{ID: "low", Priority: 1, Pattern: ".*", Decision: model.Approved, Tools: []string{"Bash"}},
		{ID: "high", Priority: 100, Pattern: "danger", Decision: model.Blocked, Tools: []string{"Bash"}},
	}
	e := New(specs, log.Default())

	req := mustRequest(t, "Bash", "agent-a", map[string]any{"command": "danger zone"})
	result, ok := e.Evaluate(req)
	if !ok || result.Decision != model.Blocked {
		t.Errorf("expected higher-priority rule to win, got %+v ok=%v", result, ok)
	}
}

func TestMemoization(t *testing.T) {
	t.Parallel()
	e := New(DefaultRules(), log.Default())
	req := mustRequest(t, "Read", "agent-a", map[string]any{"file_path": "/a.txt"})

	r1, ok1 := e.Evaluate(req)
	r2, ok2 := e.Evaluate(req)
	if !ok1 || !ok2 || r1.Decision != r2.Decision {
		t.Errorf("memoized evaluation diverged: %+v vs %+v", r1, r2)
	}
}

func TestAgentPatternScoping(t *testing.T) {
	t.Parallel()
	specs := []RuleSpec{
		{ID: "trusted-only", Priority: 10, Pattern: ".*", Tools: []string{"Bash"}, AgentPatterns: []string{"^trusted-.*"}, Decision: model.Approved},
	}
	e := New(specs, log.Default())

	trusted := mustRequest(t, "Bash", "trusted-1", map[string]any{"command": "ls"})
	if _, ok := e.Evaluate(trusted); !ok {
		t.Error("expected trusted agent to match")
	}

	untrusted := mustRequest(t, "Bash", "random-agent", map[string]any{"command": "ls"})
	if _, ok := e.Evaluate(untrusted); ok {
		t.Error("expected untrusted agent not to match agent-scoped rule")
	}
}
