package pattern

import (
	"testing"

	"github.com/cmdhub/cmdhub/internal/model"
)

func req(t *testing.T, tool, agent string, input map[string]any) model.Request {
	t.Helper()
	r, err := model.NewRequest(tool, agent, input)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return r
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	t.Parallel()
	r := req(t, "Bash", "agent-1", map[string]any{"command": "rm -rf /tmp/x"})
	f1 := ExtractFeatures(r)
	f2 := ExtractFeatures(r)
	if f1 != f2 {
		t.Errorf("ExtractFeatures not deterministic: %+v != %+v", f1, f2)
	}
}

func TestClassifierApprovesSafeReads(t *testing.T) {
	t.Parallel()
	c := NewClassifier()
	r := req(t, "Read", "trusted-agent", map[string]any{"file_path": "/a.txt"})
	pred := c.Classify(r)
	if pred.Decision != model.Approved {
		t.Errorf("Decision = %v, want Approved (score=%v)", pred.Decision, pred.Score)
	}
}

func TestClassifierBlocksDangerousCommands(t *testing.T) {
	t.Parallel()
	c := NewClassifier()
	r := req(t, "Bash", "agent-1", map[string]any{"command": "sudo rm -rf /etc/passwd; chmod 777 /"})
	pred := c.Classify(r)
	if pred.Decision != model.Blocked {
		t.Errorf("Decision = %v, want Blocked (score=%v)", pred.Decision, pred.Score)
	}
}

func TestClassifierEscalatesAmbiguous(t *testing.T) {
	t.Parallel()
	c := NewClassifier()
	r := req(t, "Bash", "agent-1", map[string]any{"command": "run-my-novel-thing"})
	pred := c.Classify(r)
	if pred.Decision != model.Escalate {
		t.Errorf("Decision = %v, want Escalate for a near-zero score (score=%v)", pred.Decision, pred.Score)
	}
}

func TestEnginePredictDefersLowConfidence(t *testing.T) {
	t.Parallel()
	e := New(0.8)
	r := req(t, "Bash", "agent-1", map[string]any{"command": "run-my-novel-thing"})
	if _, ok := e.Predict(r); ok {
		t.Error("expected low-confidence prediction to defer to expert")
	}
}

func TestEnginePredictCaches(t *testing.T) {
	t.Parallel()
	e := New(0.0) // threshold 0 so every prediction is promoted
	r := req(t, "Read", "trusted-agent", map[string]any{"file_path": "/a.txt"})

	r1, ok1 := e.Predict(r)
	r2, ok2 := e.Predict(r)
	if !ok1 || !ok2 || r1.Decision != r2.Decision {
		t.Errorf("cached prediction diverged: %+v vs %+v", r1, r2)
	}
}

func TestLearnShiftsWeightsTowardExpertDecision(t *testing.T) {
	t.Parallel()
	e := New(0.0)
	r := req(t, "Bash", "agent-1", map[string]any{"command": "run-my-novel-thing"})

	before, _ := e.Predict(r)
	for i := 0; i < 20; i++ {
		e.Learn(r, model.Approved)
	}
	after, _ := e.Predict(r)

	if before.Decision == model.Blocked && after.Decision == model.Blocked {
		t.Errorf("expected repeated Approved feedback to move the classifier away from Blocked")
	}
}
