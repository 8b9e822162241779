package aggregate

import (
	"context"
	"testing"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
	"github.com/cmdhub/cmdhub/internal/model"
)

type stubValidator struct {
	result model.Result
}

func (s stubValidator) Validate(ctx context.Context, req model.Request) model.Result {
	return s.result
}

func TestHandleFileModificationCreatesThenModifies(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	ev, err := a.HandleFileModification(ctx, "/src/x.go", "package main", "agent-A", "", nil)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if ev.Type != "FileCreated" {
		t.Errorf("event type = %v, want FileCreated", ev.Type)
	}
	if a.Version() != 1 {
		t.Fatalf("version = %d, want 1", a.Version())
	}

	ev2, err := a.HandleFileModification(ctx, "/src/x.go", "package main2", "agent-A", "", nil)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if ev2.Type != "FileModified" {
		t.Errorf("event type = %v, want FileModified", ev2.Type)
	}
	if ev2.Data["previous_hash"] != ev.Data["content_hash"] {
		t.Error("previous_hash on modification must equal prior content_hash")
	}
}

func TestEventSequenceMonotonicity(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	for i, path := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		ev, err := a.HandleFileModification(ctx, path, "x", "agent", "", nil)
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if ev.Sequence != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestConcurrencyConflictOnStaleExpectedVersion(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	if _, err := a.HandleFileModification(ctx, "/x.txt", "v1", "agent", "", nil); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	stale := int64(0)
	_, err := a.HandleFileModification(ctx, "/x.txt", "v2", "agent", "", &stale)
	if err == nil {
		t.Fatal("expected a concurrency conflict")
	}
	if _, ok := err.(*cmderrors.ConcurrencyConflict); !ok {
		t.Fatalf("error = %v (%T), want *cmderrors.ConcurrencyConflict", err, err)
	}

	current := a.Version()
	ev, err := a.HandleFileModification(ctx, "/x.txt", "v2", "agent", "", &current)
	if err != nil {
		t.Fatalf("retry with correct expected version: %v", err)
	}
	if ev.Sequence != current+1 {
		t.Errorf("retry sequence = %d, want %d", ev.Sequence, current+1)
	}
}

func TestProtectedPathWriteRejected(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	_, err := a.HandleFileModification(ctx, "/.git/config", "evil", "agent", "", nil)
	if err == nil {
		t.Fatal("expected protected_paths rejection")
	}
	bv, ok := err.(*cmderrors.BusinessRuleViolation)
	if !ok || bv.RuleName != "protected_paths" {
		t.Fatalf("error = %v, want BusinessRuleViolation(protected_paths)", err)
	}
	if a.Version() != 0 {
		t.Errorf("version = %d, want 0 (rejected write must not advance it)", a.Version())
	}
}

func TestCriticalFileDeletionRejected(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	if _, err := a.HandleFileModification(ctx, "/go.mod", "module x", "agent", "", nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := a.HandleFileDeletion(ctx, "/go.mod", "agent", "", nil)
	if err == nil {
		t.Fatal("expected critical_file_deletion rejection")
	}
	bv, ok := err.(*cmderrors.BusinessRuleViolation)
	if !ok || bv.RuleName != "critical_file_deletion" {
		t.Fatalf("error = %v, want BusinessRuleViolation(critical_file_deletion)", err)
	}
}

func TestValidationBridgeBlockSurfacesAsBusinessRuleViolation(t *testing.T) {
	t.Parallel()
	blocked := stubValidator{result: model.Result{Decision: model.Blocked, Reason: "dangerous"}}
	a := New("proj-1", blocked, DefaultConfig())
	ctx := context.Background()

	_, err := a.HandleFileModification(ctx, "/x.txt", "data", "agent", "", nil)
	bv, ok := err.(*cmderrors.BusinessRuleViolation)
	if !ok || bv.RuleName != "validation-bridge-blocked" {
		t.Fatalf("error = %v, want BusinessRuleViolation(validation-bridge-blocked)", err)
	}
}

func TestMoveRequiresExistingSourceAndAbsentDestination(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	_, err := a.HandleFileMove(ctx, "/missing.txt", "/new.txt", "agent", "", nil)
	if err == nil {
		t.Fatal("expected move_source_missing rejection")
	}

	if _, err := a.HandleFileModification(ctx, "/old.txt", "data", "agent", "", nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := a.HandleFileModification(ctx, "/taken.txt", "data", "agent", "", nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err = a.HandleFileMove(ctx, "/old.txt", "/taken.txt", "agent", "", nil)
	if err == nil {
		t.Fatal("expected move_destination_exists rejection")
	}

	ev, err := a.HandleFileMove(ctx, "/old.txt", "/new.txt", "agent", "", nil)
	if err != nil {
		t.Fatalf("valid move: %v", err)
	}
	if ev.Type != "FileMoved" {
		t.Errorf("event type = %v, want FileMoved", ev.Type)
	}
}

func TestStartAndEndAgentSession(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	sessionID, ev, err := a.StartAgentSession(ctx, "agent-A", "cli", nil)
	if err != nil {
		t.Fatalf("StartAgentSession: %v", err)
	}
	if sessionID == "" || ev.Type != "AgentSessionStarted" {
		t.Fatalf("unexpected start result: id=%q ev=%+v", sessionID, ev)
	}

	if _, err := a.EndAgentSession(ctx, sessionID, "agent-A", "done"); err != nil {
		t.Fatalf("EndAgentSession: %v", err)
	}

	sess := a.State().Sessions[sessionID]
	if !sess.Ended {
		t.Error("expected session to be marked Ended")
	}
}

func TestUncommittedEventsDrainOnce(t *testing.T) {
	t.Parallel()
	a := New("proj-1", nil, DefaultConfig())
	ctx := context.Background()

	if _, err := a.HandleFileModification(ctx, "/a.txt", "x", "agent", "", nil); err != nil {
		t.Fatalf("setup: %v", err)
	}

	events := a.UncommittedEvents()
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	if drained := a.UncommittedEvents(); len(drained) != 0 {
		t.Errorf("second drain should be empty, got %d", len(drained))
	}
}
