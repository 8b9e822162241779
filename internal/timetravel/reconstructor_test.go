package timetravel

import (
	"context"
	"testing"
	"time"

	"github.com/cmdhub/cmdhub/internal/event"
)

func seedEvents(t *testing.T, store event.Store, aggregateID string, events []event.Event) {
	t.Helper()
	for _, e := range events {
		if err := store.AppendExpectingSeq(context.Background(), e); err != nil {
			t.Fatalf("seed event sequence %d: %v", e.Sequence, err)
		}
	}
}

func TestRebuildConsistencyAtIntermediateTimestamp(t *testing.T) {
	t.Parallel()
	store := event.NewMemoryStore()
	ctx := context.Background()

	t0 := time.Now().Add(-3 * time.Hour)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	seedEvents(t, store, "proj-1", []event.Event{
		{AggregateID: "proj-1", Sequence: 1, Type: event.FileCreated, Timestamp: t0, Data: map[string]any{"path": "/a.txt", "content": []byte("v1")}},
		{AggregateID: "proj-1", Sequence: 2, Type: event.FileModified, Timestamp: t1, Data: map[string]any{"path": "/a.txt", "content": []byte("v2")}},
		{AggregateID: "proj-1", Sequence: 3, Type: event.FileModified, Timestamp: t2, Data: map[string]any{"path": "/a.txt", "content": []byte("v3")}},
	})

	r := New(store, nil)

	between := t1.Add(30 * time.Minute)
	state, err := r.Rebuild(ctx, "proj-1", between)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	fv, ok := state.CurrentFile("/a.txt")
	if !ok || string(fv.Content) != "v2" {
		t.Fatalf("Rebuild(%v) content = %q, want v2 (state as of t1, before t2)", between, fv.Content)
	}
}

func TestGetFileHistoryReturnsChronologicalEntries(t *testing.T) {
	t.Parallel()
	store := event.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	seedEvents(t, store, "proj-1", []event.Event{
		{AggregateID: "proj-1", Sequence: 1, Type: event.FileCreated, Timestamp: base, Data: map[string]any{"path": "/a.txt", "content": []byte("v1")}},
		{AggregateID: "proj-1", Sequence: 2, Type: event.FileModified, Timestamp: base.Add(time.Minute), Data: map[string]any{"path": "/a.txt", "content": []byte("v2")}},
	})

	r := New(store, nil)
	history, err := r.GetFileHistory(ctx, "proj-1", "/a.txt")
	if err != nil {
		t.Fatalf("GetFileHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].OpKind != event.FileCreated || history[1].OpKind != event.FileModified {
		t.Errorf("unexpected op kinds: %v, %v", history[0].OpKind, history[1].OpKind)
	}
}

func TestGenerateDiffCountsAddedAndRemovedLines(t *testing.T) {
	t.Parallel()
	store := event.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour)
	t1 := time.Now()

	seedEvents(t, store, "proj-1", []event.Event{
		{AggregateID: "proj-1", Sequence: 1, Type: event.FileCreated, Timestamp: t0, Data: map[string]any{"path": "/a.txt", "content": []byte("line1\nline2")}},
		{AggregateID: "proj-1", Sequence: 2, Type: event.FileModified, Timestamp: t1, Data: map[string]any{"path": "/a.txt", "content": []byte("line1\nline3")}},
	})

	r := New(store, nil)
	diff, err := r.GenerateDiff(ctx, "proj-1", "/a.txt", t0, t1)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if diff.LinesAdded != 1 || diff.LinesRemoved != 1 {
		t.Errorf("added=%d removed=%d, want 1 and 1", diff.LinesAdded, diff.LinesRemoved)
	}
}

func TestAnalyzeConcurrencyConflictsGroupsMultiAgentTouches(t *testing.T) {
	t.Parallel()
	store := event.NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	seedEvents(t, store, "proj-1", []event.Event{
		{AggregateID: "proj-1", Sequence: 1, Type: event.FileModified, Timestamp: base, SourceAgent: "agent-A", Data: map[string]any{"path": "/x.txt"}},
		{AggregateID: "proj-1", Sequence: 2, Type: event.FileModified, Timestamp: base.Add(time.Second), SourceAgent: "agent-B", Data: map[string]any{"path": "/x.txt"}},
		{AggregateID: "proj-1", Sequence: 3, Type: event.FileModified, Timestamp: base.Add(time.Hour), SourceAgent: "agent-C", Data: map[string]any{"path": "/y.txt"}},
	})

	r := New(store, nil)
	groups, err := r.AnalyzeConcurrencyConflicts(ctx, "proj-1", 5*time.Second)
	if err != nil {
		t.Fatalf("AnalyzeConcurrencyConflicts: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	if groups[0].Path != "/x.txt" || len(groups[0].Agents) != 2 {
		t.Errorf("unexpected group: %+v", groups[0])
	}
}

func TestRebuildIsMemoized(t *testing.T) {
	t.Parallel()
	store := event.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Now()

	seedEvents(t, store, "proj-1", []event.Event{
		{AggregateID: "proj-1", Sequence: 1, Type: event.FileCreated, Timestamp: t0, Data: map[string]any{"path": "/a.txt", "content": []byte("v1")}},
	})

	r := New(store, nil)
	target := t0.Add(time.Hour)
	first, err := r.Rebuild(ctx, "proj-1", target)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if len(r.memo) != 1 {
		t.Fatalf("memo size = %d, want 1 after first rebuild", len(r.memo))
	}

	second, err := r.Rebuild(ctx, "proj-1", target)
	if err != nil {
		t.Fatalf("Rebuild (cached): %v", err)
	}
	fv1, _ := first.CurrentFile("/a.txt")
	fv2, _ := second.CurrentFile("/a.txt")
	if string(fv1.Content) != string(fv2.Content) {
		t.Errorf("cached rebuild diverged: %q vs %q", fv1.Content, fv2.Content)
	}
}
