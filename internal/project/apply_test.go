package project

import (
	"testing"
	"time"

	"github.com/cmdhub/cmdhub/internal/event"
)

func TestApplyFileCreatedThenModified(t *testing.T) {
	t.Parallel()
	s := NewState()

	Apply(s, event.Event{
		Type: event.FileCreated, Sequence: 1, Timestamp: time.Now(), SourceAgent: "a",
		Data: map[string]any{"path": "/src/x.txt", "content": []byte("hello"), "content_hash": "h1"},
	})
	Apply(s, event.Event{
		Type: event.FileModified, Sequence: 2, Timestamp: time.Now(), SourceAgent: "a",
		Data: map[string]any{"path": "/src/x.txt", "content": []byte("world"), "content_hash": "h2"},
	})

	fv, ok := s.CurrentFile("/src/x.txt")
	if !ok {
		t.Fatal("expected /src/x.txt to be live")
	}
	if string(fv.Content) != "world" {
		t.Errorf("Content = %q, want world", fv.Content)
	}
	if len(s.History["/src/x.txt"]) != 2 {
		t.Errorf("history length = %d, want 2", len(s.History["/src/x.txt"]))
	}
}

func TestApplyIsIdempotentOnReplayedPrefix(t *testing.T) {
	t.Parallel()
	s := NewState()
	ev := event.Event{
		Type: event.FileCreated, Sequence: 1, Timestamp: time.Now(), SourceAgent: "a",
		Data: map[string]any{"path": "/a.txt", "content": []byte("v1")},
	}
	Apply(s, ev)
	Apply(s, event.Event{
		Type: event.FileModified, Sequence: 2, Timestamp: time.Now(), SourceAgent: "a",
		Data: map[string]any{"path": "/a.txt", "content": []byte("v2")},
	})

	before := s.Clone()
	Apply(s, ev) // re-apply sequence 1, already applied

	fv, _ := s.CurrentFile("/a.txt")
	beforeFV, _ := before.CurrentFile("/a.txt")
	if string(fv.Content) != string(beforeFV.Content) {
		t.Errorf("re-applying an old sequence mutated state: got %q, want %q", fv.Content, beforeFV.Content)
	}
	if s.LastApplied != 2 {
		t.Errorf("LastApplied = %d, want 2 (unchanged by stale replay)", s.LastApplied)
	}
}

func TestApplyFileDeletedTombstones(t *testing.T) {
	t.Parallel()
	s := NewState()
	Apply(s, event.Event{Type: event.FileCreated, Sequence: 1, Timestamp: time.Now(), Data: map[string]any{"path": "/a.txt"}})
	Apply(s, event.Event{Type: event.FileDeleted, Sequence: 2, Timestamp: time.Now(), Data: map[string]any{"path": "/a.txt"}})

	if s.IsLive("/a.txt") {
		t.Error("expected /a.txt to no longer be live")
	}
	if !s.Tombstones["/a.txt"] {
		t.Error("expected /a.txt to be tombstoned")
	}
}

func TestApplyFileMovedUpdatesBothPaths(t *testing.T) {
	t.Parallel()
	s := NewState()
	Apply(s, event.Event{
		Type: event.FileCreated, Sequence: 1, Timestamp: time.Now(),
		Data: map[string]any{"path": "/old.txt", "content": []byte("data")},
	})
	Apply(s, event.Event{
		Type: event.FileMoved, Sequence: 2, Timestamp: time.Now(),
		Data: map[string]any{"old_path": "/old.txt", "new_path": "/new.txt"},
	})

	if s.IsLive("/old.txt") {
		t.Error("old path should no longer be live")
	}
	if !s.IsLive("/new.txt") {
		t.Error("new path should be live")
	}
}

func TestApplyDirectoryCreationRegistersParentChild(t *testing.T) {
	t.Parallel()
	s := NewState()
	Apply(s, event.Event{Type: event.DirectoryCreated, Sequence: 1, Timestamp: time.Now(), Data: map[string]any{"path": "/src"}})

	root, ok := s.Directories["/"]
	if !ok || !root.Children["/src"] {
		t.Errorf("expected / to list /src as a child, got %+v", root)
	}
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	t.Parallel()
	s := NewState()
	Apply(s, event.Event{Type: event.FileCreated, Sequence: 1, Timestamp: time.Now(), Data: map[string]any{"path": "/a.txt", "content": []byte("v1")}})

	clone := s.Clone()
	Apply(s, event.Event{Type: event.FileModified, Sequence: 2, Timestamp: time.Now(), Data: map[string]any{"path": "/a.txt", "content": []byte("v2")}})

	cloneFV, _ := clone.CurrentFile("/a.txt")
	if string(cloneFV.Content) != "v1" {
		t.Errorf("clone mutated by later Apply on source: got %q, want v1", cloneFV.Content)
	}
}
