// Package project derives project state from the event log by pure
// per-event-type application, per spec.md §3's "Project state (derived,
// not stored)" model and §4.6's "Event application" contract.
package project

import (
	"time"

	"github.com/cmdhub/cmdhub/internal/model"
)

// FileVersion is one historical (or current) revision of a file, per
// spec.md §3.
type FileVersion struct {
	Content     []byte
	ContentHash string
	Size        int64
	Timestamp   time.Time
	Author      string
	Sequence    int64
	Mime        string
	Encoding    string
}

// DirectoryInfo tracks a live directory's children and provenance.
type DirectoryInfo struct {
	Children  map[string]bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentSession is a started (and possibly ended) agent session.
type AgentSession struct {
	SessionID string
	AgentID   string
	Type      string
	Metadata  map[string]any
	StartedAt time.Time
	EndedAt   time.Time
	Ended     bool
	Summary   string
}

// ValidationStatus tracks one outstanding or resolved validation
// request against request-id.
type ValidationStatus struct {
	RequestID  string
	ToolName   string
	ToolInput  map[string]any
	AgentID    string
	Decision   model.Decision
	Reason     string
	SubmittedAt time.Time
	DecidedAt  time.Time
	Decided    bool
}

// State is the derived, in-memory view of one project's current state.
// Every field here is owned by the aggregate that mutates it (single
// writer); the time-travel reconstructor works on its own Clone.
type State struct {
	Files       map[string]FileVersion
	Directories map[string]DirectoryInfo
	Tombstones  map[string]bool
	History     map[string][]FileVersion
	Sessions    map[string]AgentSession
	Validations map[string]ValidationStatus

	// LastApplied is the highest event sequence folded into this state,
	// per the "sequence <= last_applied is a no-op" idempotence rule.
	LastApplied int64
}

func NewState() *State {
	return &State{
		Files:       make(map[string]FileVersion),
		Directories: make(map[string]DirectoryInfo),
		Tombstones:  make(map[string]bool),
		History:     make(map[string][]FileVersion),
		Sessions:    make(map[string]AgentSession),
		Validations: make(map[string]ValidationStatus),
	}
}

// Clone deep-copies the state so the reconstructor can replay into it
// without disturbing the aggregate's live state.
func (s *State) Clone() *State {
	out := NewState()
	out.LastApplied = s.LastApplied
	for k, v := range s.Files {
		out.Files[k] = v
	}
	for k, v := range s.Directories {
		children := make(map[string]bool, len(v.Children))
		for c := range v.Children {
			children[c] = true
		}
		v.Children = children
		out.Directories[k] = v
	}
	for k, v := range s.Tombstones {
		out.Tombstones[k] = v
	}
	for k, v := range s.History {
		h := make([]FileVersion, len(v))
		copy(h, v)
		out.History[k] = h
	}
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	for k, v := range s.Validations {
		out.Validations[k] = v
	}
	return out
}

// IsLive reports whether path currently names a live file or directory.
func (s *State) IsLive(path string) bool {
	if _, ok := s.Files[path]; ok {
		return true
	}
	_, ok := s.Directories[path]
	return ok
}

// CurrentFile returns the current FileVersion at path, if any.
func (s *State) CurrentFile(path string) (FileVersion, bool) {
	fv, ok := s.Files[path]
	return fv, ok
}
