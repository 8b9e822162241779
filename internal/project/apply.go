package project

import (
	"path"
	"strings"

	"github.com/cmdhub/cmdhub/internal/event"
	"github.com/cmdhub/cmdhub/internal/model"
)

// Apply folds one event into state in place. Events with
// Sequence <= state.LastApplied are ignored (the idempotence guarantee
// from spec.md §4.6 and the "Projection idempotence" testable property
// in §8); callers are expected to apply events for a single aggregate in
// sequence order, but Apply itself tolerates duplicates and gaps by
// simply not regressing LastApplied.
func Apply(s *State, e event.Event) {
	if e.Sequence <= s.LastApplied {
		return
	}

	switch e.Type {
	case event.FileCreated, event.FileModified:
		applyFileWrite(s, e)
	case event.FileDeleted:
		applyFileDeleted(s, e)
	case event.FileMoved:
		applyFileMoved(s, e)
	case event.FileCopied:
		applyFileCopied(s, e)
	case event.DirectoryCreated:
		applyDirectoryCreated(s, e)
	case event.DirectoryDeleted:
		applyDirectoryDeleted(s, e)
	case event.DirectoryMoved:
		applyDirectoryMoved(s, e)
	case event.AgentSessionStarted:
		applySessionStarted(s, e)
	case event.AgentSessionEnded:
		applySessionEnded(s, e)
	case event.ValidationRequestSubmitted:
		applyValidationRequested(s, e)
	case event.ValidationDecisionMade:
		applyValidationDecided(s, e)
	}

	s.LastApplied = e.Sequence
}

func stringData(e event.Event, key string) string {
	if v, ok := e.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bytesData(e event.Event, key string) []byte {
	v, ok := e.Data[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}

func int64Data(e event.Event, key string) int64 {
	switch v := e.Data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}

func applyFileWrite(s *State, e event.Event) {
	filePath := e.Path()
	content := bytesData(e, "content")
	fv := FileVersion{
		Content:     content,
		ContentHash: stringData(e, "content_hash"),
		Size:        int64Data(e, "size"),
		Timestamp:   e.Timestamp,
		Author:      e.AgentID(),
		Sequence:    e.Sequence,
		Mime:        stringData(e, "mime"),
		Encoding:    stringData(e, "encoding"),
	}
	if fv.Size == 0 && content != nil {
		fv.Size = int64(len(content))
	}

	s.Files[filePath] = fv
	s.History[filePath] = append(s.History[filePath], fv)
	delete(s.Tombstones, filePath)
	touchParentDir(s, filePath, e)
}

func applyFileDeleted(s *State, e event.Event) {
	filePath := e.Path()
	if _, ok := s.Files[filePath]; !ok {
		return
	}
	delete(s.Files, filePath)
	s.Tombstones[filePath] = true
}

func applyFileMoved(s *State, e event.Event) {
	oldPath := stringData(e, "old_path")
	newPath := stringData(e, "new_path")
	fv, ok := s.Files[oldPath]
	if !ok {
		return
	}
	delete(s.Files, oldPath)
	s.Tombstones[oldPath] = true

	fv.Sequence = e.Sequence
	fv.Timestamp = e.Timestamp
	s.Files[newPath] = fv
	s.History[newPath] = append(s.History[newPath], fv)
	delete(s.Tombstones, newPath)
	touchParentDir(s, newPath, e)
}

func applyFileCopied(s *State, e event.Event) {
	oldPath := stringData(e, "old_path")
	newPath := stringData(e, "new_path")
	fv, ok := s.Files[oldPath]
	if !ok {
		return
	}
	fv.Sequence = e.Sequence
	fv.Timestamp = e.Timestamp
	fv.Author = e.AgentID()
	s.Files[newPath] = fv
	s.History[newPath] = append(s.History[newPath], fv)
	delete(s.Tombstones, newPath)
	touchParentDir(s, newPath, e)
}

func applyDirectoryCreated(s *State, e event.Event) {
	dirPath := e.Path()
	if _, ok := s.Directories[dirPath]; ok {
		return
	}
	s.Directories[dirPath] = DirectoryInfo{
		Children:  make(map[string]bool),
		CreatedBy: e.AgentID(),
		CreatedAt: e.Timestamp,
		UpdatedAt: e.Timestamp,
	}
	delete(s.Tombstones, dirPath)
	touchParentDir(s, dirPath, e)
}

func applyDirectoryDeleted(s *State, e event.Event) {
	dirPath := e.Path()
	if _, ok := s.Directories[dirPath]; !ok {
		return
	}
	delete(s.Directories, dirPath)
	s.Tombstones[dirPath] = true
}

func applyDirectoryMoved(s *State, e event.Event) {
	oldPath := stringData(e, "old_path")
	newPath := stringData(e, "new_path")
	info, ok := s.Directories[oldPath]
	if !ok {
		return
	}
	delete(s.Directories, oldPath)
	s.Tombstones[oldPath] = true

	info.UpdatedAt = e.Timestamp
	s.Directories[newPath] = info
	delete(s.Tombstones, newPath)
	touchParentDir(s, newPath, e)
}

func applySessionStarted(s *State, e event.Event) {
	sessionID := stringData(e, "session_id")
	var metadata map[string]any
	if m, ok := e.Data["metadata"].(map[string]any); ok {
		metadata = m
	}
	s.Sessions[sessionID] = AgentSession{
		SessionID: sessionID,
		AgentID:   e.AgentID(),
		Type:      stringData(e, "agent_type"),
		Metadata:  metadata,
		StartedAt: e.Timestamp,
	}
}

func applySessionEnded(s *State, e event.Event) {
	sessionID := stringData(e, "session_id")
	sess, ok := s.Sessions[sessionID]
	if !ok {
		return
	}
	sess.Ended = true
	sess.EndedAt = e.Timestamp
	sess.Summary = stringData(e, "summary")
	s.Sessions[sessionID] = sess
}

func applyValidationRequested(s *State, e event.Event) {
	requestID := stringData(e, "request_id")
	var input map[string]any
	if m, ok := e.Data["tool_input"].(map[string]any); ok {
		input = m
	}
	s.Validations[requestID] = ValidationStatus{
		RequestID:   requestID,
		ToolName:    stringData(e, "tool_name"),
		ToolInput:   input,
		AgentID:     e.AgentID(),
		SubmittedAt: e.Timestamp,
	}
}

func applyValidationDecided(s *State, e event.Event) {
	requestID := stringData(e, "request_id")
	status, ok := s.Validations[requestID]
	if !ok {
		status = ValidationStatus{RequestID: requestID}
	}
	status.Decision = decisionFromString(stringData(e, "decision"))
	status.Reason = stringData(e, "reason")
	status.DecidedAt = e.Timestamp
	status.Decided = true
	s.Validations[requestID] = status
}

func decisionFromString(v string) model.Decision {
	switch strings.ToLower(v) {
	case "approved":
		return model.Approved
	case "blocked":
		return model.Blocked
	case "escalate":
		return model.Escalate
	case "uncertain":
		return model.Uncertain
	default:
		return model.DecisionUnknown
	}
}

// touchParentDir lazily registers path as a child of its parent
// directory, creating ancestor directory entries as needed so readdir
// over current/ reflects every live path without a separate
// DirectoryCreated event per ancestor.
func touchParentDir(s *State, p string, e event.Event) {
	for p != "/" {
		parent := parentOf(p)
		info, ok := s.Directories[parent]
		if !ok {
			info = DirectoryInfo{
				Children:  make(map[string]bool),
				CreatedBy: e.AgentID(),
				CreatedAt: e.Timestamp,
				UpdatedAt: e.Timestamp,
			}
		}
		info.Children[p] = true
		info.UpdatedAt = e.Timestamp
		s.Directories[parent] = info
		p = parent
	}
}
