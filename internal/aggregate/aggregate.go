// Package aggregate implements the project aggregate from spec.md §4.6:
// the single-writer consistency boundary that turns commands into
// business-rule-checked, optimistically-concurrent, sequenced events.
package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
	"github.com/cmdhub/cmdhub/internal/event"
	"github.com/cmdhub/cmdhub/internal/model"
	"github.com/cmdhub/cmdhub/internal/project"
)

// Validator is the one-way port the aggregate uses to ask the dispatcher
// for a decision, breaking the aggregate<->dispatcher cycle per
// spec.md §9 (dispatcher never imports this package).
type Validator interface {
	Validate(ctx context.Context, req model.Request) model.Result
}

// Aggregate holds (project_id, version, uncommittedEvents) per
// spec.md §4.6. version is the highest sequence number applied.
type Aggregate struct {
	mu sync.Mutex

	projectID string
	version   int64
	state     *project.State

	uncommitted []event.Event

	validator Validator
	cfg       Config
}

// New constructs an aggregate for projectID. validator may be nil, in
// which case the dispatcher-delegation step of each command handler is
// skipped.
func New(projectID string, validator Validator, cfg Config) *Aggregate {
	return &Aggregate{
		projectID: projectID,
		state:     project.NewState(),
		validator: validator,
		cfg:       cfg,
	}
}

// Version returns the aggregate's current version (highest applied
// sequence).
func (a *Aggregate) Version() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// State returns the aggregate's live derived state. Callers (VFS,
// reconstructor) must treat it as read-only; the aggregate is its sole
// mutator.
func (a *Aggregate) State() *project.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UncommittedEvents returns (and clears) events appended since the last
// call, for the caller to persist to an event.Store.
func (a *Aggregate) UncommittedEvents() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.uncommitted
	a.uncommitted = nil
	return out
}

// LoadHistory folds already-persisted events (in sequence order) back
// into the aggregate's state at startup, without re-adding them to
// uncommitted. Callers use this to prime the aggregate from an
// event.Store before accepting new commands.
func (a *Aggregate) LoadHistory(events []event.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ev := range events {
		project.Apply(a.state, ev)
		if ev.Sequence > a.version {
			a.version = ev.Sequence
		}
	}
}

// checkVersion enforces optimistic concurrency: a non-nil expected must
// equal the current version. Must be called with a.mu held.
func (a *Aggregate) checkVersion(expected *int64) error {
	if expected == nil {
		return nil
	}
	if *expected != a.version {
		return &cmderrors.ConcurrencyConflict{Expected: uint64(*expected), Actual: uint64(a.version)}
	}
	return nil
}

// validateBridge asks the dispatcher for a decision and turns a Blocked
// result into the spec's validation-bridge-blocked business rule
// violation. Must be called with a.mu held (Validate itself may block,
// but never on this aggregate's lock since Dispatcher.Validate doesn't
// call back into the aggregate).
func (a *Aggregate) validateBridge(ctx context.Context, toolName string, input map[string]any, agent string) error {
	if a.validator == nil {
		return nil
	}
	req, err := model.NewRequest(toolName, agent, input)
	if err != nil {
		return cmderrors.NewBusinessRuleViolation("invalid_request", map[string]any{"reason": err.Error()})
	}
	result := a.validator.Validate(ctx, req)
	if result.Decision == model.Blocked {
		return cmderrors.ValidationBlocked(result.Reason)
	}
	return nil
}

// nextEvent builds the envelope for a new event: increments version,
// sets sequence, source agent, optional session id, and the metadata
// content hash over the canonicalized data map (spec.md §4.6 step 5).
func (a *Aggregate) nextEvent(typ event.Type, agent, session string, data map[string]any) event.Event {
	a.version++
	metadata := map[string]any{
		"operation":    string(typ),
		"content_hash": contentHashOf(data),
	}
	if session != "" {
		metadata["session_id"] = session
	}
	ev := event.Event{
		Type:        typ,
		AggregateID: a.projectID,
		Sequence:    a.version,
		Timestamp:   time.Now(),
		SourceAgent: agent,
		Data:        data,
		Metadata:    metadata,
	}
	project.Apply(a.state, ev)
	a.uncommitted = append(a.uncommitted, ev)
	return ev
}

func contentHashOf(data map[string]any) string {
	sum := sha256.Sum256([]byte(model.Canonicalize(data)))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HandleFileModification implements spec.md §4.6's handler of the same
// name (covers both FileCreated and FileModified: the former is a
// modification at a path with no prior live file).
func (a *Aggregate) HandleFileModification(ctx context.Context, path, content string, agent, session string, expected *int64) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkVersion(expected); err != nil {
		return event.Event{}, err
	}
	if err := a.validateBridge(ctx, "Write", map[string]any{"file_path": path, "content": content}, agent); err != nil {
		return event.Event{}, err
	}

	contentBytes := []byte(content)
	if err := a.checkMaxFileSize(contentBytes); err != nil {
		return event.Event{}, err
	}
	if err := a.checkAllowedExtension(path); err != nil {
		return event.Event{}, err
	}
	if err := a.checkProtectedPath(path); err != nil {
		return event.Event{}, err
	}
	if err := a.checkSuspiciousContent(contentBytes); err != nil {
		return event.Event{}, err
	}

	newHash := sha256Hex(contentBytes)
	existing, existed := a.state.CurrentFile(path)
	evType := event.FileCreated
	data := map[string]any{
		"path":         path,
		"content":      content,
		"content_hash": newHash,
		"size":         int64(len(contentBytes)),
	}
	if existed {
		evType = event.FileModified
		data["previous_hash"] = existing.ContentHash
	}

	return a.nextEvent(evType, agent, session, data), nil
}

// HandleFileDeletion implements spec.md §4.6's handleFileDeletion.
func (a *Aggregate) HandleFileDeletion(ctx context.Context, path, agent, session string, expected *int64) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkVersion(expected); err != nil {
		return event.Event{}, err
	}
	if err := a.validateBridge(ctx, "Bash", map[string]any{"command": "rm " + path}, agent); err != nil {
		return event.Event{}, err
	}
	if err := a.checkProtectedPath(path); err != nil {
		return event.Event{}, err
	}
	if err := a.checkCriticalFileDeletion(path); err != nil {
		return event.Event{}, err
	}

	return a.nextEvent(event.FileDeleted, agent, session, map[string]any{"path": path}), nil
}

// HandleFileMove implements spec.md §4.6's handleFileMove.
func (a *Aggregate) HandleFileMove(ctx context.Context, oldPath, newPath, agent, session string, expected *int64) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkVersion(expected); err != nil {
		return event.Event{}, err
	}
	if !a.state.IsLive(oldPath) {
		return event.Event{}, cmderrors.NewBusinessRuleViolation("move_source_missing", map[string]any{"path": oldPath})
	}
	if a.state.IsLive(newPath) {
		return event.Event{}, cmderrors.NewBusinessRuleViolation("move_destination_exists", map[string]any{"path": newPath})
	}
	if err := a.checkProtectedPath(oldPath); err != nil {
		return event.Event{}, err
	}
	if err := a.checkProtectedPath(newPath); err != nil {
		return event.Event{}, err
	}

	return a.nextEvent(event.FileMoved, agent, session, map[string]any{"old_path": oldPath, "new_path": newPath}), nil
}

// HandleDirectoryCreation implements spec.md §4.6's
// handleDirectoryCreation.
func (a *Aggregate) HandleDirectoryCreation(ctx context.Context, path, agent, session string, expected *int64) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkVersion(expected); err != nil {
		return event.Event{}, err
	}
	if _, ok := a.state.Directories[path]; ok {
		return event.Event{}, cmderrors.NewBusinessRuleViolation("directory_already_exists", map[string]any{"path": path})
	}
	if err := a.checkProtectedPath(path); err != nil {
		return event.Event{}, err
	}

	return a.nextEvent(event.DirectoryCreated, agent, session, map[string]any{"path": path}), nil
}

// HandleValidationRequest implements spec.md §4.6's
// handleValidationRequest. It does not itself call the dispatcher —
// recording the submission is a bookkeeping event, independent of
// whatever decision eventually arrives via HandleValidationDecision.
func (a *Aggregate) HandleValidationRequest(ctx context.Context, requestID, toolName string, input map[string]any, agent, session string) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := map[string]any{
		"request_id": requestID,
		"tool_name":  toolName,
		"tool_input": input,
		"command_hash": model.Fingerprint(toolName, input),
	}
	return a.nextEvent(event.ValidationRequestSubmitted, agent, session, data), nil
}

// HandleValidationDecision implements spec.md §4.6's
// handleValidationDecision.
func (a *Aggregate) HandleValidationDecision(ctx context.Context, requestID string, decision model.Decision, reason, validatorID, session string) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := map[string]any{
		"request_id":   requestID,
		"decision":     decision.String(),
		"reason":       reason,
		"validator_id": validatorID,
	}
	return a.nextEvent(event.ValidationDecisionMade, validatorID, session, data), nil
}

// StartAgentSession implements spec.md §4.6's startAgentSession.
func (a *Aggregate) StartAgentSession(ctx context.Context, agent, agentType string, metadata map[string]any) (string, event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sessionID := uuid.NewString()
	if metadata == nil {
		metadata = map[string]any{}
	}
	data := map[string]any{
		"session_id": sessionID,
		"agent_type": agentType,
		"metadata":   metadata,
	}
	ev := a.nextEvent(event.AgentSessionStarted, agent, sessionID, data)
	return sessionID, ev, nil
}

// EndAgentSession implements spec.md §4.6's endAgentSession.
func (a *Aggregate) EndAgentSession(ctx context.Context, sessionID, agent, summary string) (event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.state.Sessions[sessionID]; !ok {
		return event.Event{}, cmderrors.NewBusinessRuleViolation("unknown_session", map[string]any{"session_id": sessionID})
	}
	data := map[string]any{"session_id": sessionID, "summary": summary}
	return a.nextEvent(event.AgentSessionEnded, agent, sessionID, data), nil
}
