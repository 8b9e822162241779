package model

import "errors"

// NewRequest validates and constructs a Request. Tool name and agent id
// must be non-empty, per spec.md §4.1.
func NewRequest(toolName, agentID string, input map[string]any) (Request, error) {
	if toolName == "" {
		return Request{}, errors.New("model: tool name must not be empty")
	}
	if agentID == "" {
		return Request{}, errors.New("model: agent id must not be empty")
	}
	if input == nil {
		input = map[string]any{}
	}
	return Request{ToolName: toolName, AgentID: agentID, ToolInput: input}, nil
}

// readOnlyTools never mutate project state. The safe-default policy
// approves exactly these tools, and the bundled L2 approve-safe-readers
// rule lists the same set.
var readOnlyTools = map[string]bool{
	"Read":     true,
	"Glob":     true,
	"Grep":     true,
	"LS":       true,
	"WebFetch": true,
	"WebSearch": true,
}

var mutatingTools = map[string]bool{
	"Bash":      true,
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
}

var fileOpTools = map[string]bool{
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
	"Read":      true,
}

// IsBash reports whether the request invokes a shell.
func (r Request) IsBash() bool {
	return r.ToolName == "Bash"
}

// IsFileOp reports whether the request touches a single file directly
// (as opposed to a directory listing or a shell command).
func (r Request) IsFileOp() bool {
	return fileOpTools[r.ToolName]
}

// IsSafeTool reports whether the tool is a known read-only tool.
func (r Request) IsSafeTool() bool {
	return readOnlyTools[r.ToolName]
}

// IsMutating reports whether the tool is known to mutate project or host
// state (shell execution or file writes).
func (r Request) IsMutating() bool {
	return mutatingTools[r.ToolName]
}

// SafeDefault is the deterministic fallback decision used whenever no tier
// and no expert could answer in time. It is a pure function of tool name,
// per spec.md §4.5 and the "Safe default purity" testable property in §8.
func SafeDefault(toolName string) Decision {
	if readOnlyTools[toolName] {
		return Approved
	}
	return Blocked
}
