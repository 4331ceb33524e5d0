// Package agent implements the Agent Manager (§4.9): declarative chat
// agents that optionally bind a kernel (for the built-in executeCode tool)
// and zero or more MCP servers (§ "Component 11: MCP Tool Bridge"), running
// a bounded tool-call loop against an LLM provider. Grounded on the
// teacher's iterating tool-call controller
// (pkg/agent/controller/iterating.go) and its Chunk-channel LLM client
// (pkg/agent/llm_client.go), collapsed from a database-persisted,
// timeline-recording execution pipeline down to this spec's in-memory
// agent record plus optional file-based conversation persistence.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/rid"
)

// ToolCall is one tool invocation requested by the model, in the uniform
// shape both the kernel's executeCode tool and MCP tools are dispatched
// through.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // raw JSON Schema, may be empty
}

// ToolExecutor is satisfied by pkg/mcp.ToolExecutor: a bridge from tool
// calls to an external MCP server's tools. An agent has at most one
// ToolExecutor (covering however many MCP servers it references), composed
// with the built-in executeCode tool by the chat loop (§4.9a).
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	Close() error
}

// ChatChunkKind discriminates the ChatChunk union (§4.9 chat pipeline).
type ChatChunkKind string

const (
	ChatChunkText               ChatChunkKind = "text_chunk"
	ChatChunkFunctionCall       ChatChunkKind = "function_call"
	ChatChunkFunctionCallOutput ChatChunkKind = "function_call_output"
	ChatChunkComplete           ChatChunkKind = "complete"
	ChatChunkError              ChatChunkKind = "error"
)

// ChatChunk is one unit of a streamed chat turn.
type ChatChunk struct {
	Kind ChatChunkKind

	Text string // ChatChunkText / ChatChunkComplete (final assistant text)

	Call   *ToolCall   // ChatChunkFunctionCall
	Result *ToolResult // ChatChunkFunctionCallOutput

	Err error // ChatChunkError
}

// executeCodeTool is the name of the built-in tool bound to an agent's
// attached kernel (§4.9a). Reserved: an MCP tool with this exact name is
// rejected at agent-config time rather than silently shadowed.
const executeCodeTool = "executeCode"

// Agent is the Agent Manager's record for one declarative chat agent
// (§3 Agent).
type Agent struct {
	ID            rid.ID
	Name          string
	Instructions  string
	StartupScript string

	ModelSettings llm.ModelSettings
	MaxSteps      int

	MCPServers []string
	ToolFilter map[string][]string

	CreatedAt time.Time

	mu            sync.Mutex
	kernelID      string // "namespace:id" of the attached kernel, "" if none
	startupError  string
	conversation  []llm.Message
	lastActivity  time.Time
	toolExecutor  ToolExecutor // per-agent MCP bridge, nil if no MCP servers
}

// KernelID returns the attached kernel's resource id, or "" if none.
func (a *Agent) KernelID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kernelID
}

// StartupError returns the error captured from a failed startup script, if
// any (§4.9: "the failure is captured in startup-error and kernel state is
// not torn down").
func (a *Agent) StartupError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startupError
}

// Conversation returns a copy of the agent's persisted conversation.
func (a *Agent) Conversation() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.conversation))
	copy(out, a.conversation)
	return out
}

// touch records activity now, for namespace-cap LRU eviction.
func (a *Agent) touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now()
}

// LastActivity returns the agent's last-activity timestamp, used by
// namespace-cap eviction (§4.9: "Namespace cap evicts oldest agents (by
// last-activity) when full").
func (a *Agent) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}
