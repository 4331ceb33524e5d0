// Package llm defines the Go-side LLM generation contract (SPEC_FULL
// "LLM generation interface") and an HTTP+SSE realization against an
// OpenAI-compatible /v1/chat/completions endpoint. Directly modeled on
// the teacher's channel-based streaming client (formerly pkg/llm/client.go,
// a gRPC client emitting a StreamChunk union over a channel), transported
// over plain HTTP+SSE instead of gRPC since the concrete backend is
// explicitly out of scope and an HTTP contract needs no generated stubs.
package llm

import "context"

// Role is a conversation message's role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages: which call this answers
	Name       string // tool name, set on RoleTool messages
}

// ToolSpec describes one callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ModelSettings configures one generation call.
type ModelSettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// GenerateInput is the full request to Provider.Generate.
type GenerateInput struct {
	Messages []Message
	Tools    []ToolSpec
	Settings ModelSettings
}

// ChunkKind discriminates the Chunk union.
type ChunkKind string

const (
	ChunkText     ChunkKind = "text"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkUsage    ChunkKind = "usage"
	ChunkError    ChunkKind = "error"
)

// ToolCall is one requested tool invocation within a ToolCallChunk.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Chunk is one unit of a streamed generation (§ "Chunk is a closed
// interface with TextChunk, ToolCallChunk, UsageChunk, ErrorChunk
// variants"), represented here as a single discriminated struct rather
// than an actual Go interface so callers can range over a channel without
// type-switching on every receive.
type Chunk struct {
	Kind ChunkKind

	Text string // ChunkText

	ToolCalls []ToolCall // ChunkToolCall

	PromptTokens     int // ChunkUsage
	CompletionTokens int // ChunkUsage

	Err error // ChunkError
}

// Provider streams a chat completion.
type Provider interface {
	Generate(ctx context.Context, in *GenerateInput) (<-chan Chunk, error)
}
