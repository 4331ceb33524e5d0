package llm

import "context"

// MockProvider is a deterministic Provider for tests: it replies with Reply,
// or with "echo: " plus the last message's content, as a single text chunk
// followed by a usage chunk. When ToolToCall is set it instead emits exactly
// one tool-call chunk and no text, on every call.
type MockProvider struct {
	ToolToCall string // if set, emit only one ChunkToolCall and no text reply
	ToolArgs   string
	Reply      string
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, in *GenerateInput) (<-chan Chunk, error) {
	out := make(chan Chunk, 4)
	go func() {
		defer close(out)
		if m.ToolToCall != "" {
			out <- Chunk{Kind: ChunkToolCall, ToolCalls: []ToolCall{{ID: "call-1", Name: m.ToolToCall, Arguments: m.ToolArgs}}}
			return
		}
		reply := m.Reply
		if reply == "" && len(in.Messages) > 0 {
			reply = "echo: " + in.Messages[len(in.Messages)-1].Content
		}
		out <- Chunk{Kind: ChunkText, Text: reply}
		out <- Chunk{Kind: ChunkUsage, PromptTokens: 1, CompletionTokens: 1}
	}()
	return out, nil
}
