package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/llm"
)

// Chat runs one stateful turn (§4.9 chat): userMessage is appended to the
// agent's persisted conversation, the bounded tool-call loop runs to
// completion, and the final conversation (including tool round-trips) is
// saved back before the channel closes.
func (m *Manager) Chat(ctx context.Context, callerNamespace, agentID, userMessage string) (<-chan ChatChunk, error) {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return nil, err
	}
	if se := a.StartupError(); se != "" {
		return nil, errs.FailedPrecondition(a.ID.String(), fmt.Errorf("agent startup script failed and has not been cleared: %s", se))
	}
	history := a.Conversation()
	history = append(history, llm.Message{Role: llm.RoleUser, Content: userMessage})

	out := make(chan ChatChunk, 8)
	go func() {
		defer close(out)
		final := m.runLoop(ctx, a, history, out)
		if final == nil {
			return
		}
		a.mu.Lock()
		a.conversation = final
		a.mu.Unlock()
		if m.cfg.AutoSaveConversations {
			if err := m.saveConversation(a); err != nil {
				m.log.Warn("saving agent conversation failed", "agent", a.ID.String(), "error", err)
			}
		}
	}()
	return out, nil
}

// StatelessChat runs the tool-call loop over a caller-supplied message
// list without touching the agent's persisted conversation (§4.9
// statelessChat).
func (m *Manager) StatelessChat(ctx context.Context, callerNamespace, agentID string, messages []llm.Message) (<-chan ChatChunk, error) {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return nil, err
	}
	if se := a.StartupError(); se != "" {
		return nil, errs.FailedPrecondition(a.ID.String(), fmt.Errorf("agent startup script failed and has not been cleared: %s", se))
	}
	history := append([]llm.Message(nil), messages...)

	out := make(chan ChatChunk, 8)
	go func() {
		defer close(out)
		m.runLoop(ctx, a, history, out)
	}()
	return out, nil
}

// runLoop drives the bounded ReAct tool-call loop (§4.9a): each step asks
// the model to generate against the current history and the agent's tool
// catalog; tool calls are executed and their results appended before the
// next step, until the model replies with no tool calls (success) or the
// step cap is reached (error terminator). Returns the final message
// history on a clean finish, or nil if the loop errored out.
func (m *Manager) runLoop(ctx context.Context, a *Agent, history []llm.Message, out chan<- ChatChunk) []llm.Message {
	a.touch()

	tools, err := m.toolCatalog(ctx, a)
	if err != nil {
		out <- ChatChunk{Kind: ChatChunkError, Err: err}
		return nil
	}

	if len(history) == 0 || history[0].Role != llm.RoleSystem {
		if a.Instructions != "" {
			history = append([]llm.Message{{Role: llm.RoleSystem, Content: a.Instructions}}, history...)
		}
	}

	maxSteps := a.MaxSteps
	if maxSteps <= 0 || maxSteps > m.cfg.MaxStepsCap {
		maxSteps = m.cfg.MaxStepsCap
	}

	for step := 0; step < maxSteps; step++ {
		chunks, err := m.llmProv.Generate(ctx, &llm.GenerateInput{
			Messages: history,
			Tools:    tools,
			Settings: a.ModelSettings,
		})
		if err != nil {
			out <- ChatChunk{Kind: ChatChunkError, Err: err}
			return nil
		}

		var text strings.Builder
		var calls []llm.ToolCall
		for c := range chunks {
			switch c.Kind {
			case llm.ChunkText:
				text.WriteString(c.Text)
				out <- ChatChunk{Kind: ChatChunkText, Text: c.Text}
			case llm.ChunkToolCall:
				calls = append(calls, c.ToolCalls...)
			case llm.ChunkError:
				out <- ChatChunk{Kind: ChatChunkError, Err: c.Err}
				return nil
			case llm.ChunkUsage:
				// no per-turn accounting at this layer (§ Non-goals: usage
				// metering is the caller's concern, not the agent loop's).
			}
		}

		if len(calls) == 0 {
			finalText := text.String()
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: finalText})
			out <- ChatChunk{Kind: ChatChunkComplete, Text: finalText}
			return history
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: text.String()})
		for _, c := range calls {
			call := ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
			out <- ChatChunk{Kind: ChatChunkFunctionCall, Call: &call}

			result, err := m.dispatch(ctx, a, call)
			if err != nil {
				result = &ToolResult{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}
			}
			out <- ChatChunk{Kind: ChatChunkFunctionCallOutput, Result: result}

			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Content,
				ToolCallID: result.CallID,
				Name:       result.Name,
			})
		}
	}

	out <- ChatChunk{Kind: ChatChunkError, Err: fmt.Errorf("agent: exceeded maximum of %d tool-call steps without a final answer", maxSteps)}
	return nil
}

// toolCatalog composes the built-in executeCode tool (when a kernel is
// attached) with whatever MCP tools the agent's ToolExecutor offers
// (§4.9a).
func (m *Manager) toolCatalog(ctx context.Context, a *Agent) ([]llm.ToolSpec, error) {
	var specs []llm.ToolSpec
	if a.KernelID() != "" {
		specs = append(specs, llm.ToolSpec{
			Name:        executeCodeTool,
			Description: "Execute code in the agent's attached kernel and return its output.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{"type": "string", "description": "source code to execute"},
				},
				"required": []string{"code"},
			},
		})
	}

	a.mu.Lock()
	te := a.toolExecutor
	a.mu.Unlock()
	if te == nil {
		return specs, nil
	}
	defs, err := te.ListTools(ctx)
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("agent: listing MCP tools: %w", err))
	}
	for _, d := range defs {
		spec := llm.ToolSpec{Name: d.Name, Description: d.Description}
		if d.ParametersSchema != "" {
			var params map[string]any
			if err := json.Unmarshal([]byte(d.ParametersSchema), &params); err == nil {
				spec.Parameters = params
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// dispatch routes one tool call to the built-in executeCode tool or the
// agent's MCP ToolExecutor.
func (m *Manager) dispatch(ctx context.Context, a *Agent, call ToolCall) (*ToolResult, error) {
	if call.Name == executeCodeTool {
		return m.executeCode(ctx, a, call)
	}

	a.mu.Lock()
	te := a.toolExecutor
	a.mu.Unlock()
	if te == nil {
		return &ToolResult{CallID: call.ID, Name: call.Name, Content: "no MCP tools are available to this agent", IsError: true}, nil
	}
	return te.Execute(ctx, call)
}

// executeCode runs call's "code" argument in the agent's attached kernel
// and collapses the resulting event stream into one tool-result string.
func (m *Manager) executeCode(ctx context.Context, a *Agent, call ToolCall) (*ToolResult, error) {
	kernelID := a.KernelID()
	if kernelID == "" {
		return &ToolResult{CallID: call.ID, Name: call.Name, Content: "agent has no attached kernel", IsError: true}, nil
	}

	var args struct {
		Code string `json:"code"`
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &ToolResult{CallID: call.ID, Name: call.Name, Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}

	sess, err := m.kernels.ExecuteStream(ctx, a.ID.Namespace, kernelID, args.Code)
	if err != nil {
		return &ToolResult{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}, nil
	}

	l := sess.Subscribe()
	defer sess.Unsubscribe(l)

	var out strings.Builder
	isError := false
	for ev := range *l {
		switch ev.Kind {
		case executor.EventStream:
			out.WriteString(ev.Text)
		case executor.EventExecuteResult, executor.EventDisplayData:
			if text, ok := ev.Data["text/plain"].(string); ok {
				out.WriteString(text)
			}
		case executor.EventExecuteError, executor.EventError:
			isError = true
			out.WriteString(fmt.Sprintf("%s: %s", ev.EName, ev.EValue))
		}
		if ev.IsTerminator() {
			break
		}
	}

	return &ToolResult{CallID: call.ID, Name: call.Name, Content: out.String(), IsError: isError}, nil
}
