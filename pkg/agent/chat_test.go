package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/llm"
)

// sequenceProvider replays a fixed sequence of chunk batches, one batch per
// Generate call, so a test can script a tool-call then a final answer.
type sequenceProvider struct {
	batches [][]llm.Chunk
	calls   int
}

func (p *sequenceProvider) Generate(ctx context.Context, in *llm.GenerateInput) (<-chan llm.Chunk, error) {
	batch := p.batches[p.calls]
	if p.calls < len(p.batches)-1 {
		p.calls++
	}
	out := make(chan llm.Chunk, len(batch))
	for _, c := range batch {
		out <- c
	}
	close(out)
	return out, nil
}

// stubToolExecutor answers every call with a fixed string, recording what
// it was asked to run.
type stubToolExecutor struct {
	tools []ToolDefinition
	calls []ToolCall
}

func (s *stubToolExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	s.calls = append(s.calls, call)
	return &ToolResult{CallID: call.ID, Name: call.Name, Content: "stub-result"}, nil
}

func (s *stubToolExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return s.tools, nil
}

func (s *stubToolExecutor) Close() error { return nil }

func TestChatReturnsFinalTextWhenNoToolCalls(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	out, err := m.Chat(context.Background(), "ns", a.ID.String(), "hello")
	require.NoError(t, err)

	var final ChatChunk
	for c := range out {
		final = c
	}
	assert.Equal(t, ChatChunkComplete, final.Kind)
	assert.Equal(t, "echo: hello", final.Text)

	conv, err := m.GetConversation("ns", a.ID.String())
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, llm.RoleUser, conv[0].Role)
	assert.Equal(t, llm.RoleAssistant, conv[1].Role)
}

func TestChatDispatchesMCPToolCallThenCompletes(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	stub := &stubToolExecutor{tools: []ToolDefinition{{Name: "search", Description: "search the web"}}}
	a.mu.Lock()
	a.toolExecutor = stub
	a.mu.Unlock()

	m.llmProv = &sequenceProvider{batches: [][]llm.Chunk{
		{{Kind: llm.ChunkToolCall, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: `{"q":"go"}`}}}},
		{{Kind: llm.ChunkText, Text: "done"}},
	}}

	out, err := m.Chat(context.Background(), "ns", a.ID.String(), "find something")
	require.NoError(t, err)

	var kinds []ChatChunkKind
	var final ChatChunk
	for c := range out {
		kinds = append(kinds, c.Kind)
		final = c
	}
	assert.Contains(t, kinds, ChatChunkFunctionCall)
	assert.Contains(t, kinds, ChatChunkFunctionCallOutput)
	assert.Equal(t, ChatChunkComplete, final.Kind)
	assert.Equal(t, "done", final.Text)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, "search", stub.calls[0].Name)
}

func TestChatExceedingStepCapEmitsError(t *testing.T) {
	cfg := Config{MaxStepsCap: 2, DefaultModelSettings: llm.ModelSettings{Model: "m"}}
	m := New(cfg, testKernelManager(t), &llm.MockProvider{ToolToCall: "search"}, nil, nil)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	stub := &stubToolExecutor{}
	a.mu.Lock()
	a.toolExecutor = stub
	a.mu.Unlock()

	out, err := m.Chat(context.Background(), "ns", a.ID.String(), "loop forever")
	require.NoError(t, err)

	var final ChatChunk
	for c := range out {
		final = c
	}
	assert.Equal(t, ChatChunkError, final.Kind)
	require.Error(t, final.Err)
}

func TestChatRefusedWhileStartupErrorUncleared(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	a.mu.Lock()
	a.startupError = "boom: startup script failed"
	a.mu.Unlock()

	_, err = m.Chat(context.Background(), "ns", a.ID.String(), "hello")
	require.Error(t, err)
	assert.Equal(t, errs.KindFailedPrecondition, errs.KindOf(err))

	_, err = m.StatelessChat(context.Background(), "ns", a.ID.String(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.Error(t, err)

	require.NoError(t, m.Update("ns", a.ID.String(), UpdateOptions{}))
	assert.Empty(t, a.StartupError())

	out, err := m.Chat(context.Background(), "ns", a.ID.String(), "hello")
	require.NoError(t, err)
	for range out {
	}
}

func TestExecuteCodeToolRunsInAttachedKernel(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{
		Namespace:        "ns",
		AutoAttachKernel: true,
		KernelMode:       executor.ModeWorker,
		KernelLanguage:   executor.LanguageJavaScript,
	})
	require.NoError(t, err)

	result, err := m.executeCode(context.Background(), a, ToolCall{
		ID: "c1", Name: executeCodeTool, Arguments: `{"code":"console.log(1+1)"}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Content)
}

func TestToolCatalogIncludesExecuteCodeOnlyWhenKernelAttached(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	tools, err := m.toolCatalog(context.Background(), a)
	require.NoError(t, err)
	for _, tl := range tools {
		assert.NotEqual(t, executeCodeTool, tl.Name)
	}
}

func TestAutoSaveConversationPersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MaxStepsCap: 5, DataDirectory: dir, AutoSaveConversations: true, DefaultModelSettings: llm.ModelSettings{Model: "m"}}
	m := New(cfg, testKernelManager(t), &llm.MockProvider{}, nil, nil)

	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	out, err := m.Chat(context.Background(), "ns", a.ID.String(), "hi")
	require.NoError(t, err)
	for range out {
	}

	require.Eventually(t, func() bool {
		_, err := m.GetConversation("ns", a.ID.String())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	reloaded := &Agent{ID: a.ID}
	require.NoError(t, m.LoadConversation(reloaded))
	assert.NotEmpty(t, reloaded.Conversation())
}
