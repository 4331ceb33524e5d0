package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nexops/kernelengine/pkg/errs"
)

// httpProvider streams a chat completion from an OpenAI-compatible
// "/v1/chat/completions" endpoint over Server-Sent Events. Grounded on the
// teacher's channel-based streaming client shape (spawn a goroutine,
// push typed chunks on a buffered channel, close on completion or error)
// but reading SSE frames off a plain net/http response body instead of a
// gRPC stream — the OpenAI SSE framing ("data: {...}\n\n", terminated by
// "data: [DONE]") has no ecosystem client in the example pack, so this
// package parses it directly with bufio.Scanner (documented stdlib choice
// in the project's dependency ledger).
type httpProvider struct {
	httpClient *http.Client
}

// NewHTTPProvider constructs a Provider backed by net/http.
func NewHTTPProvider(client *http.Client) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpProvider{httpClient: client}
}

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []chatToolSpec  `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type chatToolSpec struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements Provider.
func (p *httpProvider) Generate(ctx context.Context, in *GenerateInput) (<-chan Chunk, error) {
	body, err := json.Marshal(buildRequest(in))
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("llm: encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(in.Settings.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("llm: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if in.Settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+in.Settings.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("llm: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.Unavailable(fmt.Errorf("llm: status %d", resp.StatusCode))
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			if payload == "" {
				continue
			}

			var cc chatCompletionChunk
			if err := json.Unmarshal([]byte(payload), &cc); err != nil {
				sendChunk(ctx, out, Chunk{Kind: ChunkError, Err: fmt.Errorf("llm: decode chunk: %w", err)})
				return
			}
			emitChunk(ctx, out, cc)
		}
		if err := scanner.Err(); err != nil {
			sendChunk(ctx, out, Chunk{Kind: ChunkError, Err: err})
		}
	}()
	return out, nil
}

func emitChunk(ctx context.Context, out chan<- Chunk, cc chatCompletionChunk) {
	for _, choice := range cc.Choices {
		if choice.Delta.Content != "" {
			sendChunk(ctx, out, Chunk{Kind: ChunkText, Text: choice.Delta.Content})
		}
		if len(choice.Delta.ToolCalls) > 0 {
			calls := make([]ToolCall, len(choice.Delta.ToolCalls))
			for i, tc := range choice.Delta.ToolCalls {
				calls[i] = ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			}
			sendChunk(ctx, out, Chunk{Kind: ChunkToolCall, ToolCalls: calls})
		}
	}
	if cc.Usage != nil {
		sendChunk(ctx, out, Chunk{Kind: ChunkUsage, PromptTokens: cc.Usage.PromptTokens, CompletionTokens: cc.Usage.CompletionTokens})
	}
}

func sendChunk(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

func buildRequest(in *GenerateInput) chatCompletionRequest {
	msgs := make([]chatMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
	}
	tools := make([]chatToolSpec, len(in.Tools))
	for i, t := range in.Tools {
		tools[i] = chatToolSpec{Type: "function", Function: chatToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}}
	}
	return chatCompletionRequest{
		Model:       in.Settings.Model,
		Messages:    msgs,
		Temperature: in.Settings.Temperature,
		Stream:      true,
		Tools:       tools,
	}
}
