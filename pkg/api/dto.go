package api

import (
	"time"

	"github.com/nexops/kernelengine/pkg/agent"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/vectordb"
)

// eventDTO is the wire shape of executor.Event (§6 "one JSON event per
// line"). executor.Event carries no json tags of its own — it is an
// internal discriminated union, not a wire type — so this package owns the
// serialization shape instead of tagging a domain type for one consumer.
type eventDTO struct {
	Kind        string         `json:"kind"`
	StreamName  string         `json:"streamName,omitempty"`
	Text        string         `json:"text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	EName       string         `json:"ename,omitempty"`
	EValue      string         `json:"evalue,omitempty"`
	Traceback   []string       `json:"traceback,omitempty"`
	Message     string         `json:"message,omitempty"`
	OutputCount int            `json:"outputCount,omitempty"`
}

func toEventDTO(ev executor.Event) eventDTO {
	return eventDTO{
		Kind:        string(ev.Kind),
		StreamName:  string(ev.StreamName),
		Text:        ev.Text,
		Data:        ev.Data,
		Metadata:    ev.Metadata,
		EName:       ev.EName,
		EValue:      ev.EValue,
		Traceback:   ev.Traceback,
		Message:     ev.Message,
		OutputCount: ev.OutputCount,
	}
}

// kernelSummary is the wire shape of a kernel listing/create response.
type kernelSummary struct {
	ID       string            `json:"id"`
	Mode     executor.Mode     `json:"mode"`
	Language executor.Language `json:"language"`
	Status   executor.Status   `json:"status"`
	Created  time.Time         `json:"created"`
	Name     string            `json:"name"`
}

func toKernelSummary(r *kernel.Record) kernelSummary {
	return kernelSummary{
		ID:       r.ID.String(),
		Mode:     r.Mode,
		Language: r.Language,
		Status:   r.Status(),
		Created:  r.CreatedAt,
		Name:     r.ID.Local,
	}
}

type historyEntryDTO struct {
	SessionID string     `json:"sessionId"`
	Code      string     `json:"code"`
	Outputs   []eventDTO `json:"outputs"`
}

type kernelInfoResponse struct {
	kernelSummary
	History []historyEntryDTO `json:"history"`
}

type createKernelRequest struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
	Lang string `json:"lang"`
}

type executeRequest struct {
	Code string `json:"code"`
}

type actionResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func ok(message string) actionResponse {
	return actionResponse{Success: true, Message: message, Timestamp: time.Now()}
}

// vectorIndexSummary is the wire shape of an index listing/create response.
type vectorIndexSummary struct {
	ID            string              `json:"id"`
	ProviderName  string              `json:"providerName"`
	Permission    vectordb.Permission `json:"permission"`
	Created       time.Time           `json:"created"`
	DocumentCount int                 `json:"documentCount"`
	IsFromOffload bool                `json:"isFromOffload,omitempty"`
}

func toVectorIndexSummary(r *vectordb.Record) vectorIndexSummary {
	_, count, _ := r.Info()
	return vectorIndexSummary{ID: r.ID.String(), ProviderName: r.ProviderName, Permission: r.Permission, Created: r.CreatedAt, DocumentCount: count}
}

type createIndexRequest struct {
	ID                string              `json:"id"`
	Namespace         string              `json:"namespace"`
	EmbeddingModel    string              `json:"embeddingModel"`
	EmbeddingProvider string              `json:"embeddingProvider"`
	Permission        vectordb.Permission `json:"permission"`
	InactivityTimeout int64               `json:"inactivityTimeout"` // milliseconds
	Resume            bool                `json:"resume"`
}

type documentInput struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

type addDocumentsRequest struct {
	Documents []documentInput `json:"documents"`
}

type removeDocumentsRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

type documentCountResponse struct {
	DocumentCount int `json:"documentCount"`
}

type queryRequest struct {
	Query           string  `json:"query"`
	Vector          []float32 `json:"vector"`
	K               int     `json:"k"`
	Threshold       float32 `json:"threshold"`
	IncludeMetadata bool    `json:"includeMetadata"`
	IncludeText     bool    `json:"includeText"`
}

type queryResultDTO struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Text     string         `json:"text,omitempty"`
}

type queryResponse struct {
	Results []queryResultDTO `json:"results"`
	Count   int              `json:"count"`
	Query   string           `json:"query"`
}

type timeoutRequest struct {
	InactivityTimeout int64 `json:"inactivityTimeout"`
}

type indexInfoResponse struct {
	vectorIndexSummary
	Dimension int  `json:"dimension"`
	Count     int  `json:"count"`
	Offloaded bool `json:"offloaded"`
}

type changeProviderRequest struct {
	ProviderName string `json:"providerName"`
}

type providerDTO struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

type createProviderRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Dimension int    `json:"dimension"`
	BaseURL   string `json:"baseUrl"`
	Model     string `json:"model"`
}

// agentSummary is the wire shape of an agent listing/create response.
type agentSummary struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Instructions  string            `json:"instructions"`
	KernelID      string            `json:"kernelId,omitempty"`
	StartupError  string            `json:"startupError,omitempty"`
	MaxSteps      int               `json:"maxSteps"`
	ModelSettings llm.ModelSettings `json:"modelSettings"`
	MCPServers    []string          `json:"mcpServers,omitempty"`
	Created       time.Time         `json:"created"`
}

func toAgentSummary(a *agent.Agent) agentSummary {
	return agentSummary{
		ID:            a.ID.String(),
		Name:          a.Name,
		Instructions:  a.Instructions,
		KernelID:      a.KernelID(),
		StartupError:  a.StartupError(),
		MaxSteps:      a.MaxSteps,
		ModelSettings: a.ModelSettings,
		MCPServers:    a.MCPServers,
		Created:       a.CreatedAt,
	}
}

type createAgentRequest struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Instructions     string              `json:"instructions"`
	StartupScript    string              `json:"startupScript"`
	AutoAttachKernel bool                `json:"autoAttachKernel"`
	KernelMode       string              `json:"kernelMode"`
	KernelLanguage   string              `json:"kernelLanguage"`
	ModelSettings    llm.ModelSettings   `json:"modelSettings"`
	MaxSteps         int                 `json:"maxSteps"`
	MCPServers       []string            `json:"mcpServers"`
	ToolFilter       map[string][]string `json:"toolFilter"`
}

type updateAgentRequest struct {
	Name          *string            `json:"name"`
	Instructions  *string            `json:"instructions"`
	ModelSettings *llm.ModelSettings `json:"modelSettings"`
	MaxSteps      *int               `json:"maxSteps"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type statelessChatRequest struct {
	Messages []llm.Message `json:"messages"`
}

type setConversationRequest struct {
	Messages []llm.Message `json:"messages"`
}

type attachKernelRequest struct {
	KernelID string `json:"kernelId"`
}

// chatChunkDTO is the SSE/RPC wire shape of agent.ChatChunk.
type chatChunkDTO struct {
	Kind    string         `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Call    *toolCallDTO   `json:"call,omitempty"`
	Result  *toolResultDTO `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type toolCallDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolResultDTO struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

func toChatChunkDTO(c agent.ChatChunk) chatChunkDTO {
	dto := chatChunkDTO{Kind: string(c.Kind), Text: c.Text}
	if c.Call != nil {
		dto.Call = &toolCallDTO{ID: c.Call.ID, Name: c.Call.Name, Arguments: c.Call.Arguments}
	}
	if c.Result != nil {
		dto.Result = &toolResultDTO{CallID: c.Result.CallID, Name: c.Result.Name, Content: c.Result.Content, IsError: c.Result.IsError}
	}
	if c.Err != nil {
		dto.Error = c.Err.Error()
	}
	return dto
}
