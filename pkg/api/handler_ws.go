package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/nexops/kernelengine/pkg/agent"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/session"
	"github.com/nexops/kernelengine/pkg/vectordb"
	"github.com/nexops/kernelengine/pkg/vectorindex"
)

// agentMsgDTO is the RPC wire shape of an llm.Message, named distinctly
// from the HTTP layer's direct use of llm.Message since RPC params arrive
// pre-decoded from a raw JSON envelope rather than through echo's binder.
type agentMsgDTO struct {
	Role       llm.Role `json:"role"`
	Content    string   `json:"content"`
	ToolCallID string   `json:"toolCallId,omitempty"`
	Name       string   `json:"name,omitempty"`
}

func toLLMMessages(in []agentMsgDTO) []llm.Message {
	out := make([]llm.Message, len(in))
	for i, m := range in {
		out[i] = llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
	}
	return out
}

// rpcRequest is one `/ws/rpc` envelope (§6 "{id,method,params}").
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is one outbound envelope: `{id,result}` on success,
// `{id,chunk}` zero or more times followed by `{id,done}` for streaming
// methods, or `{id,error}` on failure.
type rpcResponse struct {
	ID     string      `json:"id"`
	Result any         `json:"result,omitempty"`
	Chunk  any         `json:"chunk,omitempty"`
	Done   bool        `json:"done,omitempty"`
	Error  string      `json:"error,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

// rpcHandler upgrades the connection and serves the RPC method namespace
// mirroring the HTTP routes (§6 "RPC surface"). Grounded on the teacher's
// ConnectionManager.HandleConnection read-loop shape (pkg/events/manager.go):
// a raw conn.Read/conn.Write loop exchanging JSON frames, generalized from
// a pub/sub event fan-out to a request/response (or request/stream) RPC.
func (s *Server) rpcHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request().Context()
	ns := namespaceOf(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil
		}
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("invalid rpc envelope", "error", err)
			continue
		}
		s.dispatchRPC(ctx, conn, ns, req)
	}
}

func (s *Server) writeRPC(ctx context.Context, conn *websocket.Conn, resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		s.log.Warn("rpc write failed", "error", err)
	}
}

func (s *Server) dispatchRPC(ctx context.Context, conn *websocket.Conn, ns string, req rpcRequest) {
	result, chunks, err := s.callRPCMethod(ctx, ns, req.Method, req.Params)
	if err != nil {
		s.writeRPC(ctx, conn, rpcResponse{ID: req.ID, Error: err.Error()})
		return
	}
	if chunks != nil {
		for c := range chunks {
			s.writeRPC(ctx, conn, rpcResponse{ID: req.ID, Chunk: c})
		}
		s.writeRPC(ctx, conn, rpcResponse{ID: req.ID, Done: true})
		return
	}
	s.writeRPC(ctx, conn, rpcResponse{ID: req.ID, Result: result})
}

// callRPCMethod dispatches one RPC call. Exactly one of (result, chunks) is
// meaningful on success: chunks is non-nil for methods whose HTTP
// counterpart streams (executeCode, chatWithAgent, ...).
func (s *Server) callRPCMethod(ctx context.Context, ns, method string, params json.RawMessage) (any, <-chan any, error) {
	switch method {
	case "createKernel":
		var p createKernelRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		id, err := s.kernels.CreateKernel(ctx, kernel.CreateOptions{ID: p.ID, Namespace: ns, Mode: executor.Mode(p.Mode), Language: executor.Language(p.Lang)})
		if err != nil {
			return nil, nil, err
		}
		r, err := s.kernels.GetKernel(ns, id.String())
		if err != nil {
			return nil, nil, err
		}
		return toKernelSummary(r), nil, nil

	case "pingKernel":
		var p struct{ ID string `json:"id"` }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.kernels.PingKernel(ns, p.ID)

	case "destroyKernel":
		var p struct{ ID string `json:"id"` }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.kernels.DestroyKernel(ctx, ns, p.ID)

	case "executeCode":
		var p struct {
			KernelID string `json:"kernelId"`
			Code     string `json:"code"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		sess, err := s.kernels.ExecuteStream(ctx, ns, p.KernelID, p.Code)
		if err != nil {
			return nil, nil, err
		}
		return nil, eventChunks(sess.Subscribe()), nil

	case "getExecutionResult":
		var p struct{ SessionID string `json:"sessionId"` }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		sess, ok := s.sessions.Get(p.SessionID)
		if !ok {
			return nil, nil, errs.NotFound(p.SessionID)
		}
		l := sess.Subscribe()
		defer sess.Unsubscribe(l)
		var out []eventDTO
		for ev := range *l {
			out = append(out, toEventDTO(ev))
			if ev.IsTerminator() {
				break
			}
		}
		return out, nil, nil

	case "streamExecution":
		var p struct{ SessionID string `json:"sessionId"` }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		sess, ok := s.sessions.Get(p.SessionID)
		if !ok {
			return nil, nil, errs.NotFound(p.SessionID)
		}
		return nil, eventChunks(sess.Subscribe()), nil

	case "createVectorIndex":
		var p createIndexRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		providerName := p.EmbeddingProvider
		if providerName == "" {
			providerName = p.EmbeddingModel
		}
		id, isFromOffload, err := s.vectordb.CreateIndex(ctx, vectordb.CreateOptions{ID: p.ID, Namespace: ns, ProviderName: providerName, Permission: p.Permission, Resume: p.Resume})
		if err != nil {
			return nil, nil, err
		}
		summary := vectorIndexSummary{ID: id.String(), ProviderName: providerName, Permission: p.Permission, IsFromOffload: isFromOffload}
		for _, r := range s.vectordb.ListIndices(ns) {
			if r.ID.String() == id.String() {
				summary = toVectorIndexSummary(r)
				summary.IsFromOffload = isFromOffload
				break
			}
		}
		return summary, nil, nil

	case "addDocuments":
		var p struct {
			ID        string          `json:"id"`
			Documents []documentInput `json:"documents"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		inputs := make([]vectorindex.AddInput, len(p.Documents))
		for i, d := range p.Documents {
			inputs[i] = vectorindex.AddInput{ID: d.ID, Text: d.Text, Vector: d.Vector, Metadata: d.Metadata}
		}
		if err := s.vectordb.AddDocuments(ctx, ns, p.ID, inputs); err != nil {
			return nil, nil, err
		}
		return documentCountResponse{DocumentCount: len(inputs)}, nil, nil

	case "queryVectorIndex":
		var p struct {
			ID string `json:"id"`
			queryRequest
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		k := p.K
		if k <= 0 {
			k = 10
		}
		results, err := s.vectordb.QueryIndex(ctx, ns, p.ID, p.Query, p.Vector, vectordb.QueryOptions{K: k, Threshold: p.Threshold, IncludeMetadata: p.IncludeMetadata, IncludeText: p.IncludeText})
		if err != nil {
			return nil, nil, err
		}
		out := make([]queryResultDTO, len(results))
		for i, r := range results {
			out[i] = queryResultDTO{ID: r.ID, Score: r.Score, Metadata: r.Metadata, Text: r.Text}
		}
		return queryResponse{Results: out, Count: len(out), Query: p.Query}, nil, nil

	case "destroyVectorIndex":
		var p struct{ ID string `json:"id"` }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.vectordb.DestroyIndex(ctx, ns, p.ID)

	case "createAgent":
		var p createAgentRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		a, err := s.agents.CreateAgent(ctx, agent.CreateOptions{
			ID: p.ID, Namespace: ns, Name: p.Name, Instructions: p.Instructions, StartupScript: p.StartupScript,
			AutoAttachKernel: p.AutoAttachKernel, KernelMode: executor.Mode(p.KernelMode), KernelLanguage: executor.Language(p.KernelLanguage),
			ModelSettings: p.ModelSettings, MaxSteps: p.MaxSteps, MCPServers: p.MCPServers, ToolFilter: p.ToolFilter,
		})
		if err != nil {
			return nil, nil, err
		}
		return toAgentSummary(a), nil, nil

	case "chatWithAgent":
		var p struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		chunks, err := s.agents.Chat(ctx, ns, p.ID, p.Message)
		if err != nil {
			return nil, nil, err
		}
		return nil, chatChunks(chunks), nil

	case "chatWithAgentStateless":
		var p struct {
			ID       string        `json:"id"`
			Messages []agentMsgDTO `json:"messages"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		chunks, err := s.agents.StatelessChat(ctx, ns, p.ID, toLLMMessages(p.Messages))
		if err != nil {
			return nil, nil, err
		}
		return nil, chatChunks(chunks), nil

	case "setAgentConversationHistory":
		var p struct {
			ID       string        `json:"id"`
			Messages []agentMsgDTO `json:"messages"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, nil, err
		}
		return nil, nil, s.agents.SetConversation(ns, p.ID, toLLMMessages(p.Messages))

	default:
		return nil, nil, errs.InvalidArgument(fmt.Errorf("unknown rpc method %q", method))
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.InvalidArgument(err)
	}
	return nil
}

func eventChunks(l *session.Listener) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for ev := range *l {
			out <- toEventDTO(ev)
			if ev.IsTerminator() {
				return
			}
		}
	}()
	return out
}

func chatChunks(chunks <-chan agent.ChatChunk) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for c := range chunks {
			out <- toChatChunkDTO(c)
		}
	}()
	return out
}
