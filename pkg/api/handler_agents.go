package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/nexops/kernelengine/pkg/agent"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
)

func (s *Server) listAgentsHandler(c *echo.Context) error {
	agents := s.agents.ListAgents(namespaceOf(c))
	out := make([]agentSummary, len(agents))
	for i, a := range agents {
		out[i] = toAgentSummary(a)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createAgentHandler(c *echo.Context) error {
	var req createAgentRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	a, err := s.agents.CreateAgent(c.Request().Context(), agent.CreateOptions{
		ID:               req.ID,
		Namespace:        namespaceOf(c),
		Name:             req.Name,
		Instructions:     req.Instructions,
		StartupScript:    req.StartupScript,
		AutoAttachKernel: req.AutoAttachKernel,
		KernelMode:       executor.Mode(req.KernelMode),
		KernelLanguage:   executor.Language(req.KernelLanguage),
		ModelSettings:    req.ModelSettings,
		MaxSteps:         req.MaxSteps,
		MCPServers:       req.MCPServers,
		ToolFilter:       req.ToolFilter,
	})
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, toAgentSummary(a))
}

func (s *Server) getAgentHandler(c *echo.Context) error {
	a, err := s.agents.GetAgent(namespaceOf(c), c.Param("id"))
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, toAgentSummary(a))
}

func (s *Server) updateAgentHandler(c *echo.Context) error {
	var req updateAgentRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.agents.Update(namespaceOf(c), c.Param("id"), agent.UpdateOptions{
		Name: req.Name, Instructions: req.Instructions, ModelSettings: req.ModelSettings, MaxSteps: req.MaxSteps,
	}); err != nil {
		return mapErr(err)
	}
	a, err := s.agents.GetAgent(namespaceOf(c), c.Param("id"))
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, toAgentSummary(a))
}

func (s *Server) destroyAgentHandler(c *echo.Context) error {
	if err := s.agents.Destroy(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// streamChatChunks drains a chat chunk channel onto c's response as SSE
// (§6 "SSE for chat").
func (s *Server) streamChatChunks(c *echo.Context, chunks <-chan agent.ChatChunk) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.Writer.(http.Flusher)

	for chunk := range chunks {
		data, err := json.Marshal(toChatChunkDTO(chunk))
		if err != nil {
			continue
		}
		fmt.Fprintf(resp, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

func (s *Server) chatHandler(c *echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	chunks, err := s.agents.Chat(c.Request().Context(), namespaceOf(c), c.Param("id"), req.Message)
	if err != nil {
		return mapErr(err)
	}
	return s.streamChatChunks(c, chunks)
}

func (s *Server) statelessChatHandler(c *echo.Context) error {
	var req statelessChatRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	chunks, err := s.agents.StatelessChat(c.Request().Context(), namespaceOf(c), c.Param("id"), req.Messages)
	if err != nil {
		return mapErr(err)
	}
	return s.streamChatChunks(c, chunks)
}

func (s *Server) getConversationHandler(c *echo.Context) error {
	msgs, err := s.agents.GetConversation(namespaceOf(c), c.Param("id"))
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) setConversationHandler(c *echo.Context) error {
	var req setConversationRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.agents.SetConversation(namespaceOf(c), c.Param("id"), req.Messages); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("conversation set"))
}

func (s *Server) clearConversationHandler(c *echo.Context) error {
	if err := s.agents.ClearConversation(namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("conversation cleared"))
}

func (s *Server) attachKernelHandler(c *echo.Context) error {
	var req attachKernelRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.agents.AttachKernel(namespaceOf(c), c.Param("id"), req.KernelID); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("kernel attached"))
}

func (s *Server) detachKernelHandler(c *echo.Context) error {
	if err := s.agents.DetachKernel(namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("kernel detached"))
}
