// Package api implements the HTTP and WebSocket-RPC surface (§6) over the
// engine's managers: echo v5 route handlers mapping each route to a
// kernel.Manager / vectordb.Manager / agent.Manager call, a shared
// Kind-to-status error mapping, and a /ws/rpc surface mirroring the HTTP
// routes with async-iterator-style streaming. Grounded on the teacher's
// pkg/api/server.go (Server struct, NewServer, setupRoutes, healthHandler,
// Start/StartWithListener/Shutdown).
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/nexops/kernelengine/pkg/agent"
	"github.com/nexops/kernelengine/pkg/embedding"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/mcp"
	"github.com/nexops/kernelengine/pkg/session"
	"github.com/nexops/kernelengine/pkg/vectordb"
)

// Server is the HTTP/WS API server, composing every manager behind a
// single echo instance.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	log        *slog.Logger

	kernels    *kernel.Manager
	sessions   *session.Manager
	vectordb   *vectordb.Manager
	embeddings *embedding.Registry
	agents     *agent.Manager
	health     *mcp.HealthMonitor // nil if no MCP servers configured
}

// NewServer wires every manager into a fresh echo instance and registers
// all routes. sessions is the same *session.Manager instance injected into
// kernels, passed separately because kernel.Manager exposes no passthrough
// for looking a session up by id alone (§4.10 "subscribe(listener)" is a
// session-layer concern, not a kernel-layer one).
func NewServer(
	kernels *kernel.Manager,
	sessions *session.Manager,
	vdb *vectordb.Manager,
	embeddings *embedding.Registry,
	agents *agent.Manager,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	s := &Server{
		echo:       e,
		log:        log.With("component", "api_server"),
		kernels:    kernels,
		sessions:   sessions,
		vectordb:   vdb,
		embeddings: embeddings,
		agents:     agents,
	}
	s.setupRoutes()
	return s
}

// SetHealthMonitor wires the MCP health monitor for the health endpoint.
func (s *Server) SetHealthMonitor(m *mcp.HealthMonitor) {
	s.health = m
}

// corsMiddleware attaches permissive CORS headers to every response (§6:
// "All responses include permissive CORS headers").
func corsMiddleware() echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"*"},
	})
}

func (s *Server) setupRoutes() {
	s.echo.Use(corsMiddleware())
	s.echo.Use(middleware.BodyLimit(8 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	k := s.echo.Group("/api/kernels")
	k.GET("", s.listKernelsHandler)
	k.POST("", s.createKernelHandler)
	k.DELETE("/:id", s.destroyKernelHandler)
	k.GET("/:id/info", s.kernelInfoHandler)
	k.POST("/:id/execute", s.executeStreamHandler)
	k.POST("/:id/execute/submit", s.executeSubmitHandler)
	k.GET("/:id/execute/result/:sid", s.executeResultHandler)
	k.GET("/:id/execute/stream/:sid", s.executeSSEHandler)
	k.POST("/:id/ping", s.pingKernelHandler)
	k.POST("/:id/restart", s.restartKernelHandler)
	k.POST("/:id/interrupt", s.interruptKernelHandler)

	v := s.echo.Group("/api/vectordb")
	v.POST("/indices", s.createIndexHandler)
	v.GET("/indices", s.listIndicesHandler)
	v.POST("/indices/:id/documents", s.addDocumentsHandler)
	v.DELETE("/indices/:id/documents", s.removeDocumentsHandler)
	v.POST("/indices/:id/query", s.queryIndexHandler)
	v.POST("/indices/:id/ping", s.pingIndexHandler)
	v.POST("/indices/:id/timeout", s.setTimeoutHandler)
	v.POST("/indices/:id/offload", s.offloadIndexHandler)
	v.GET("/indices/:id/info", s.indexInfoHandler)
	v.PUT("/indices/:id/provider", s.changeProviderHandler)
	v.DELETE("/indices/:id", s.destroyIndexHandler)
	v.GET("/offloaded", s.listOffloadedHandler)
	v.DELETE("/offloaded/:id", s.deleteOffloadedHandler)
	v.GET("/providers", s.listProvidersHandler)
	v.POST("/providers", s.createProviderHandler)
	v.PUT("/providers/:name", s.updateProviderHandler)
	v.DELETE("/providers/:name", s.deleteProviderHandler)

	a := s.echo.Group("/api/agents")
	a.GET("", s.listAgentsHandler)
	a.POST("", s.createAgentHandler)
	a.GET("/:id", s.getAgentHandler)
	a.PUT("/:id", s.updateAgentHandler)
	a.DELETE("/:id", s.destroyAgentHandler)
	a.POST("/:id/chat", s.chatHandler)
	a.POST("/:id/chat/stateless", s.statelessChatHandler)
	a.GET("/:id/conversation", s.getConversationHandler)
	a.PUT("/:id/conversation", s.setConversationHandler)
	a.DELETE("/:id/conversation", s.clearConversationHandler)
	a.POST("/:id/kernel", s.attachKernelHandler)
	a.DELETE("/:id/kernel", s.detachKernelHandler)

	s.echo.GET("/ws/rpc", s.rpcHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string                      `json:"status"`
	Time      time.Time                   `json:"time"`
	MCPHealth map[string]*mcp.HealthStatus `json:"mcpHealth,omitempty"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	resp := healthResponse{Status: "healthy", Time: time.Now()}
	if s.health != nil {
		resp.MCPHealth = s.health.GetStatuses()
		if !s.health.IsHealthy() {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
