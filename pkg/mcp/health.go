package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthStatus captures the health check result for a single MCP server.
type HealthStatus struct {
	ServerID  string    `json:"server_id"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// HealthMonitor periodically checks MCP server health.
// Runs a background goroutine that probes each server with ListTools.
type HealthMonitor struct {
	factory  *ClientFactory
	registry *ServerRegistry

	checkInterval time.Duration
	pingTimeout   time.Duration

	// Dedicated health-check client (long-lived, recreated on failure)
	client   *Client
	clientMu sync.Mutex

	statuses   map[string]*HealthStatus
	statusesMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(factory *ClientFactory, registry *ServerRegistry, log *slog.Logger) *HealthMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &HealthMonitor{
		factory:       factory,
		registry:      registry,
		checkInterval: MCPHealthInterval,
		pingTimeout:   MCPHealthPingTimeout,
		statuses:      make(map[string]*HealthStatus),
		log:           log.With("component", "mcp_health"),
	}
}

// Start launches the background health check loop. A no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.clientMu.Lock()
	client, err := m.factory.CreateClient(ctx, m.registry.ServerIDs())
	if err != nil {
		m.log.Warn("failed to create initial health client", "error", err)
	}
	m.client = client
	m.clientMu.Unlock()

	go m.loop(ctx)
}

// Stop gracefully shuts down the health monitor. Start may be called again.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.clientMu.Lock()
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.clientMu.Unlock()

	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.ensureClient(ctx)
	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ensureClient(ctx)
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) ensureClient(ctx context.Context) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.client != nil {
		return
	}
	client, err := m.factory.CreateClient(ctx, m.registry.ServerIDs())
	if err != nil {
		m.log.Warn("failed to recreate health client", "error", err)
		return
	}
	m.client = client
	m.log.Info("health client recovered")
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, serverID := range m.registry.ServerIDs() {
		m.checkServer(ctx, serverID)
	}
}

func (m *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	m.clientMu.Lock()
	client := m.client
	m.clientMu.Unlock()
	if client == nil {
		m.setStatus(serverID, false, "health client not initialized", 0)
		return
	}

	client.InvalidateToolCache(serverID)

	checkCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	tools, err := client.ListTools(checkCtx, serverID)
	cancel()
	if err != nil {
		m.log.Debug("health check failed, attempting reinitialize", "server", serverID, "error", err)

		reconCtx, reconCancel := context.WithTimeout(ctx, m.pingTimeout)
		reinitErr := client.recreateSession(reconCtx, serverID)
		reconCancel()
		if reinitErr != nil {
			m.setStatus(serverID, false, err.Error(), 0)
			m.log.Warn("mcp server unhealthy", "server", serverID, "error", err)
			return
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, m.pingTimeout)
		tools, err = client.ListTools(retryCtx, serverID)
		retryCancel()
		if err != nil {
			m.setStatus(serverID, false, err.Error(), 0)
			m.log.Warn("mcp server unhealthy after reinit", "server", serverID, "error", err)
			return
		}
	}

	m.setStatus(serverID, true, "", len(tools))
}

func (m *HealthMonitor) setStatus(serverID string, healthy bool, errMsg string, toolCount int) {
	m.statusesMu.Lock()
	defer m.statusesMu.Unlock()
	m.statuses[serverID] = &HealthStatus{
		ServerID:  serverID,
		Healthy:   healthy,
		LastCheck: time.Now(),
		Error:     errMsg,
		ToolCount: toolCount,
	}
}

// GetStatuses returns the current health status of all monitored servers.
func (m *HealthMonitor) GetStatuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	result := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		result[k] = &cp
	}
	return result
}

// IsHealthy returns true if all monitored servers are healthy. Returns false
// when no statuses exist yet (before the first check completes).
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
