package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/config"
)

func TestHealthMonitor_HealthyServer(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
		},
	})

	registry := NewServerRegistry(nil)
	factory := NewClientFactory(registry)

	monitor := NewHealthMonitor(factory, registry, nil)
	monitor.checkInterval = 50 * time.Millisecond
	monitor.pingTimeout = 5 * time.Second

	client := newClient(registry)
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := sdkClient.Connect(context.Background(), ts.clientTransport, nil)
	require.NoError(t, err)
	client.sessions["test-server"] = session
	client.clients["test-server"] = sdkClient
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	monitor.checkServer(context.Background(), "test-server")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "test-server")
	assert.True(t, statuses["test-server"].Healthy)
	assert.Equal(t, 1, statuses["test-server"].ToolCount)
	assert.True(t, monitor.IsHealthy())
}

func TestHealthMonitor_UnhealthyServer(t *testing.T) {
	registry := NewServerRegistry(nil)
	factory := NewClientFactory(registry)

	monitor := NewHealthMonitor(factory, registry, nil)
	monitor.pingTimeout = 1 * time.Second

	client := newClient(registry)
	monitor.client = client

	monitor.checkServer(context.Background(), "broken-server")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "broken-server")
	assert.False(t, statuses["broken-server"].Healthy)
	assert.NotEmpty(t, statuses["broken-server"].Error)
	assert.False(t, monitor.IsHealthy())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})

	// The loop checks only registry servers, so test-server must be listed.
	// Start builds its own client from the registry in place of the one
	// injected below; the check still records a status for test-server.
	registry := NewServerRegistry([]config.MCPServerConfig{{Name: "test-server", URL: "http://127.0.0.1:1/mcp"}})
	factory := NewClientFactory(registry)

	monitor := NewHealthMonitor(factory, registry, nil)
	monitor.checkInterval = 50 * time.Millisecond

	client := newClient(registry)
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := sdkClient.Connect(context.Background(), ts.clientTransport, nil)
	require.NoError(t, err)
	client.sessions["test-server"] = session
	client.clients["test-server"] = sdkClient
	t.Cleanup(func() { _ = client.Close() })

	monitor.clientMu.Lock()
	monitor.client = client
	monitor.clientMu.Unlock()

	ctx := context.Background()
	monitor.Start(ctx)

	require.Eventually(t, func() bool {
		statuses := monitor.GetStatuses()
		_, ok := statuses["test-server"]
		return ok
	}, 2*time.Second, 25*time.Millisecond, "health check should have run at least once")

	monitor.Stop()
}
