package mcp

import (
	"context"
)

// ClientFactory creates Client instances for agents.
type ClientFactory struct {
	registry *ServerRegistry

	// createClientFn overrides client construction in tests; nil in production.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *ServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// CreateToolExecutor creates a fully-wired ToolExecutor for an agent.
func (f *ClientFactory) CreateToolExecutor(
	ctx context.Context,
	serverIDs []string,
	toolFilter map[string][]string,
) (*ToolExecutor, *Client, error) {
	client, err := f.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, nil, err
	}
	return NewToolExecutor(client, serverIDs, toolFilter), client, nil
}
