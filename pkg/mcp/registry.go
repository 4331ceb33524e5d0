package mcp

import (
	"fmt"

	"github.com/nexops/kernelengine/pkg/config"
)

// ServerRegistry is a lookup over the configured MCP server catalog
// (config.Config.MCPServers), giving Client and HealthMonitor a stable
// way to resolve a server by name without re-scanning the slice on every
// call. Grounded on the teacher's config.MCPServerRegistry shape.
type ServerRegistry struct {
	servers map[string]config.MCPServerConfig
	order   []string
}

// NewServerRegistry builds a registry from the configured server list.
func NewServerRegistry(servers []config.MCPServerConfig) *ServerRegistry {
	r := &ServerRegistry{servers: make(map[string]config.MCPServerConfig, len(servers))}
	for _, s := range servers {
		if _, dup := r.servers[s.Name]; dup {
			continue
		}
		r.servers[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r
}

// Get returns the named server's config.
func (r *ServerRegistry) Get(name string) (config.MCPServerConfig, error) {
	s, ok := r.servers[name]
	if !ok {
		return config.MCPServerConfig{}, fmt.Errorf("mcp: unknown server %q", name)
	}
	return s, nil
}

// ServerIDs returns every configured server name, in configuration order.
func (r *ServerRegistry) ServerIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
