package mcp

import (
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexops/kernelengine/pkg/config"
)

// createTransport builds an MCP SDK transport from one server's config.
// cfg.Transport() reports "stdio" when Command is set, "http" when URL is
// set — Validate() in pkg/config guarantees exactly one of the two.
func createTransport(cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport() {
	case "stdio":
		return createStdioTransport(cfg)
	case "http":
		return createHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport for server %q", cfg.Name)
	}
}

func createStdioTransport(cfg config.MCPServerConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg config.MCPServerConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("HTTP transport requires url")
	}
	return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
}
