package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNameRegex validates the "server.tool" format.
// Both server and tool parts must start with a word character and contain
// only word characters and hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName canonicalizes a tool name to "server.tool". Some LLM
// function-calling APIs reject dots in function names and require
// "server__tool" instead; this maps that form back to the canonical one
// before routing.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
// Validates format with strict regex: server and tool parts must be
// word characters and hyphens, non-empty.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'notebook-server.list_files')", name)
	}
	return matches[1], matches[2], nil
}
