package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nexops/kernelengine/pkg/llm"
)

// persistedAgent is the on-disk shape of one agent's conversation file,
// <dataDir>/<namespace>/<local-id>.json (SPEC_FULL on-disk layout). Only
// the conversation is persisted; the agent's configuration itself lives
// in memory for this process's lifetime (§4.9 Non-goals: no durable agent
// registry).
type persistedAgent struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Conversation []llm.Message `json:"conversation"`
}

func (m *Manager) agentFilePath(a *Agent) string {
	return filepath.Join(m.cfg.DataDirectory, a.ID.Namespace, a.ID.Local+".json")
}

// saveConversation writes a's current conversation to disk, creating its
// namespace directory on first use (§ "lazy directory creation").
func (m *Manager) saveConversation(a *Agent) error {
	if m.cfg.DataDirectory == "" {
		return nil
	}
	path := m.agentFilePath(a)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("agent: creating conversation directory: %w", err)
	}

	record := persistedAgent{
		ID:           a.ID.String(),
		Name:         a.Name,
		Conversation: a.Conversation(),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: encoding conversation: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("agent: writing conversation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("agent: committing conversation: %w", err)
	}
	return nil
}

// LoadConversation restores a's conversation from disk, if a file exists
// for it. A missing file is not an error — a freshly created agent simply
// has no prior conversation.
func (m *Manager) LoadConversation(a *Agent) error {
	if m.cfg.DataDirectory == "" {
		return nil
	}
	path := m.agentFilePath(a)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agent: reading conversation: %w", err)
	}

	var record persistedAgent
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("agent: decoding conversation: %w", err)
	}

	a.mu.Lock()
	a.conversation = record.Conversation
	a.mu.Unlock()
	return nil
}
