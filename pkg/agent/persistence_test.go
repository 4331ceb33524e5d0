package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/rid"
)

func TestLoadConversationMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{cfg: Config{DataDirectory: dir}}
	id, err := rid.New("ns", "missing")
	require.NoError(t, err)
	a := &Agent{ID: id}

	require.NoError(t, m.LoadConversation(a))
	assert.Empty(t, a.Conversation())
}

func TestSaveConversationCreatesNamespaceDirectoryLazily(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{cfg: Config{DataDirectory: dir}}
	id, err := rid.New("ns", "a1")
	require.NoError(t, err)
	a := &Agent{ID: id, conversation: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	nsDir := filepath.Join(dir, "ns")
	_, statErr := os.Stat(nsDir)
	require.True(t, os.IsNotExist(statErr))

	require.NoError(t, m.saveConversation(a))

	info, err := os.Stat(nsDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	reloaded := &Agent{ID: id}
	require.NoError(t, m.LoadConversation(reloaded))
	require.Len(t, reloaded.Conversation(), 1)
	assert.Equal(t, "hi", reloaded.Conversation()[0].Content)
}

func TestDisabledDataDirectorySkipsPersistence(t *testing.T) {
	m := &Manager{cfg: Config{}}
	id, err := rid.New("ns", "a1")
	require.NoError(t, err)
	a := &Agent{ID: id, conversation: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	require.NoError(t, m.saveConversation(a))
	require.NoError(t, m.LoadConversation(a))
}
