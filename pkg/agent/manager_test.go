package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/activity"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/session"
)

func testKernelManager(t *testing.T) *kernel.Manager {
	t.Helper()
	cfg := kernel.Config{
		MaxPerNamespace: 4,
		AllowedTypes: map[executor.Spec]bool{
			{Mode: executor.ModeWorker, Language: executor.LanguageJavaScript}: true,
		},
		DefaultTimeout: time.Hour,
	}
	ac := activity.New(5*time.Millisecond, nil)
	ac.Start()
	t.Cleanup(ac.Stop)
	return kernel.New(cfg, nil, ac, session.NewManager(), nil)
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{
		MaxAgentsPerNamespace: 2,
		MaxStepsCap:           5,
		DefaultModelSettings:  llm.ModelSettings{Model: "test-model"},
	}
	return New(cfg, testKernelManager(t), &llm.MockProvider{}, nil, nil)
}

func TestCreateAgentRequiresModel(t *testing.T) {
	m := New(Config{MaxStepsCap: 5}, testKernelManager(t), &llm.MockProvider{}, nil, nil)
	_, err := m.CreateAgent(context.Background(), CreateOptions{Namespace: "ns"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestCreateAgentAssignsDefaultModelSettings(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{Namespace: "ns", Name: "helper"})
	require.NoError(t, err)
	assert.Equal(t, "test-model", a.ModelSettings.Model)
	assert.Equal(t, 5, a.MaxSteps)
}

func TestCreateAgentRejectsDuplicateID(t *testing.T) {
	m := testManager(t)
	opts := CreateOptions{ID: "a1", Namespace: "ns"}
	_, err := m.CreateAgent(context.Background(), opts)
	require.NoError(t, err)

	_, err = m.CreateAgent(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, errs.KindAlreadyExists, errs.KindOf(err))
}

func TestCreateAgentWithAutoAttachKernel(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{
		Namespace:        "ns",
		AutoAttachKernel: true,
		KernelMode:       executor.ModeWorker,
		KernelLanguage:   executor.LanguageJavaScript,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.KernelID())
}

func TestCreateAgentCapturesStartupScriptFailureWithoutTeardown(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{
		Namespace:        "ns",
		AutoAttachKernel: true,
		KernelMode:       executor.ModeWorker,
		KernelLanguage:   executor.LanguageJavaScript,
		StartupScript:    "throw new Error('boom')",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.KernelID(), "kernel must stay attached even if startup script fails")
	assert.NotEmpty(t, a.StartupError())
}

func TestNamespaceCapEvictsOldestAgent(t *testing.T) {
	m := testManager(t)
	first, err := m.CreateAgent(context.Background(), CreateOptions{ID: "first", Namespace: "ns"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.CreateAgent(context.Background(), CreateOptions{ID: "second", Namespace: "ns"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = m.CreateAgent(context.Background(), CreateOptions{ID: "third", Namespace: "ns"})
	require.NoError(t, err)

	_, err = m.GetAgent("ns", first.ID.String())
	assert.Error(t, err, "oldest agent should have been evicted when the namespace cap was exceeded")
}

func TestListAgentsScopedToNamespace(t *testing.T) {
	m := testManager(t)
	_, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns-a"})
	require.NoError(t, err)
	_, err = m.CreateAgent(context.Background(), CreateOptions{ID: "a2", Namespace: "ns-b"})
	require.NoError(t, err)

	got := m.ListAgents("ns-a")
	require.Len(t, got, 1)
	assert.Equal(t, "ns-a:a1", got[0].ID.String())
}

func TestGetAgentRejectsCrossNamespaceAccess(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns-a"})
	require.NoError(t, err)

	_, err = m.GetAgent("ns-b", a.ID.String())
	require.Error(t, err)
	assert.Equal(t, errs.KindPermissionDenied, errs.KindOf(err))
}

func TestUpdateAppliesOnlyNonNilFields(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns", Name: "old"})
	require.NoError(t, err)

	newName := "new"
	err = m.Update("ns", a.ID.String(), UpdateOptions{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "new", a.Name)
	assert.Equal(t, "test-model", a.ModelSettings.Model)
}

func TestDestroyRemovesAgentAndItsKernel(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{
		Namespace:        "ns",
		AutoAttachKernel: true,
		KernelMode:       executor.ModeWorker,
		KernelLanguage:   executor.LanguageJavaScript,
	})
	require.NoError(t, err)
	kernelID := a.KernelID()

	require.NoError(t, m.Destroy(context.Background(), "ns", a.ID.String()))

	_, err = m.GetAgent("ns", a.ID.String())
	require.Error(t, err)

	_, err = m.kernels.GetKernel("ns", kernelID)
	require.Error(t, err, "destroying an agent must destroy its attached kernel")
}

func TestConversationRoundTrip(t *testing.T) {
	m := testManager(t)
	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)

	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	require.NoError(t, m.SetConversation("ns", a.ID.String(), msgs))

	got, err := m.GetConversation("ns", a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	require.NoError(t, m.ClearConversation("ns", a.ID.String()))
	got, err = m.GetConversation("ns", a.ID.String())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAttachAndDetachKernel(t *testing.T) {
	km := testKernelManager(t)
	m := New(Config{MaxStepsCap: 5, DefaultModelSettings: llm.ModelSettings{Model: "m"}}, km, &llm.MockProvider{}, nil, nil)

	kernelID, err := km.CreateKernel(context.Background(), kernel.CreateOptions{
		Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript,
	})
	require.NoError(t, err)

	a, err := m.CreateAgent(context.Background(), CreateOptions{ID: "a1", Namespace: "ns"})
	require.NoError(t, err)
	assert.Empty(t, a.KernelID())

	require.NoError(t, m.AttachKernel("ns", a.ID.String(), kernelID.String()))
	assert.Equal(t, kernelID.String(), a.KernelID())

	require.NoError(t, m.DetachKernel("ns", a.ID.String()))
	assert.Empty(t, a.KernelID())
}
