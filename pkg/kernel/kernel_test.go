package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/activity"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/session"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{
		MaxPerNamespace: 2,
		AllowedTypes: map[executor.Spec]bool{
			{Mode: executor.ModeWorker, Language: executor.LanguageJavaScript}: true,
		},
		DefaultTimeout: time.Hour,
	}
	ac := activity.New(5*time.Millisecond, nil)
	ac.Start()
	t.Cleanup(ac.Stop)
	m := New(cfg, nil, ac, session.NewManager(), nil)
	return m
}

func TestCreateKernelRejectsDisallowedType(t *testing.T) {
	m := testManager(t)
	_, err := m.CreateKernel(context.Background(), CreateOptions{
		Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguagePython,
	})
	require.Error(t, err)
}

func TestCreateKernelRejectsDuplicateID(t *testing.T) {
	m := testManager(t)
	opts := CreateOptions{ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript}
	_, err := m.CreateKernel(context.Background(), opts)
	require.NoError(t, err)

	_, err = m.CreateKernel(context.Background(), opts)
	require.Error(t, err)
}

func TestExecuteStreamPublishesToSessionAndHistory(t *testing.T) {
	m := testManager(t)
	id, err := m.CreateKernel(context.Background(), CreateOptions{
		ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript,
	})
	require.NoError(t, err)

	sess, err := m.ExecuteStream(context.Background(), "ns", id.String(), "console.log(1)")
	require.NoError(t, err)

	l := sess.Subscribe()
	var got []executor.Event
	for ev := range *l {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].IsTerminator())

	require.Eventually(t, func() bool {
		_, hist, err := m.GetInfo("ns", id.String())
		return err == nil && len(hist) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPingUnknownKernelFails(t *testing.T) {
	m := testManager(t)
	err := m.PingKernel("ns", "ns:does-not-exist")
	require.Error(t, err)
}

func TestDestroyKernelRemovesFromRegistry(t *testing.T) {
	m := testManager(t)
	id, err := m.CreateKernel(context.Background(), CreateOptions{
		ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript,
	})
	require.NoError(t, err)

	require.NoError(t, m.DestroyKernel(context.Background(), "ns", id.String()))
	_, err = m.GetKernel("ns", id.String())
	require.Error(t, err)
}

func TestOperationsRejectCrossNamespaceCaller(t *testing.T) {
	m := testManager(t)
	id, err := m.CreateKernel(context.Background(), CreateOptions{
		ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript,
	})
	require.NoError(t, err)

	_, err = m.GetKernel("other-ns", id.String())
	assert.Error(t, err)
	err = m.PingKernel("other-ns", id.String())
	assert.Error(t, err)
}

func TestNamespaceCapEvictsLRU(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	_, err := m.CreateKernel(ctx, CreateOptions{ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript})
	require.NoError(t, err)
	_, err = m.CreateKernel(ctx, CreateOptions{ID: "k2", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript})
	require.NoError(t, err)

	// Over cap: should evict k1 (oldest) to make room for k3.
	_, err = m.CreateKernel(ctx, CreateOptions{ID: "k3", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript})
	require.NoError(t, err)

	_, err = m.GetKernel("ns", "ns:k1")
	assert.Error(t, err)
	_, err = m.GetKernel("ns", "ns:k3")
	assert.NoError(t, err)
}

func TestRestartKernelWipesHistory(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	id, err := m.CreateKernel(ctx, CreateOptions{ID: "k1", Namespace: "ns", Mode: executor.ModeWorker, Language: executor.LanguageJavaScript})
	require.NoError(t, err)

	sess, err := m.ExecuteStream(ctx, "ns", id.String(), "console.log(1)")
	require.NoError(t, err)
	l := sess.Subscribe()
	for range *l {
	}
	require.Eventually(t, func() bool {
		_, hist, _ := m.GetInfo("ns", id.String())
		return len(hist) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.RestartKernel(ctx, "ns", id.String()))
	_, hist, err := m.GetInfo("ns", id.String())
	require.NoError(t, err)
	assert.Empty(t, hist)
}
