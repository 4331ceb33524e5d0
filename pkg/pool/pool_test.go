package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/kernelengine/pkg/executor"
)

func jsSpec() executor.Spec {
	return executor.Spec{Mode: executor.ModeWorker, Language: executor.LanguageJavaScript}
}

func TestPoolPreloadsConfiguredSize(t *testing.T) {
	p := New(Config{
		Enabled:        true,
		Size:           2,
		AutoRefill:     true,
		PreloadConfigs: []executor.Spec{jsSpec()},
	}, nil)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop(ctx)

	assert.Equal(t, 2, p.Size(jsSpec()))
}

func TestPoolTakeReturnsExecutorAndRefills(t *testing.T) {
	p := New(Config{
		Enabled:        true,
		Size:           1,
		AutoRefill:     true,
		PreloadConfigs: []executor.Spec{jsSpec()},
	}, nil)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop(ctx)

	require.Eventually(t, func() bool { return p.Size(jsSpec()) == 1 }, time.Second, 5*time.Millisecond)

	e := p.Take(jsSpec())
	require.NotNil(t, e)
	assert.Equal(t, 0, p.Size(jsSpec()))

	require.Eventually(t, func() bool { return p.Size(jsSpec()) == 1 }, time.Second, 5*time.Millisecond,
		"autoRefill should restore pool size")
}

func TestPoolTakeOnEmptyPoolReturnsNil(t *testing.T) {
	p := New(Config{Enabled: true, Size: 0}, nil)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	assert.Nil(t, p.Take(jsSpec()))
}

func TestPoolDisabledDoesNotPreload(t *testing.T) {
	p := New(Config{
		Enabled:        false,
		Size:           3,
		PreloadConfigs: []executor.Spec{jsSpec()},
	}, nil)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	assert.Equal(t, 0, p.Size(jsSpec()))
}
