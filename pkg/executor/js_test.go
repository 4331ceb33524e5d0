package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	for e := range events {
		got = append(got, e)
	}
	return got
}

func TestJSExecuteStdout(t *testing.T) {
	e := NewJS(LanguageJavaScript)
	require.NoError(t, e.Start(context.Background()))

	events, err := e.Execute(context.Background(), `console.log("Hello, World!")`)
	require.NoError(t, err)
	got := collect(t, events)

	require.NotEmpty(t, got)
	assert.Equal(t, EventStreamStart, got[0].Kind)
	assert.Equal(t, EventStream, got[1].Kind)
	assert.Equal(t, "Hello, World!\n", got[1].Text)
	assert.Equal(t, EventStreamComplete, got[len(got)-1].Kind)
}

func TestJSExecuteErrorProducesTerminator(t *testing.T) {
	e := NewJS(LanguageJavaScript)
	require.NoError(t, e.Start(context.Background()))

	events, err := e.Execute(context.Background(), `throw new Error("boom")`)
	require.NoError(t, err)
	got := collect(t, events)

	last := got[len(got)-1]
	assert.Equal(t, EventExecuteError, last.Kind)
}

func TestJSRejectsConcurrentExecute(t *testing.T) {
	e := NewJS(LanguageJavaScript)
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.Execute(ctx, `while(true){}`)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), `1+1`)
	assert.ErrorIs(t, err, ErrBusy)

	_ = e.Interrupt(context.Background())
}

func TestJSInterruptStopsInfiniteLoop(t *testing.T) {
	e := NewJS(LanguageJavaScript)
	require.NoError(t, e.Start(context.Background()))

	events, err := e.Execute(context.Background(), `while(true){}`)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Interrupt(context.Background()))

	got := collect(t, events)
	last := got[len(got)-1]
	assert.Equal(t, EventExecuteError, last.Kind)
}

func TestJSShutdownThenExecuteIsDead(t *testing.T) {
	e := NewJS(LanguageJavaScript)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	_, err := e.Execute(context.Background(), `1+1`)
	assert.ErrorIs(t, err, ErrDead)
}

func TestNewRejectsUnknownLanguage(t *testing.T) {
	_, err := New(Spec{Language: "cobol"})
	assert.Error(t, err)
}
