package activity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingBeforeExpiryPreventsExpiry(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	c.Start()
	defer c.Stop()

	var expired int32
	c.Register("ns:r1", 40*time.Millisecond, true, func(string) { atomic.AddInt32(&expired, 1) })

	// Ping repeatedly, staying under the timeout each time.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(15 * time.Millisecond)
		require.True(t, c.Ping("ns:r1"))
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&expired))
}

func TestExpiryFiresWhenIdle(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	c.Start()
	defer c.Stop()

	expiredCh := make(chan string, 1)
	c.Register("ns:r1", 20*time.Millisecond, true, func(r string) { expiredCh <- r })

	select {
	case r := <-expiredCh:
		assert.Equal(t, "ns:r1", r)
	case <-time.After(time.Second):
		t.Fatal("expected expiry callback")
	}
}

func TestZeroOrNegativeTimeoutDisablesExpiry(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	c.Start()
	defer c.Stop()

	var expired int32
	c.Register("ns:r1", 0, true, func(string) { atomic.AddInt32(&expired, 1) })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&expired))
}

func TestDisablingMonitoringPausesExpiryButKeepsLastActivity(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	c.Start()
	defer c.Stop()

	c.Register("ns:r1", 20*time.Millisecond, true, func(string) {})
	before, ok := c.GetLastActivity("ns:r1")
	require.True(t, ok)

	require.True(t, c.SetMonitoring("ns:r1", false))
	time.Sleep(100 * time.Millisecond)

	after, ok := c.GetLastActivity("ns:r1")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestPingUnknownResourceReturnsFalse(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	assert.False(t, c.Ping("ns:does-not-exist"))
}

func TestExpiryCallbackPanicIsSwallowed(t *testing.T) {
	c := New(5*time.Millisecond, nil)
	c.Start()
	defer c.Stop()

	c.Register("ns:panics", 10*time.Millisecond, true, func(string) { panic("boom") })

	// The sweeper must keep running after a panicking callback.
	done := make(chan struct{})
	c.Register("ns:normal", 10*time.Millisecond, true, func(string) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper appears to have stopped after a panicking callback")
	}
}
