// Package activity implements the Activity Controller (§4.4): per-resource
// idle timers backed by a single periodic sweeper, shared by kernels and
// vector indices. Grounded on the teacher's ticker-driven background loop
// style (pkg/queue/worker.go's heartbeat goroutine), generalized from a
// single worker's heartbeat to a registry of many resources' expiry.
package activity

import (
	"log/slog"
	"sync"
	"time"
)

// OnExpire is invoked by the sweeper when a resource's idle timer has
// elapsed. It must not block for long — slow callbacks delay every other
// resource's expiry check, since there is exactly one sweeper goroutine.
type OnExpire func(resource string)

type entry struct {
	lastActivity time.Time
	idleTimeout  time.Duration
	monitoring   bool
	onExpire     OnExpire
}

// Controller tracks lastActivity/idleTimeout per resource id and expires
// resources on a single shared sweep tick, bounding the number of live
// timers to one regardless of resource count (§9 design note).
type Controller struct {
	tick time.Duration
	log  *slog.Logger

	mu        sync.Mutex
	resources map[string]*entry

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Controller with the given sweep tick (1-5s per §4.4).
func New(tick time.Duration, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		tick:      tick,
		log:       log.With("component", "activity_controller"),
		resources: make(map[string]*entry),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the single sweeper goroutine.
func (c *Controller) Start() {
	go c.sweepLoop()
}

// Stop halts the sweeper.
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) sweepLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Controller) sweep(now time.Time) {
	var expired []struct {
		resource string
		cb       OnExpire
	}

	c.mu.Lock()
	for resource, e := range c.resources {
		if !e.monitoring || e.idleTimeout <= 0 {
			continue
		}
		// Ties: now == lastActivity+timeout is NOT yet expired (§4.4).
		if now.Sub(e.lastActivity) > e.idleTimeout {
			expired = append(expired, struct {
				resource string
				cb       OnExpire
			}{resource, e.onExpire})
			delete(c.resources, resource)
		}
	}
	c.mu.Unlock()

	for _, x := range expired {
		c.invoke(x.resource, x.cb)
	}
}

// invoke wraps onExpire to swallow and log panics, per §7's
// "Activity-controller expiry callbacks are wrapped to swallow and log
// panics".
func (c *Controller) invoke(resource string, cb OnExpire) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("expiry callback panicked", "resource", resource, "panic", r)
		}
	}()
	cb(resource)
}

// Register starts tracking resource with the given idle timeout and expiry
// callback. monitoring controls whether expiry is active; idleTimeout<=0
// disables expiry regardless of monitoring.
func (c *Controller) Register(resource string, idleTimeout time.Duration, monitoring bool, onExpire OnExpire) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[resource] = &entry{
		lastActivity: time.Now(),
		idleTimeout:  idleTimeout,
		monitoring:   monitoring,
		onExpire:     onExpire,
	}
}

// Unregister stops tracking resource (e.g. on destroy).
func (c *Controller) Unregister(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources, resource)
}

// Ping resets lastActivity to now. Returns false iff resource is unknown.
func (c *Controller) Ping(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok {
		return false
	}
	e.lastActivity = time.Now()
	return true
}

// SetMonitoring enables/disables expiry for resource without losing
// lastActivity (§4.4: "disabling monitoring pauses expiry but preserves
// lastActivity").
func (c *Controller) SetMonitoring(resource string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok {
		return false
	}
	e.monitoring = enabled
	return true
}

// SetTimeout changes resource's idle timeout.
func (c *Controller) SetTimeout(resource string, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok {
		return false
	}
	e.idleTimeout = timeout
	return true
}

// GetTimeout returns resource's current idle timeout.
func (c *Controller) GetTimeout(resource string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok {
		return 0, false
	}
	return e.idleTimeout, true
}

// GetLastActivity returns resource's last recorded activity time.
func (c *Controller) GetLastActivity(resource string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok {
		return time.Time{}, false
	}
	return e.lastActivity, true
}

// GetTimeUntilExpire returns how long until resource expires, or a
// negative duration if it already has (or monitoring is off, in which case
// the second return is false).
func (c *Controller) GetTimeUntilExpire(resource string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resources[resource]
	if !ok || !e.monitoring || e.idleTimeout <= 0 {
		return 0, false
	}
	return e.idleTimeout - time.Since(e.lastActivity), true
}
