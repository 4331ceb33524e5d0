// Package pool implements the Kernel Pool (§4.2): N pre-started executors
// kept warm per (mode, language) so kernel creation can skip a cold start.
// Refill is deficit-driven and runs off the caller's critical path, adapted
// from the example pack's Kubernetes warm-pod reconciler (deficit =
// target size - current size; replenish asynchronously) down to in-process
// Go executors instead of pods.
package pool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nexops/kernelengine/pkg/executor"
)

// Config mirrors §4.2's configuration knobs.
type Config struct {
	Enabled        bool
	Size           int
	AutoRefill     bool
	PreloadConfigs []executor.Spec
}

// Pool holds pre-started executors per (mode, language).
type Pool struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	idle map[executor.Spec][]executor.Executor

	refillCh chan executor.Spec
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Pool. Start must be called to begin preloading and
// running the refill goroutine.
func New(cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		log:      log.With("component", "kernel_pool"),
		idle:     make(map[executor.Spec][]executor.Executor),
		refillCh: make(chan executor.Spec, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start preloads every configured (mode, language) pair to cfg.Size and
// launches the single background refill goroutine — one goroutine for the
// whole pool, reading a buffered refill-request channel, matching §4.2a.
func (p *Pool) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		return
	}
	p.wg.Add(1)
	go p.refillLoop(ctx)

	for _, spec := range p.cfg.PreloadConfigs {
		for i := 0; i < p.cfg.Size; i++ {
			p.spawnAndStore(ctx, spec)
		}
	}
}

// Stop halts the refill goroutine and shuts down every idle executor.
func (p *Pool) Stop(ctx context.Context) {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for spec, execs := range p.idle {
		for _, e := range execs {
			_ = e.Shutdown(ctx)
		}
		delete(p.idle, spec)
	}
}

// Take returns a ready executor for (mode, language), or nil if the pool
// has none — the caller then falls back to a synchronous cold start.
// Take is O(1) and non-blocking; when it hands out an executor and
// AutoRefill is on, it requests an asynchronous refill before returning
// (§4.2 invariant ii).
func (p *Pool) Take(spec executor.Spec) executor.Executor {
	p.mu.Lock()
	execs := p.idle[spec]
	var taken executor.Executor
	if len(execs) > 0 {
		taken = execs[len(execs)-1]
		p.idle[spec] = execs[:len(execs)-1]
	}
	p.mu.Unlock()

	if taken != nil && p.cfg.AutoRefill {
		p.requestRefill(spec)
	}
	return taken
}

// Size reports the current idle count for (mode, language).
func (p *Pool) Size(spec executor.Spec) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[spec])
}

// requestRefill enqueues a refill without blocking the caller; a full
// queue silently drops the request — refill is best-effort and allowed to
// fail per §4.2 invariant iii.
func (p *Pool) requestRefill(spec executor.Spec) {
	select {
	case p.refillCh <- spec:
	default:
		p.log.Warn("refill request dropped, queue full", "mode", spec.Mode, "language", spec.Language)
	}
}

func (p *Pool) refillLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case spec := <-p.refillCh:
			p.reconcile(ctx, spec)
		}
	}
}

// reconcile tops the pool for spec back up to cfg.Size, mirroring the
// deficit-based replenishment in the example pack's warm-pod reconciler.
func (p *Pool) reconcile(ctx context.Context, spec executor.Spec) {
	deficit := p.cfg.Size - p.Size(spec)
	for i := 0; i < deficit; i++ {
		p.spawnAndStore(ctx, spec)
	}
}

func (p *Pool) spawnAndStore(ctx context.Context, spec executor.Spec) {
	e, err := executor.New(spec)
	if err != nil {
		p.log.Warn("refill: unsupported spec", "mode", spec.Mode, "language", spec.Language, "error", err)
		return
	}
	if err := e.Start(ctx); err != nil {
		p.log.Warn("refill: start failed", "mode", spec.Mode, "language", spec.Language, "error", err)
		return
	}
	p.mu.Lock()
	p.idle[spec] = append(p.idle[spec], e)
	p.mu.Unlock()
}
