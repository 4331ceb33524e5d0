// Package kernel implements the Kernel Manager (§4.3): a namespaced
// registry of live kernels, composing the Kernel Pool (§4.2), the Activity
// Controller (§4.4), and the Session & Stream Layer (§4.10). Grounded on
// the teacher's simple mutex-guarded registry shape
// (pkg/session/manager.go), generalized to a namespace-scoped resource
// with a richer lifecycle.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexops/kernelengine/pkg/activity"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/pool"
	"github.com/nexops/kernelengine/pkg/rid"
	"github.com/nexops/kernelengine/pkg/session"
)

// HistoryEntry records one executed code submission, per §3's
// "inbound-history (ordered list of (session-id, code, outputs))".
type HistoryEntry struct {
	SessionID string
	Code      string
	Outputs   []executor.Event
}

// Record is the Kernel Manager's view of one kernel (§3 Kernel).
type Record struct {
	ID           rid.ID
	Mode         executor.Mode
	Language     executor.Language
	CreatedAt    time.Time
	executor     executor.Executor
	mu           sync.Mutex
	status       executor.Status
	lastActivity time.Time
	history      []HistoryEntry
	idleTimeout  time.Duration // as registered with the activity controller
}

// Status returns the kernel's current lifecycle status.
func (r *Record) Status() executor.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CreateOptions configures CreateKernel (§4.3 createKernel).
type CreateOptions struct {
	ID                      string // empty = generate
	Namespace               string
	Mode                    executor.Mode
	Language                executor.Language
	InactivityTimeout       time.Duration
	EnableActivityMonitoring bool
}

// Config bounds per-namespace kernel counts and lists allowed (mode,
// language) pairs.
type Config struct {
	MaxPerNamespace int
	AllowedTypes    map[executor.Spec]bool
	DefaultTimeout  time.Duration
}

// Manager is the namespaced registry of live kernels.
type Manager struct {
	cfg      Config
	pool     *pool.Pool
	activity *activity.Controller
	sessions *session.Manager
	log      *slog.Logger

	mu      sync.RWMutex
	kernels map[string]*Record // by id.String()
}

// New constructs a Manager. pool/activityCtl/sessions are shared
// collaborators injected by the caller (no global singletons).
func New(cfg Config, p *pool.Pool, activityCtl *activity.Controller, sessions *session.Manager, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		pool:     p,
		activity: activityCtl,
		sessions: sessions,
		log:      log.With("component", "kernel_manager"),
		kernels:  make(map[string]*Record),
	}
}

func (m *Manager) namespaceCount(namespace string) int {
	n := 0
	for _, r := range m.kernels {
		if r.ID.Namespace == namespace {
			n++
		}
	}
	return n
}

// CreateKernel implements §4.3 createKernel.
func (m *Manager) CreateKernel(ctx context.Context, opts CreateOptions) (rid.ID, error) {
	if opts.Mode == "" {
		opts.Mode = executor.ModeWorker
	}
	if opts.Language == "" {
		opts.Language = executor.LanguagePython
	}
	spec := executor.Spec{Mode: opts.Mode, Language: opts.Language}
	if !m.cfg.AllowedTypes[spec] {
		return rid.ID{}, errs.InvalidArgument(fmt.Errorf("kernel type %s-%s is not allowed", opts.Mode, opts.Language))
	}

	local := opts.ID
	if local == "" {
		local = uuid.New().String()
	}
	id, err := rid.New(opts.Namespace, local)
	if err != nil {
		return rid.ID{}, errs.InvalidArgument(err)
	}

	m.mu.Lock()
	if _, exists := m.kernels[id.String()]; exists {
		m.mu.Unlock()
		return rid.ID{}, errs.AlreadyExists(id.String())
	}
	if m.cfg.MaxPerNamespace > 0 && m.namespaceCount(opts.Namespace) >= m.cfg.MaxPerNamespace {
		m.mu.Unlock()
		m.evictLRU(opts.Namespace)
		m.mu.Lock()
	}
	m.mu.Unlock()

	var ex executor.Executor
	if m.pool != nil {
		ex = m.pool.Take(spec)
	}
	if ex == nil {
		ex, err = executor.New(spec)
		if err != nil {
			return rid.ID{}, errs.Internal(err)
		}
		if err := ex.Start(ctx); err != nil {
			return rid.ID{}, errs.Internal(err)
		}
	}

	timeout := opts.InactivityTimeout
	if timeout == 0 {
		timeout = m.cfg.DefaultTimeout
	}
	rec := &Record{
		ID:           id,
		Mode:         opts.Mode,
		Language:     opts.Language,
		CreatedAt:    time.Now(),
		executor:     ex,
		status:       executor.StatusIdle,
		lastActivity: time.Now(),
		idleTimeout:  timeout,
	}

	m.mu.Lock()
	m.kernels[id.String()] = rec
	m.mu.Unlock()

	if m.activity != nil {
		m.activity.Register(id.String(), timeout, opts.EnableActivityMonitoring, m.onExpire)
	}
	return id, nil
}

// evictLRU destroys the namespace's oldest-by-activity kernel to make room
// for a new one (§3 "destroyed on... namespace cap eviction (LRU within
// namespace)").
func (m *Manager) evictLRU(namespace string) {
	m.mu.RLock()
	var oldestID string
	var oldestAt time.Time
	for key, r := range m.kernels {
		if r.ID.Namespace != namespace {
			continue
		}
		r.mu.Lock()
		la := r.lastActivity
		r.mu.Unlock()
		if oldestID == "" || la.Before(oldestAt) {
			oldestID = key
			oldestAt = la
		}
	}
	m.mu.RUnlock()
	if oldestID != "" {
		_ = m.destroyKernel(context.Background(), oldestID)
	}
}

func (m *Manager) onExpire(resourceID string) {
	// Activity expiry destroys an idle kernel, matching vector index
	// offload's role for indices — kernels have no offloaded state, so
	// expiry is destruction (§2 "Idle resources... destroyed (kernels)").
	// Expiry is cooperative (§5): a kernel mid-execution is not destroyed
	// out from under its session; the sweep has already dropped its entry,
	// so it is registered again with the same timeout and the sweeper
	// reconsiders it once that timeout has elapsed again, instead of
	// cancelling the running execute. Explicit DestroyKernel calls still
	// interrupt-then-destroy regardless of status.
	m.mu.RLock()
	r, ok := m.kernels[resourceID]
	m.mu.RUnlock()
	if ok && r.Status() == executor.StatusBusy {
		if m.activity != nil {
			m.activity.Register(resourceID, r.idleTimeout, true, m.onExpire)
		}
		return
	}
	if err := m.destroyKernel(context.Background(), resourceID); err != nil {
		m.log.Warn("expiry destroy failed", "kernel", resourceID, "error", err)
	}
}

func (m *Manager) get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.kernels[id]
	if !ok {
		return nil, errs.NotFound(id)
	}
	return r, nil
}

// checkNamespace enforces §4.3's "all operations reject if the caller
// namespace does not match the resource namespace" — unlike the vector DB
// manager's permission table, kernels have no cross-namespace sharing mode.
func checkNamespace(callerNamespace string, r *Record) error {
	if callerNamespace != r.ID.Namespace {
		return errs.PermissionDenied(r.ID.String())
	}
	return nil
}

func (m *Manager) getForCaller(callerNamespace, id string) (*Record, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := checkNamespace(callerNamespace, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetKernel returns the record for id, iff callerNamespace owns it.
func (m *Manager) GetKernel(callerNamespace, id string) (*Record, error) {
	return m.getForCaller(callerNamespace, id)
}

// GetInfo returns the record and its execution history.
func (m *Manager) GetInfo(callerNamespace, id string) (*Record, []HistoryEntry, error) {
	r, err := m.getForCaller(callerNamespace, id)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hist := make([]HistoryEntry, len(r.history))
	copy(hist, r.history)
	return r, hist, nil
}

// ListKernels lists kernels owned by callerNamespace (§4.3: "Listings
// filter by caller namespace").
func (m *Manager) ListKernels(callerNamespace string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.kernels {
		if r.ID.Namespace == callerNamespace {
			out = append(out, r)
		}
	}
	return out
}

// PingKernel resets the kernel's idle timer. Fails iff id unknown or
// owned by a different namespace.
func (m *Manager) PingKernel(callerNamespace, id string) error {
	if _, err := m.getForCaller(callerNamespace, id); err != nil {
		return err
	}
	if m.activity != nil && !m.activity.Ping(id) {
		return errs.NotFound(id)
	}
	return nil
}

// InterruptKernel forwards interrupt to the executor.
func (m *Manager) InterruptKernel(ctx context.Context, callerNamespace, id string) error {
	r, err := m.getForCaller(callerNamespace, id)
	if err != nil {
		return err
	}
	if err := r.executor.Interrupt(ctx); err != nil {
		return errs.FailedPrecondition(id, err)
	}
	return nil
}

// RestartKernel destroys and re-creates the executor in place, preserving
// the id and discarding all state and history (§4.3, resolving the Open
// Question at §9(b) in favor of wipe).
func (m *Manager) RestartKernel(ctx context.Context, callerNamespace, id string) error {
	r, err := m.getForCaller(callerNamespace, id)
	if err != nil {
		return err
	}
	_ = r.executor.Shutdown(ctx)
	m.sessions.CloseResource(id)

	spec := executor.Spec{Mode: r.Mode, Language: r.Language}
	ex, err := executor.New(spec)
	if err != nil {
		return errs.Internal(err)
	}
	if err := ex.Start(ctx); err != nil {
		return errs.Internal(err)
	}

	r.mu.Lock()
	r.executor = ex
	r.status = executor.StatusIdle
	r.history = nil
	r.mu.Unlock()
	return nil
}

// DestroyKernel shuts the executor down, closes sessions, and unregisters
// from the activity controller. Per §9(c), a mid-execution kernel is
// interrupted before being destroyed.
func (m *Manager) DestroyKernel(ctx context.Context, callerNamespace, id string) error {
	if _, err := m.getForCaller(callerNamespace, id); err != nil {
		return err
	}
	return m.destroyKernel(ctx, id)
}

// destroyKernel is the namespace-unchecked internal path used by eviction
// and activity expiry, which act on behalf of the system rather than a
// caller.
func (m *Manager) destroyKernel(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.kernels[id]
	if !ok {
		m.mu.Unlock()
		return errs.NotFound(id)
	}
	delete(m.kernels, id)
	m.mu.Unlock()

	if r.Status() == executor.StatusBusy {
		_ = r.executor.Interrupt(ctx)
	}
	_ = r.executor.Shutdown(ctx)
	m.sessions.CloseResource(id)
	if m.activity != nil {
		m.activity.Unregister(id)
	}
	return nil
}

// ExecuteStream allocates a session, invokes the executor, multiplexes
// events to the session buffer, and appends to history on completion
// (§4.3 executeStream).
func (m *Manager) ExecuteStream(ctx context.Context, callerNamespace, id, code string) (*session.Session, error) {
	r, err := m.getForCaller(callerNamespace, id)
	if err != nil {
		return nil, err
	}

	events, err := r.executor.Execute(ctx, code)
	if err != nil {
		return nil, errs.FailedPrecondition(id, err)
	}

	if m.activity != nil {
		m.activity.Ping(id)
	}
	sess := m.sessions.Create(id, code)

	r.mu.Lock()
	r.status = executor.StatusBusy
	r.mu.Unlock()

	go func() {
		var outputs []executor.Event
		for ev := range events {
			sess.Publish(ev)
			outputs = append(outputs, ev)
		}
		r.mu.Lock()
		r.status = r.executor.Status()
		r.history = append(r.history, HistoryEntry{SessionID: sess.ID, Code: code, Outputs: outputs})
		r.mu.Unlock()
	}()

	return sess, nil
}
