// Package vectordb implements the Vector DB Manager (§4.8): a namespaced
// registry of vector indices integrating the embedding registry, the
// activity controller, and the offload store, with permission enforcement
// and a global live-instance quota. Grounded on pkg/session/manager.go's
// mutex-guarded registry shape, generalized with per-record locking so a
// slow embedding call on one index never blocks another.
package vectordb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexops/kernelengine/pkg/activity"
	"github.com/nexops/kernelengine/pkg/embedding"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/offload"
	"github.com/nexops/kernelengine/pkg/rid"
	"github.com/nexops/kernelengine/pkg/vectorindex"
)

// Permission is an index's cross-namespace access policy (§4.8).
type Permission string

const (
	PermissionPrivate         Permission = "private"
	PermissionPublicRead      Permission = "public_read"
	PermissionPublicReadAdd   Permission = "public_read_add"
	PermissionPublicReadWrite Permission = "public_read_write"
)

// operation names the permission table's columns (§4.8).
type operation int

const (
	opQueryListInfo operation = iota
	opAdd
	opRemoveDestroyTimeoutOffload
)

// admitted reports whether a cross-namespace caller may perform op against
// an index with the given permission (§4.8 table). Same-namespace callers
// are always admitted regardless of this table.
func admitted(op operation, perm Permission) bool {
	switch op {
	case opQueryListInfo:
		return perm != PermissionPrivate
	case opAdd:
		return perm == PermissionPublicReadAdd || perm == PermissionPublicReadWrite
	case opRemoveDestroyTimeoutOffload:
		return perm == PermissionPublicReadWrite
	default:
		return false
	}
}

// Record is the manager's bookkeeping for one index (§4.8 VectorRecord).
type Record struct {
	ID           rid.ID
	ProviderName string
	Permission   Permission
	CreatedAt    time.Time

	mu        sync.Mutex
	index     *vectorindex.Index // nil while offloaded
	offloaded bool
	loading   chan struct{} // non-nil while a load is in flight; single-load gate
}

// Info reports the index's current dimension, document count (both zero
// while offloaded), and offloaded status, for the `/info` route (§6).
func (r *Record) Info() (dimension, count int, offloaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return 0, 0, r.offloaded
	}
	return r.index.Dimension(), r.index.Count(), r.offloaded
}

// Config bounds the manager's global live-instance quota and default
// inactivity timeout.
type Config struct {
	MaxInstances     int
	DefaultTimeout   time.Duration
	OffloadDirectory string
}

// Manager is the namespaced registry of vector indices.
type Manager struct {
	cfg        Config
	embeddings *embedding.Registry
	activityC  *activity.Controller
	store      *offload.Store

	mu      sync.RWMutex
	records map[string]*Record
}

// New constructs a Manager. embeddings/activityC/store are shared
// collaborators injected by the caller.
func New(cfg Config, embeddings *embedding.Registry, activityC *activity.Controller, store *offload.Store) *Manager {
	m := &Manager{
		cfg:        cfg,
		embeddings: embeddings,
		activityC:  activityC,
		store:      store,
		records:    make(map[string]*Record),
	}
	if embeddings != nil {
		embeddings.SetRefCounter(m)
	}
	return m
}

// ReferenceCount implements embedding's refCounter interface: how many
// live or offloaded indices currently reference providerName.
func (m *Manager) ReferenceCount(providerName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.ProviderName == providerName {
			n++
		}
	}
	return n
}

func (m *Manager) liveCount() int {
	n := 0
	for _, r := range m.records {
		r.mu.Lock()
		if !r.offloaded {
			n++
		}
		r.mu.Unlock()
	}
	return n
}

// CreateOptions configures CreateIndex.
type CreateOptions struct {
	ID           string
	Namespace    string
	ProviderName string
	Permission   Permission
	Resume       bool
}

// CreateIndex creates a new live index, or — if Resume is set — resumes a
// previously offloaded one (§6 "create or resume", §8 scenario S4): the
// snapshot is found either as an offloaded in-memory record (ManualOffload
// keeps the record registered, just idle) or, if no record is registered
// at all (e.g. after a process restart), by reading straight from the
// offload store. The second return value reports whether the index came
// back from an offload (§6 createIndex response "isFromOffload").
func (m *Manager) CreateIndex(ctx context.Context, opts CreateOptions) (rid.ID, bool, error) {
	if opts.Permission == "" {
		opts.Permission = PermissionPrivate
	}
	local := opts.ID
	if local == "" {
		local = uuid.New().String()
	}
	id, err := rid.New(opts.Namespace, local)
	if err != nil {
		return rid.ID{}, false, errs.InvalidArgument(err)
	}

	m.mu.Lock()
	existing, exists := m.records[id.String()]
	m.mu.Unlock()

	if exists {
		if !opts.Resume {
			return rid.ID{}, false, errs.AlreadyExists(id.String())
		}
		existing.mu.Lock()
		offloaded := existing.offloaded
		existing.mu.Unlock()
		if !offloaded {
			return rid.ID{}, false, errs.AlreadyExists(id.String())
		}
		if err := m.ensureLive(ctx, existing); err != nil {
			return rid.ID{}, false, err
		}
		return id, true, nil
	}

	if opts.Resume {
		snap, loadErr := m.store.Load(id.String())
		switch {
		case loadErr == nil:
			return m.registerResumed(id, opts.ProviderName, snap)
		case errs.KindOf(loadErr) != errs.KindNotFound:
			return rid.ID{}, false, loadErr
		}
		// No offload snapshot under this id: fall through and create fresh,
		// matching the route's "create or resume" semantics.
	}

	m.mu.Lock()
	if _, raced := m.records[id.String()]; raced {
		m.mu.Unlock()
		return rid.ID{}, false, errs.AlreadyExists(id.String())
	}
	if m.cfg.MaxInstances > 0 && m.liveCount() >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return rid.ID{}, false, errs.QuotaExceeded(id.String())
	}

	rec := &Record{
		ID:           id,
		ProviderName: opts.ProviderName,
		Permission:   opts.Permission,
		CreatedAt:    time.Now(),
		index:        vectorindex.New(),
	}
	m.records[id.String()] = rec
	m.mu.Unlock()

	if m.activityC != nil {
		m.activityC.Register(id.String(), m.cfg.DefaultTimeout, true, m.onExpire)
	}
	return id, false, nil
}

// registerResumed builds a live Record straight from an on-disk snapshot
// with no prior in-memory record (§4.8 auto-resume, applied here to an
// explicit resume request rather than an access to an already-registered
// offloaded record). Permission is carried over from the snapshot's
// metadata — it is immutable after creation (§3) and a resume is not a
// new creation. The embedding provider name is not part of the on-disk
// metadata (§3's format has no such field), so the caller's opts.ProviderName
// is kept.
func (m *Manager) registerResumed(id rid.ID, providerName string, snap offload.Snapshot) (rid.ID, bool, error) {
	m.mu.Lock()
	if _, raced := m.records[id.String()]; raced {
		m.mu.Unlock()
		return rid.ID{}, false, errs.AlreadyExists(id.String())
	}
	if m.cfg.MaxInstances > 0 && m.liveCount() >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return rid.ID{}, false, errs.QuotaExceeded(id.String())
	}
	rec := &Record{
		ID:           id,
		ProviderName: providerName,
		Permission:   Permission(snap.Metadata.Permission),
		CreatedAt:    snap.Metadata.CreatedAt,
		index:        rehydrate(snap),
	}
	m.records[id.String()] = rec
	m.mu.Unlock()

	if m.activityC != nil {
		m.activityC.Register(id.String(), m.cfg.DefaultTimeout, true, m.onExpire)
	}
	return id, true, nil
}

func (m *Manager) onExpire(resourceID string) {
	// "" is the internal system caller, skipping the namespace/permission
	// check the way destroyKernel's namespace-unchecked path does for
	// kernel eviction — expiry acts on behalf of the system, not a tenant.
	_ = m.ManualOffload(context.Background(), "", resourceID)
}

func (m *Manager) get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, errs.NotFound(id)
	}
	return r, nil
}

func checkNamespace(callerNamespace string, id rid.ID, op operation, perm Permission) error {
	if callerNamespace == id.Namespace {
		return nil
	}
	if admitted(op, perm) {
		return nil
	}
	return errs.PermissionDenied(id.String())
}

// ensureLive transitions an offloaded index back to live, observing
// single-load semantics: only the first caller actually loads from disk,
// concurrent callers wait on the same in-flight load and then share the
// result; when that load failed, a waiter tries the load again itself and
// returns that attempt's error (§4.8 auto-offload/auto-resume).
func (m *Manager) ensureLive(ctx context.Context, r *Record) error {
	r.mu.Lock()
	if !r.offloaded {
		r.mu.Unlock()
		return nil
	}
	if r.loading != nil {
		wait := r.loading
		r.mu.Unlock()
		<-wait
		// If the shared load failed the record is still offloaded, and
		// this call retries the load and reports its error.
		return m.ensureLive(ctx, r)
	}
	done := make(chan struct{})
	r.loading = done
	r.mu.Unlock()

	snap, err := m.store.Load(r.ID.String())

	r.mu.Lock()
	if err == nil {
		r.index = rehydrate(snap)
		r.offloaded = false
	}
	r.loading = nil
	close(done)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if m.activityC != nil {
		m.activityC.Register(r.ID.String(), m.cfg.DefaultTimeout, true, m.onExpire)
	}
	return nil
}

func rehydrate(snap offload.Snapshot) *vectorindex.Index {
	inputs := make([]vectorindex.AddInput, len(snap.Documents))
	for i, d := range snap.Documents {
		inputs[i] = vectorindex.AddInput{ID: d.ID, Text: d.Text, Metadata: d.Metadata, Vector: snap.Vectors[i]}
	}
	return vectorindex.LoadFrozen(snap.Metadata.EmbeddingDimension, inputs)
}

// AddDocuments adds documents to the index, auto-resuming it first if
// offloaded.
func (m *Manager) AddDocuments(ctx context.Context, callerNamespace, id string, docs []vectorindex.AddInput) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opAdd, r.Permission); err != nil {
		return err
	}
	if err := m.ensureLive(ctx, r); err != nil {
		return err
	}

	provider, err := m.embeddings.Get(r.ProviderName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m.activityC != nil {
		m.activityC.Ping(id)
	}
	return r.index.Add(ctx, provider, docs)
}

// QueryOptions is vectorindex.QueryOptions re-exported for caller
// convenience.
type QueryOptions = vectorindex.QueryOptions

// QueryIndex queries the index, auto-resuming it first if offloaded.
func (m *Manager) QueryIndex(ctx context.Context, callerNamespace, id, text string, vector []float32, opts QueryOptions) ([]vectorindex.Result, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := checkNamespace(callerNamespace, r.ID, opQueryListInfo, r.Permission); err != nil {
		return nil, err
	}
	if err := m.ensureLive(ctx, r); err != nil {
		return nil, err
	}

	provider, err := m.embeddings.Get(r.ProviderName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m.activityC != nil {
		m.activityC.Ping(id)
	}
	return r.index.Query(ctx, provider, text, vector, opts)
}

// RemoveDocuments removes ids from the index.
func (m *Manager) RemoveDocuments(ctx context.Context, callerNamespace, id string, ids []string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opRemoveDestroyTimeoutOffload, r.Permission); err != nil {
		return err
	}
	if err := m.ensureLive(ctx, r); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.activityC != nil {
		m.activityC.Ping(id)
	}
	r.index.Remove(ids)
	return nil
}

// PingInstance resets the index's idle timer.
func (m *Manager) PingInstance(callerNamespace, id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opQueryListInfo, r.Permission); err != nil {
		return err
	}
	if m.activityC != nil {
		m.activityC.Ping(id)
	}
	return nil
}

// SetInactivityTimeout changes the index's idle timeout.
func (m *Manager) SetInactivityTimeout(callerNamespace, id string, timeout time.Duration) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opRemoveDestroyTimeoutOffload, r.Permission); err != nil {
		return err
	}
	if m.activityC != nil {
		m.activityC.SetTimeout(id, timeout)
	}
	return nil
}

// ManualOffload writes the index's current state to the offload store and
// releases its in-memory index.
func (m *Manager) ManualOffload(ctx context.Context, callerNamespace, id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if callerNamespace != "" {
		if err := checkNamespace(callerNamespace, r.ID, opRemoveDestroyTimeoutOffload, r.Permission); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offloaded || r.index == nil {
		return nil
	}

	docs := r.index.Documents()
	records := make([]offload.DocumentRecord, len(docs))
	vectors := make([][]float32, len(docs))
	for i, d := range docs {
		records[i] = offload.DocumentRecord{ID: d.ID, Metadata: d.Metadata, Text: d.Text}
		vectors[i] = d.Vector()
	}

	snap := offload.Snapshot{
		Metadata: offload.Metadata{
			DocumentCount:      len(docs),
			EmbeddingDimension: r.index.Dimension(),
			CreatedAt:          r.CreatedAt,
			OffloadedAt:        time.Now(),
			Namespace:          r.ID.Namespace,
			Permission:         string(r.Permission),
		},
		Documents: records,
		Vectors:   vectors,
	}
	if err := m.store.Save(r.ID.String(), snap); err != nil {
		return err
	}
	r.index = nil
	r.offloaded = true
	if m.activityC != nil {
		m.activityC.Unregister(id)
	}
	return nil
}

// ListOffloadedIndices lists offloaded index ids under namespace.
func (m *Manager) ListOffloadedIndices(namespace string) ([]string, error) {
	return m.store.List(namespace)
}

// DeleteOffloadedIndex removes an offloaded index's on-disk state.
func (m *Manager) DeleteOffloadedIndex(id string) error {
	return m.store.Delete(id)
}

// DestroyIndex removes both in-memory and on-disk state (§3 "destroyed
// removes both in-memory and on-disk state").
func (m *Manager) DestroyIndex(ctx context.Context, callerNamespace, id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opRemoveDestroyTimeoutOffload, r.Permission); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()

	if m.activityC != nil {
		m.activityC.Unregister(id)
	}
	_ = m.store.Delete(id)
	return nil
}

// ChangeIndexEmbeddingProvider switches the bound provider, requiring the
// new provider's dimension to match the index's frozen dimension (§4.8).
func (m *Manager) ChangeIndexEmbeddingProvider(callerNamespace, id, newProviderName string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if err := checkNamespace(callerNamespace, r.ID, opRemoveDestroyTimeoutOffload, r.Permission); err != nil {
		return err
	}
	provider, err := m.embeddings.Get(newProviderName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.index.Dimension() != 0 && r.index.Dimension() != provider.Dimension() {
		return errs.InvalidArgument(fmt.Errorf("provider %q has dimension %d, index is %d-dimensional", newProviderName, provider.Dimension(), r.index.Dimension()))
	}
	r.ProviderName = newProviderName
	return nil
}

// ListIndices lists index records visible to callerNamespace (same
// namespace, or any namespace when perm admits listing — §4.8 "Listings
// filter by caller namespace").
func (m *Manager) ListIndices(callerNamespace string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if checkNamespace(callerNamespace, r.ID, opQueryListInfo, r.Permission) == nil {
			out = append(out, r)
		}
	}
	return out
}
