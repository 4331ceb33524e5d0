package session

import (
	"sync"

	"github.com/google/uuid"
)

// Manager is the in-memory registry of live Sessions, keyed by session id
// and indexed by owning resource so a kernel destroy/restart can clear
// every session it owns in one pass (§8 invariant 3).
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	byResource map[string]map[string]struct{}
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		byResource: make(map[string]map[string]struct{}),
	}
}

// Create starts a new Session bound to resourceID and registers it.
func (m *Manager) Create(resourceID, code string) *Session {
	s := New(uuid.New().String(), resourceID, code)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if m.byResource[resourceID] == nil {
		m.byResource[resourceID] = make(map[string]struct{})
	}
	m.byResource[resourceID][s.ID] = struct{}{}
	return s
}

// Get retrieves a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CloseResource closes and forgets every session bound to resourceID —
// called on kernel destroy/restart so former subscribers stop receiving
// events (§8 invariant 3, §3 "Sessions are garbage-collected on resource
// destroy or restart").
func (m *Manager) CloseResource(resourceID string) {
	m.mu.Lock()
	ids := m.byResource[resourceID]
	delete(m.byResource, resourceID)
	var sessions []*Session
	for id := range ids {
		if s, ok := m.sessions[id]; ok {
			sessions = append(sessions, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Delete removes a single session without closing it or any other session
// on the same resource.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	if set, ok := m.byResource[s.ResourceID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byResource, s.ResourceID)
		}
	}
}
