// Package embedding implements the Embedding Provider Registry (§4.7): a
// copy-on-write, named-provider registry where each provider has a fixed
// output dimension and an embed(text) -> vector contract. Grounded on the
// example pack's plain net/http LLM provider client
// (other_examples/9bcf6af6_digitallysavvy-go-ai__pkg-providers-anthropic-language_model.go.go)
// for the remote HTTP provider shape, and on pkg/session/manager.go for the
// mutex-guarded registry structure.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexops/kernelengine/pkg/errs"
)

// Provider is a named embedding back-end with a fixed output dimension
// (SPEC_FULL "Embedding generation interface").
type Provider interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// refCounter is implemented by callers (vectordb.Manager) that need to
// veto provider removal/dimension changes while indices still reference a
// provider (§4.7: "cannot be removed while any live or offloaded index
// references it").
type refCounter interface {
	ReferenceCount(providerName string) int
}

// Registry holds named providers. Each mutation builds a fresh map and swaps
// it in under the lock, so a map once handed out is never modified. Reads
// (Get, List) take the same mutex as mutations, so a reader waits for an
// in-flight mutation and a mutation waits for in-flight readers.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	refs      refCounter
}

// NewRegistry constructs a Registry pre-populated with the built-in
// mock-model provider. refs may be nil until a vectordb.Manager is wired in
// (at which point SetRefCounter should be called); until then Remove and
// Update never refuse on reference grounds.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	mock := NewMock("mock-model", 16)
	r.providers[mock.Name()] = mock
	return r
}

// SetRefCounter wires in the component that knows which providers are
// actually referenced by live indices.
func (r *Registry) SetRefCounter(refs refCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = refs
}

// Add registers a new provider. Returns AlreadyExists if the name is taken.
func (r *Registry) Add(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return errs.AlreadyExists(p.Name())
	}
	next := cloneMap(r.providers)
	next[p.Name()] = p
	r.providers = next
	return nil
}

// Remove deletes a provider by name. Refused (FailedPrecondition) while any
// index references it (§9 Open Question (d): "the spec chooses refuse").
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return errs.NotFound(name)
	}
	if r.refs != nil && r.refs.ReferenceCount(name) > 0 {
		return errs.FailedPrecondition(name, fmt.Errorf("embedding provider %q is referenced by one or more indices", name))
	}
	next := cloneMap(r.providers)
	delete(next, name)
	r.providers = next
	return nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errs.NotFound(name)
	}
	return p, nil
}

// List returns all registered providers.
func (r *Registry) List() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Update replaces the provider registered under its own Name(), refusing
// the swap if the new provider's dimension differs from the old one and
// the provider is still referenced (§4.7: "dimension cannot be changed
// while referenced").
func (r *Registry) Update(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.providers[p.Name()]
	if !ok {
		return errs.NotFound(p.Name())
	}
	if existing.Dimension() != p.Dimension() && r.refs != nil && r.refs.ReferenceCount(p.Name()) > 0 {
		return errs.FailedPrecondition(p.Name(), fmt.Errorf("cannot change dimension of %q while referenced", p.Name()))
	}
	next := cloneMap(r.providers)
	next[p.Name()] = p
	r.providers = next
	return nil
}

func cloneMap(m map[string]Provider) map[string]Provider {
	next := make(map[string]Provider, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
