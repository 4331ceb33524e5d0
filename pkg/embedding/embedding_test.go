package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedIsDeterministic(t *testing.T) {
	p := NewMock("mock-model", 8)
	v1, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := p.Embed(context.Background(), "different")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestMockEmbedReturnsDeclaredDimension(t *testing.T) {
	p := NewMock("mock-model", 32)
	v, err := p.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 32)
}

func TestRegistryAddDuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	err := r.Add(NewMock("mock-model", 8))
	require.Error(t, err)
}

func TestRegistryGetUnknownFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
}

type fakeRefCounter struct{ counts map[string]int }

func (f fakeRefCounter) ReferenceCount(name string) int { return f.counts[name] }

func TestRegistryRemoveRefusedWhileReferenced(t *testing.T) {
	r := NewRegistry()
	r.SetRefCounter(fakeRefCounter{counts: map[string]int{"mock-model": 1}})

	err := r.Remove("mock-model")
	require.Error(t, err)

	_, getErr := r.Get("mock-model")
	assert.NoError(t, getErr)
}

func TestRegistryRemoveSucceedsWhenUnreferenced(t *testing.T) {
	r := NewRegistry()
	r.SetRefCounter(fakeRefCounter{counts: map[string]int{}})

	require.NoError(t, r.Remove("mock-model"))
	_, err := r.Get("mock-model")
	assert.Error(t, err)
}

func TestRegistryUpdateRefusesDimensionChangeWhileReferenced(t *testing.T) {
	r := NewRegistry()
	r.SetRefCounter(fakeRefCounter{counts: map[string]int{"mock-model": 2}})

	err := r.Update(NewMock("mock-model", 64))
	require.Error(t, err)
}

func TestRegistryListIncludesBuiltin(t *testing.T) {
	r := NewRegistry()
	names := map[string]bool{}
	for _, p := range r.List() {
		names[p.Name()] = true
	}
	assert.True(t, names["mock-model"])
}
