package offload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Metadata: Metadata{
			DocumentCount:      2,
			EmbeddingDimension: 3,
			CreatedAt:          time.Now(),
			OffloadedAt:        time.Now(),
			Namespace:          "ns",
			Permission:         "private",
		},
		Documents: []DocumentRecord{
			{ID: "a", Text: "hello"},
			{ID: "b", Metadata: map[string]any{"k": "v"}},
		},
		Vectors: [][]float32{
			{1, 0, 0},
			{0, 1, 0},
		},
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	snap := testSnapshot()

	require.NoError(t, s.Save("ns:idx1", snap))

	loaded, err := s.Load("ns:idx1")
	require.NoError(t, err)
	assert.Equal(t, "binary_v1", loaded.Metadata.Format)
	assert.Equal(t, snap.Metadata.Namespace, loaded.Metadata.Namespace)
	require.Len(t, loaded.Documents, 2)
	assert.Equal(t, "a", loaded.Documents[0].ID)
	assert.Equal(t, []float32{1, 0, 0}, loaded.Vectors[0])
	assert.Equal(t, []float32{0, 1, 0}, loaded.Vectors[1])
}

func TestLoadMissingIndexReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.Load("ns:does-not-exist")
	require.Error(t, err)
}

func TestLoadDetectsCountMismatchAsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	snap := testSnapshot()
	require.NoError(t, s.Save("ns:idx1", snap))

	// Truncate documents.json to just one entry to desync from vectors.bin's count.
	docsPath := filepath.Join(dir, "ns:idx1.documents.json")
	require.NoError(t, os.WriteFile(docsPath, []byte(`[{"id":"a"}]`), 0o644))

	_, err := s.Load("ns:idx1")
	require.Error(t, err)
}

func TestDeleteRemovesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save("ns:idx1", testSnapshot()))

	require.NoError(t, s.Delete("ns:idx1"))
	_, err := s.Load("ns:idx1")
	require.Error(t, err)

	// Deleting again is not an error.
	require.NoError(t, s.Delete("ns:idx1"))
}

func TestListFiltersByNamespace(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save("ns1:idx1", testSnapshot()))
	require.NoError(t, s.Save("ns2:idx2", testSnapshot()))

	ns1, err := s.List("ns1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1:idx1"}, ns1)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
