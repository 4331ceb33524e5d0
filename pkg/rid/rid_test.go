package rid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("tenant-a:kernel-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", id.Namespace)
	assert.Equal(t, "kernel-1", id.Local)
	assert.Equal(t, "tenant-a:kernel-1", id.String())
}

func TestParseFirstColonWins(t *testing.T) {
	id, err := Parse("tenant-a:kernel:with:colons")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", id.Namespace)
	assert.Equal(t, "kernel:with:colons", id.Local)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "no-colon", ":missing-namespace", "missing-local:"} {
		_, err := Parse(s)
		assert.Error(t, err, "expected error for %q", s)
	}
}

func TestNew(t *testing.T) {
	id, err := New("tenant-a", "kernel-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a:kernel-1", id.String())

	_, err = New("", "kernel-1")
	assert.Error(t, err)
}
