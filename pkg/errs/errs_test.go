package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwraps(t *testing.T) {
	base := NotFound("tenant:kernel-1")
	wrapped := fmt.Errorf("loading kernel: %w", base)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestErrorMessageIncludesResource(t *testing.T) {
	err := FailedPrecondition("tenant:kernel-1", errors.New("kernel is dead"))
	assert.Contains(t, err.Error(), "tenant:kernel-1")
	assert.Contains(t, err.Error(), "kernel is dead")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
}
