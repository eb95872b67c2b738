package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("create article: %w", Conflict("slug already exists"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("failed to list articles", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to list articles: connection reset", err.Error())
}

func TestKindLabels(t *testing.T) {
	assert.Equal(t, "validation_error", KindValidation.String())
	assert.Equal(t, "service_unavailable", KindServiceUnavailable.String())
	assert.Equal(t, "internal_error", Kind(99).String())
}
