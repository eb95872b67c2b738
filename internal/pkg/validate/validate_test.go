package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxyourpoints/internal/pkg/apperr"
)

type sample struct {
	Title *string `json:"title" validate:"omitempty,notblank,max=10"`
	Slug  string  `json:"slug" validate:"required,slug"`
	Email string  `json:"email" validate:"omitempty,email"`
}

func strPtr(s string) *string { return &s }

func TestIsSlug(t *testing.T) {
	for _, ok := range []string{"a", "best-first-class-flights-2024", "x1-y2"} {
		assert.True(t, IsSlug(ok), ok)
	}
	for _, bad := range []string{"", "Upper", "double--dash", "-lead", "trail-", "under_score", "sp ace"} {
		assert.False(t, IsSlug(bad), bad)
	}
}

func TestStructCollectsDetails(t *testing.T) {
	err := Struct(sample{Title: strPtr("   "), Slug: "Bad Slug", Email: "nope"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Len(t, appErr.Details, 3)
	assert.Contains(t, appErr.Details[0], "title")
}

func TestStructPasses(t *testing.T) {
	assert.NoError(t, Struct(sample{Slug: "ok-slug"}))
	assert.NoError(t, Struct(sample{Title: strPtr("short"), Slug: "ok", Email: "a@b.co"}))
}
