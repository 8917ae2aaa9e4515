package domain

import (
	"errors"
	"fmt"
	"testing"

	"equipres/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestConflictError(t *testing.T) {
	err := &ConflictError{Result: &models.AvailabilityResult{AvailableQuantity: 1}}
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "conflict: only 1 unit(s) free in the requested interval", err.Error())

	wrapped := fmt.Errorf("create: %w", err)
	var ce *ConflictError
	assert.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, int64(1), ce.Result.AvailableQuantity)

	assert.Equal(t, "conflict: not enough stock", (&ConflictError{Reason: "not enough stock"}).Error())
	assert.Equal(t, "conflict", (&ConflictError{}).Error())
}

func TestErrorHelpers(t *testing.T) {
	assert.ErrorIs(t, Invalid("bad %d", 1), ErrInvalidState)
	assert.EqualError(t, Invalid("bad %d", 1), "invalid state: bad 1")
	assert.ErrorIs(t, Forbidden("no"), ErrForbidden)
	assert.ErrorIs(t, ErrConcurrentModification, ErrConflict)
}
