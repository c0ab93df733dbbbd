package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", Clone(ErrSystemClosed, "window closed"))
	got := FromError(wrapped)
	assert.Equal(t, ErrSystemClosed.Code, got.Code)
	assert.Equal(t, http.StatusForbidden, got.Status)
	assert.Equal(t, "window closed", got.Message)

	plain := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Nil(t, FromError(nil))
}

func TestCloneDoesNotMutateSentinel(t *testing.T) {
	clone := Clone(ErrDuplicateRequest, "already submitted")
	assert.Equal(t, "already submitted", clone.Message)
	assert.Equal(t, "clearance request already submitted for this window", ErrDuplicateRequest.Message)
	assert.True(t, Is(clone, ErrDuplicateRequest))
	assert.False(t, Is(clone, ErrConflict))
}

func TestInvalidListsFields(t *testing.T) {
	type decision struct {
		Status  string `validate:"required,oneof=APPROVED REJECTED"`
		Comment string `validate:"max=5"`
	}
	err := validator.New().Struct(decision{Status: "MAYBE", Comment: "too long"})
	require.Error(t, err)

	out := Invalid(err, "invalid decision")
	assert.Equal(t, ErrValidation.Code, out.Code)
	assert.Equal(t, map[string]string{"Status": "oneof", "Comment": "max"}, out.Fields)

	assert.Nil(t, Invalid(fmt.Errorf("bad json"), "invalid payload").Fields)
}

func TestStorageAndInternal(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, Storage(cause, "db down").Status)
	assert.Equal(t, http.StatusInternalServerError, Internal(cause, "oops").Status)
	assert.ErrorIs(t, Internal(cause, "oops"), cause)
}
