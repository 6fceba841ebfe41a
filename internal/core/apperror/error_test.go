package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_WrappedCodeHelpers(t *testing.T) {
	base := NewInsufficientStock("g-1", "120.0000", "100.0000").WithDetail("shortfall", "20.0000")
	wrapped := fmt.Errorf("commit outbound: %w", base)

	assert.True(t, IsInsufficientStock(wrapped))
	assert.False(t, IsReferencedByMatch(wrapped))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(wrapped))

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "20.0000", appErr.Details["shortfall"])
}

func TestAppError_UnwrapCause(t *testing.T) {
	cause := errors.New("40001")
	err := NewConcurrentAllocationConflict(3).WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConcurrentAllocationConflict(err))
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Contains(t, err.Error(), "caused by: 40001")
}

func TestGetHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, NewDegenerateCost("x").HTTPStatus)
}
