package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPredicates(t *testing.T) {
	cause := stderrors.New("connection refused")

	assert.True(t, IsValidation(NewValidationError("bad code")))
	assert.True(t, IsValidation(NewInvalidInputError("level", "unknown")))
	assert.True(t, IsNotFound(NewNotFoundError("prompt")))
	assert.True(t, IsStoreUnavailable(NewStoreUnavailableError("insert prompt", cause)))
	assert.True(t, IsExternal(NewExternalError(ErrCodeExternalService, "completion failed", cause)))
	assert.True(t, IsConflict(NewConflictError("already exists")))
	assert.True(t, IsPolicyViolation(NewPolicyError("super_admin")))

	assert.False(t, IsNotFound(NewStoreUnavailableError("find", cause)))
	assert.False(t, IsNotFound(cause))
}

func TestWrappedAppError(t *testing.T) {
	cause := stderrors.New("timeout")
	err := fmt.Errorf("start conversation: %w", NewStoreUnavailableError("allocate id", cause))

	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStoreUnavailable, GetAppError(err).Code)
	assert.Contains(t, err.Error(), "timeout")
}

func TestGetAppErrorWrapsPlainErrors(t *testing.T) {
	appErr := GetAppError(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, ErrorTypeSystem, appErr.Type)
}

func TestErrorLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	el := NewErrorLogger(zap.New(core))

	el.LogError("create prompt", NewValidationError("empty content"))
	el.LogError("find prompt", NewStoreUnavailableError("find", stderrors.New("down")))
	el.LogError("noop", nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "Validation error", entries[0].Message)
		assert.Equal(t, zap.InfoLevel, entries[0].Level)
		assert.Equal(t, "System error", entries[1].Message)
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	}
}
