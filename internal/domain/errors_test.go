package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"sentinel direct", ErrToolNotFound, CodeToolNotFound},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrValidation), CodeValidation},
		{"domain error", NewDomainError("Executor.Execute", ErrConfirmationDenied, "shell"), CodeConfirmationDenied},
		{"unknown", fmt.Errorf("something else"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Get", ErrToolNotFound, "nonexistent")
	assert.Equal(t, "Registry.Get: nonexistent: tool not found", err.Error())
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, CodeToolNotFound, err.Code())
}

func TestWrapOp(t *testing.T) {
	require.NoError(t, WrapOp("op", nil))
	err := WrapOp("op", ErrStreamTransport)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamTransport)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("api: %w", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrProviderError))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
