package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsAppError(t *testing.T) {
	assert.Nil(t, AsAppError(nil))

	notFound := NewChatNotFoundError("abc")
	wrapped := fmt.Errorf("load chat: %w", notFound)
	assert.Same(t, notFound, AsAppError(wrapped))

	plain := errors.New("boom")
	appErr := AsAppError(plain)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal, appErr.Code)
	assert.ErrorIs(t, appErr, plain)
}

func TestIsErrorCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NewInvalidInputError("content is required"))
	assert.True(t, IsErrorCode(err, ErrInvalidInput))
	assert.False(t, IsErrorCode(err, ErrNotFound))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrInternal))
}

func TestAppError_Message(t *testing.T) {
	assert.Equal(t, "Unauthorized: expired", NewUnauthorizedError("expired").Error())
	withOrigin := NewActorTimeoutError("chat", errors.New("deadline"))
	assert.Equal(t, "Actor communication timeout: chat: deadline", withOrigin.Error())
}

func TestAppErrorToHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrNotFound:     http.StatusNotFound,
		ErrInvalidInput: http.StatusBadRequest,
		ErrUnauthorized: http.StatusUnauthorized,
		ErrForbidden:    http.StatusForbidden,
		ErrActorTimeout: http.StatusGatewayTimeout,
		ErrDatabase:     http.StatusInternalServerError,
		ErrInternal:     http.StatusInternalServerError,
		"SOMETHING":     http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, AppErrorToHTTPStatus(code), code)
	}
}
