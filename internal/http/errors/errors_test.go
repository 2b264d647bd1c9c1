package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrRouteNotFound)
	assert.Same(t, ErrRouteNotFound, FromError(wrapped))

	cause := stderrors.New("db down")
	got := FromError(cause)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	assert.ErrorIs(t, got, cause)
}

func TestWithDetailDoesNotMutateBase(t *testing.T) {
	d := ErrUnauthorized.WithDetail("x")
	assert.Equal(t, "x", d.Detail)
	assert.Empty(t, ErrUnauthorized.Detail)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrUnauthorized)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	_, hasDetail := body["detail"]
	assert.False(t, hasDetail)
}

func TestWriteError_InternalHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteErrorR(rec, req, stderrors.New("secret connection string"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestPredefinedStatuses(t *testing.T) {
	cases := map[*AppError]int{
		ErrUnauthorized:        http.StatusUnauthorized,
		ErrInsufficientScopes:  http.StatusForbidden,
		ErrRouteNotFound:       http.StatusNotFound,
		ErrMethodNotAllowed:    http.StatusMethodNotAllowed,
		ErrInternalServerError: http.StatusInternalServerError,
	}
	for appErr, status := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, appErr)
		assert.Equal(t, status, rec.Code, appErr.Code)
	}
}
