package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_Status(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Status())
		})
	}
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: group not found", NotFound("group").Error())

	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, CodeUnavailable, "redis unavailable")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "SERVICE_UNAVAILABLE: redis unavailable: dial tcp: refused", err.Error())
}

func TestAppError_Body(t *testing.T) {
	err := Wrap(errors.New("secret detail"), CodeConflict, "host already a member").
		With("group_id", "lobby").
		With("host_id", 7)

	body := err.Body()
	assert.Equal(t, "CONFLICT", body["error"])
	assert.Equal(t, "host already a member", body["message"])
	assert.Equal(t, map[string]interface{}{"group_id": "lobby", "host_id": 7}, body["details"])
	assert.NotContains(t, fmt.Sprint(body), "secret detail")

	_, hasDetails := InvalidInput("bad").Body()["details"]
	assert.False(t, hasDetails)
}

func TestFrom(t *testing.T) {
	appErr := NotFound("session")
	assert.Same(t, appErr, From(fmt.Errorf("handler: %w", appErr)))

	plain := errors.New("boom")
	wrapped := From(plain)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.ErrorIs(t, wrapped, plain)
}
