package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindValidationFailed, http.StatusBadRequest},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInvalidID, http.StatusBadRequest},
		{KindDisallowedField, http.StatusBadRequest},
		{KindEmailTaken, http.StatusConflict},
		{KindAccountLocked, http.StatusLocked},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindUpstream, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{Kind("something_new"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("login: %w", Upstream(cause))

	assert.Equal(t, KindUpstream, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, New(KindUpstream, ""))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWithRetryAfterCopies(t *testing.T) {
	base := New(KindRateLimited, "Too many requests")
	limited := base.WithRetryAfter(30 * time.Second)

	assert.Equal(t, time.Duration(0), base.RetryAfter)
	assert.Equal(t, 30*time.Second, limited.RetryAfter)
	assert.Equal(t, "RATE_LIMITED", limited.Kind.Code())
}
