package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("approval", "abc")))
	assert.Equal(t, ErrCodeUnauthorized, CodeOf(Forbidden("nope")))
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(InvalidInput("title", "required")))
	assert.Equal(t, ErrCodeConfiguration, CodeOf(Configuration("bad route")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain error")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to load route")

	assert.Equal(t, ErrCodeInternal, CodeOf(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "failed to load route")
}

func TestCodeOfWrappedChain(t *testing.T) {
	// Codes survive further wrapping with %w.
	inner := NotFound("approval_step", "s-1")
	outer := Wrap(inner, ErrCodeInternal, "lookup failed")
	assert.Equal(t, ErrCodeInternal, CodeOf(outer))

	var appErr *Error
	assert.True(t, stderrors.As(outer, &appErr))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("approval", "a-1"), http.StatusNotFound},
		{Forbidden("not assigned"), http.StatusForbidden},
		{New(ErrCodeConflict, "already approved"), http.StatusConflict},
		{InvalidInput("comment", "required"), http.StatusBadRequest},
		{Configuration("no steps"), http.StatusInternalServerError},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "for %v", tc.err)
	}
}
