package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{Unauthenticated, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{UnprocessableEntity, http.StatusUnprocessableEntity},
		{RetryableUpstream, http.StatusInternalServerError},
		{PermanentUpstream, http.StatusInternalServerError},
		{EncryptionFailure, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.StatusCode())
		})
	}
}

func TestKindCode(t *testing.T) {
	assert.Equal(t, "not_found", NotFound.Code())
}

func TestNew(t *testing.T) {
	err := New(NotFound, "stack missing")
	assert.Equal(t, NotFound, err.Kind)
	assert.Equal(t, "stack missing", err.Message)
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "not_found: stack missing", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(Conflict, "name %q already taken", "alpha")
	assert.Equal(t, `conflict: name "alpha" already taken`, err.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Internal, "querying store", cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "querying store")
}

func TestWithDetail(t *testing.T) {
	err := New(UnprocessableEntity, "validation failed").WithDetail([]string{"field1", "field2"})
	assert.Equal(t, []string{"field1", "field2"}, err.Detail)
}

func TestAs(t *testing.T) {
	wrapped := Wrap(NotFound, "missing", errors.New("boom"))
	var plain error = wrapped

	got, ok := As(plain)
	require.True(t, ok)
	assert.Equal(t, NotFound, got.Kind)
}

func TestAs_NotAnApierr(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestAs_WrappedWithErrorsJoin(t *testing.T) {
	inner := New(Forbidden, "nope")
	outer := errors.Join(inner, errors.New("context"))

	got, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, Forbidden, got.Kind)
}
