package credential

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
)

func TestAuthorize_AdminAlwaysAllowed(t *testing.T) {
	admin := AuthPayload{Kind: store.PrincipalAdmin, ID: uuid.New(), IsAdmin: true}
	assert.NoError(t, Authorize(admin, "/webhooks"))
	assert.NoError(t, Authorize(admin, "/anything/not/in/the/table"))
}

func TestAuthorize_MatchedAllowed(t *testing.T) {
	tests := []struct {
		name string
		kind store.PrincipalKind
		path string
	}{
		{"agent reads its target state", store.PrincipalAgent, "/agents/abc-123/target-state"},
		{"agent posts events", store.PrincipalAgent, "/agents/abc-123/events"},
		{"agent polls pending work orders", store.PrincipalAgent, "/agents/abc-123/work-orders/pending"},
		{"agent posts diagnostic result", store.PrincipalAgent, "/agents/abc-123/diagnostics/xyz/result"},
		{"generator creates agents", store.PrincipalGenerator, "/agents"},
		{"generator manages stacks", store.PrincipalGenerator, "/stacks/1/deployment-objects"},
		{"agent claims a work order", store.PrincipalAgent, "/work-orders/1/claim"},
		{"agent completes a work order", store.PrincipalAgent, "/work-orders/1/complete"},
		{"generator lists work orders", store.PrincipalGenerator, "/work-orders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := AuthPayload{Kind: tt.kind, ID: uuid.New()}
			assert.NoError(t, Authorize(payload, tt.path))
		})
	}
}

func TestAuthorize_MatchedDenied(t *testing.T) {
	tests := []struct {
		name string
		kind store.PrincipalKind
		path string
	}{
		{"generator cannot set agent labels", store.PrincipalGenerator, "/agents/abc-123/labels"},
		{"generator cannot rotate a pak", store.PrincipalGenerator, "/agents/abc-123/rotate-pak"},
		{"agent cannot open admin diagnostics", store.PrincipalAgent, "/agents/abc-123/diagnostics"},
		{"agent cannot manage webhooks", store.PrincipalAgent, "/webhooks"},
		{"agent cannot manage generators", store.PrincipalAgent, "/generators"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := AuthPayload{Kind: tt.kind, ID: uuid.New()}
			err := Authorize(payload, tt.path)
			require.Error(t, err)
			ae, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, apierr.Forbidden, ae.Kind)
		})
	}
}

func TestAuthorize_UnmatchedPathDenied(t *testing.T) {
	payload := AuthPayload{Kind: store.PrincipalAgent, ID: uuid.New()}
	err := Authorize(payload, "/nonexistent/endpoint")
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Forbidden, ae.Kind)
}
