package stack

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
	"github.com/brokkr/broker/pkg/credential"
)

func TestOwnerID_GeneratorIgnoresExplicit(t *testing.T) {
	generatorID := uuid.New()
	explicit := uuid.New()

	r := httptest.NewRequest("POST", "/stacks", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalGenerator,
		ID:   generatorID,
	})
	r = r.WithContext(ctx)

	got, err := ownerID(r, &explicit)
	require.NoError(t, err)
	assert.Equal(t, generatorID, got)
}

func TestOwnerID_AdminWithExplicitOwner(t *testing.T) {
	explicit := uuid.New()

	r := httptest.NewRequest("POST", "/stacks", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalAdmin,
		ID:   uuid.New(),
	})
	r = r.WithContext(ctx)

	got, err := ownerID(r, &explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)
}

func TestOwnerID_AdminWithoutExplicitOwnerFails(t *testing.T) {
	r := httptest.NewRequest("POST", "/stacks", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalAdmin,
		ID:   uuid.New(),
	})
	r = r.WithContext(ctx)

	_, err := ownerID(r, nil)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidInput, ae.Kind)
}

func TestOwnerID_Unauthenticated(t *testing.T) {
	r := httptest.NewRequest("POST", "/stacks", nil)

	_, err := ownerID(r, nil)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Unauthenticated, ae.Kind)
}
