package agent

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

func TestRequireSelf_AdminBypasses(t *testing.T) {
	principalID := uuid.New()
	ag := store.Agent{PrincipalID: principalID}

	r := httptest.NewRequest("GET", "/agents/x/target-state", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind:    store.PrincipalAdmin,
		ID:      uuid.New(),
		IsAdmin: true,
	})
	r = r.WithContext(ctx)

	assert.NoError(t, requireSelf(r, ag))
}

func TestRequireSelf_MatchingAgentAllowed(t *testing.T) {
	principalID := uuid.New()
	ag := store.Agent{PrincipalID: principalID}

	r := httptest.NewRequest("GET", "/agents/x/target-state", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalAgent,
		ID:   principalID,
	})
	r = r.WithContext(ctx)

	assert.NoError(t, requireSelf(r, ag))
}

func TestRequireSelf_DifferentAgentDenied(t *testing.T) {
	ag := store.Agent{PrincipalID: uuid.New()}

	r := httptest.NewRequest("GET", "/agents/x/target-state", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalAgent,
		ID:   uuid.New(),
	})
	r = r.WithContext(ctx)

	err := requireSelf(r, ag)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Forbidden, ae.Kind)
}

func TestRequireSelf_GeneratorDenied(t *testing.T) {
	ag := store.Agent{PrincipalID: uuid.New()}

	r := httptest.NewRequest("GET", "/agents/x/target-state", nil)
	ctx := credential.WithAuth(r.Context(), credential.AuthPayload{
		Kind: store.PrincipalGenerator,
		ID:   ag.PrincipalID,
	})
	r = r.WithContext(ctx)

	err := requireSelf(r, ag)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Forbidden, ae.Kind)
}

func TestRequireSelf_Unauthenticated(t *testing.T) {
	ag := store.Agent{PrincipalID: uuid.New()}
	r := httptest.NewRequest("GET", "/agents/x/target-state", nil)

	err := requireSelf(r, ag)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Unauthenticated, ae.Kind)
}
