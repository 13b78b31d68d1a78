package credential

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		presented string
		wantShort string
		wantLong  string
		wantOK    bool
	}{
		{"valid", "brokkr_BRabc123_def456", "abc123", "def456", true},
		{"wrong prefix", "other_BRabc123_def456", "", "", false},
		{"missing parts", "brokkr_BRabc123", "", "", false},
		{"missing BR marker", "brokkr_abc123_def456", "", "", false},
		{"empty short after marker", "brokkr_BR_def456", "", "", false},
		{"empty long", "brokkr_BRabc123_", "", "", false},
		{"long contains underscore", "brokkr_BRabc123_def_456", "abc123", "def_456", true},
		{"empty string", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			short, long, ok := parse(tt.presented)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantShort, short)
				assert.Equal(t, tt.wantLong, long)
			}
		})
	}
}

func TestAssemble(t *testing.T) {
	assert.Equal(t, "brokkr_BRshort_long", assemble("short", "long"))
}

func TestDigestDeterministic(t *testing.T) {
	d1 := digest("same-token")
	d2 := digest("same-token")
	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, digest("different-token"))
	assert.Len(t, d1, 64)
}

func TestParseAssembleRoundTrip(t *testing.T) {
	presented := assemble("myshorttoken", "mylongtoken")
	short, long, ok := parse(presented)
	require.True(t, ok)
	assert.Equal(t, "myshorttoken", short)
	assert.Equal(t, "mylongtoken", long)
}

func TestVerify_MalformedCredential(t *testing.T) {
	iss := NewIssuer(nil)

	_, err := iss.Verify(context.Background(), "not-a-valid-credential")
	require.Error(t, err)

	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Unauthenticated, ae.Kind)
}

func TestWithAuthAndFromContext(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthPayload{
		Kind:    store.PrincipalAgent,
		ID:      uuid.New(),
		IsAdmin: false,
	})

	payload, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, store.PrincipalAgent, payload.Kind)
	assert.False(t, payload.IsAdmin)
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
