// Package credential implements C1: prefixed API key issuance, rotation,
// and constant-time verification, plus the authentication middleware that
// attaches the resolved principal to the request context.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/store"
)

// vendorPrefix is the fixed literal every credential begins with.
const vendorPrefix = "brokkr"

// shortTokenMarker is the fixed literal prefixed to the short token segment,
// per the credential format brokkr_BR<short>_<long>.
const shortTokenMarker = "BR"

// AuthPayload is what Verify returns on success and what the middleware
// attaches to the request context.
type AuthPayload struct {
	Kind    store.PrincipalKind
	ID      uuid.UUID
	IsAdmin bool
}

type contextKey string

const authContextKey contextKey = "brokkr_auth_payload"

// WithAuth attaches an AuthPayload to ctx.
func WithAuth(ctx context.Context, payload AuthPayload) context.Context {
	return context.WithValue(ctx, authContextKey, payload)
}

// FromContext extracts the AuthPayload attached by the auth middleware, if any.
func FromContext(ctx context.Context) (AuthPayload, bool) {
	p, ok := ctx.Value(authContextKey).(AuthPayload)
	return p, ok
}

// Issuer issues, rotates, and verifies prefixed API keys against the
// principals table.
type Issuer struct {
	principals *store.PrincipalStore
}

// NewIssuer creates an Issuer backed by the given principal accessor.
func NewIssuer(principals *store.PrincipalStore) *Issuer {
	return &Issuer{principals: principals}
}

// generateToken returns n random bytes, base64url-encoded without padding —
// a URL-safe, high-entropy token. '_' is mapped to '-' so a token never
// contains the '_' segment separator that parse splits on.
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return strings.ReplaceAll(base64.RawURLEncoding.EncodeToString(b), "_", "-"), nil
}

func digest(longToken string) string {
	sum := sha256.Sum256([]byte(longToken))
	return hex.EncodeToString(sum[:])
}

func assemble(shortToken, longToken string) string {
	return fmt.Sprintf("%s_%s%s_%s", vendorPrefix, shortTokenMarker, shortToken, longToken)
}

// Issue generates a new credential for a brand new principal and persists
// it. Any failure to insert the principal row (e.g. a short-token collision
// with a live principal) is reported as Conflict; principal names carry no
// uniqueness constraint.
func (iss *Issuer) Issue(ctx context.Context, kind store.PrincipalKind, name string) (store.Principal, string, error) {
	shortToken, err := generateToken(9)
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.Internal, "generating credential", err)
	}
	longToken, err := generateToken(24)
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.Internal, "generating credential", err)
	}

	principal, err := iss.principals.Create(ctx, kind, name, shortToken, digest(longToken))
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.Conflict, "issuing credential", err)
	}

	return principal, assemble(shortToken, longToken), nil
}

// Rotate atomically supersedes a principal's current credential. The old
// key stops verifying immediately; the new key is returned once.
func (iss *Issuer) Rotate(ctx context.Context, principalID uuid.UUID) (store.Principal, string, error) {
	shortToken, err := generateToken(9)
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.Internal, "generating credential", err)
	}
	longToken, err := generateToken(24)
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.Internal, "generating credential", err)
	}

	principal, err := iss.principals.UpdateCredential(ctx, principalID, shortToken, digest(longToken))
	if err != nil {
		return store.Principal{}, "", apierr.Wrap(apierr.NotFound, "rotating credential", err)
	}

	return principal, assemble(shortToken, longToken), nil
}

// parse splits a presented key into (short, long), validating its shape
// against brokkr_BR<short>_<long>.
func parse(presented string) (short, long string, ok bool) {
	parts := strings.SplitN(presented, "_", 3)
	if len(parts) != 3 || parts[0] != vendorPrefix || parts[2] == "" {
		return "", "", false
	}
	if !strings.HasPrefix(parts[1], shortTokenMarker) {
		return "", "", false
	}
	short = strings.TrimPrefix(parts[1], shortTokenMarker)
	if short == "" {
		return "", "", false
	}
	return short, parts[2], true
}

// Verify parses, looks up, and verifies a presented key, returning an
// AuthPayload on success.
func (iss *Issuer) Verify(ctx context.Context, presented string) (AuthPayload, error) {
	short, long, ok := parse(presented)
	if !ok {
		return AuthPayload{}, apierr.New(apierr.Unauthenticated, "malformed credential")
	}

	principal, err := iss.principals.ByShortToken(ctx, short)
	if err != nil {
		return AuthPayload{}, apierr.New(apierr.Unauthenticated, "invalid credential")
	}

	presentedDigest := digest(long)
	if subtle.ConstantTimeCompare([]byte(presentedDigest), []byte(principal.LongDigest)) != 1 {
		return AuthPayload{}, apierr.New(apierr.Unauthenticated, "invalid credential")
	}

	return AuthPayload{
		Kind:    principal.Kind,
		ID:      principal.ID,
		IsAdmin: principal.Kind == store.PrincipalAdmin,
	}, nil
}
