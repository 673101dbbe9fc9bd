package provider

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidGrant means the refresh token itself was revoked or expired.
// This is terminal: the caller must delete the credential and send the user
// back through interactive consent. It must never be retried.
var ErrInvalidGrant = errors.New("invalid_grant: refresh token revoked or expired")

// ErrProviderUnavailable is a transient failure (timeout, 5xx, malformed
// response) that survived the retry budget. The user's consent is not the
// problem; the stored credential must be left untouched.
var ErrProviderUnavailable = errors.New("identity provider temporarily unavailable")

// ErrInvalidToken means the access token could not be introspected. A token
// the provider will not vouch for is unusable, forcing refresh or reauth
// rather than optimistic use.
var ErrInvalidToken = errors.New("token not valid for introspection")

// Grant is the outcome of a code exchange or a refresh.
type Grant struct {
	AccessToken string
	// RefreshToken is empty when the provider did not rotate it; absence
	// does not mean revocation, so callers retain the previous one.
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Introspection reports what the provider says is actually bound to a live
// access token, as opposed to locally cached metadata.
type Introspection struct {
	Scopes    []string
	ExpiresIn int64
}

// IdentityProvider is the abstract contract the lifecycle core needs from a
// vendor's OAuth endpoints.
type IdentityProvider interface {
	// ExchangeCode trades an authorization code for a token grant.
	ExchangeCode(ctx context.Context, code string) (*Grant, error)

	// Refresh mints a new access token from a refresh token. A revoked or
	// expired refresh token returns an error wrapping ErrInvalidGrant.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)

	// Introspect asks the provider which scopes and expiry are bound to an
	// access token. Results are never cached; trust decisions depend on them.
	Introspect(ctx context.Context, accessToken string) (*Introspection, error)

	// ConsentURL builds the interactive consent redirect for the given
	// scopes, requesting offline access and forcing the consent screen.
	ConsentURL(scopes []string) string
}
