package lifecycle

import (
	"errors"
	"fmt"

	"github.com/dashlink/connect/store"
)

// ErrCorruptCredential indicates stored ciphertext that no longer decrypts.
// This is a data-integrity problem for operators, never silently ignored and
// never a reauth prompt.
var ErrCorruptCredential = errors.New("corrupt credential")

// Reason records why interactive consent became unavoidable.
type Reason string

const (
	// ReasonNotAuthorized: no credential exists yet for the key.
	ReasonNotAuthorized Reason = "not_authorized"
	// ReasonInvalidGrant: the provider reported the refresh token revoked.
	ReasonInvalidGrant Reason = "invalid_grant"
	// ReasonScopeShortfall: the provider confirmed fewer scopes than required.
	ReasonScopeShortfall Reason = "scope_shortfall"
	// ReasonMissingRefreshToken: the access token expired and no refresh
	// token was ever granted, so silent refresh is impossible.
	ReasonMissingRefreshToken Reason = "missing_refresh_token"
	// ReasonRevoked: the user explicitly disconnected the service.
	ReasonRevoked Reason = "revoked"
)

// ReauthSignal is the typed outcome raised when interactive consent is
// unavoidable. It is a value, not a stateful component: the UI collaborator
// consumes it to start a browser consent redirect and hands the resulting
// authorization code back via CompleteAuthorization.
type ReauthSignal struct {
	Service        store.Service
	RequiredScopes []string
	// MissingScopes is set for scope shortfalls: the required scopes the
	// provider did not confirm.
	MissingScopes []string
	Reason        Reason
	// ConsentURL carries the provider's consent redirect (offline access
	// type, consent screen forced) for the UI to act on.
	ConsentURL string
}

// Error implements the error interface so the signal can travel up ordinary
// error returns.
func (s *ReauthSignal) Error() string {
	return fmt.Sprintf("reauthorization required for %s: %s", s.Service, s.Reason)
}

// AsReauth extracts a ReauthSignal from an error chain.
func AsReauth(err error) (*ReauthSignal, bool) {
	var sig *ReauthSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}
