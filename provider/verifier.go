package provider

import (
	"context"

	"github.com/dashlink/connect/utils"
)

// Verifier reconciles the scopes the application believes it holds against
// what the provider says is actually bound to a live access token. Providers
// may silently downgrade a grant, so every check is a fresh introspection.
type Verifier struct {
	provider IdentityProvider
}

// NewVerifier creates a verifier over the given provider.
func NewVerifier(p IdentityProvider) *Verifier {
	return &Verifier{provider: p}
}

// Missing introspects the access token and returns the required scopes the
// provider did not confirm, along with the full introspection result.
func (v *Verifier) Missing(ctx context.Context, accessToken string, required []string) ([]string, *Introspection, error) {
	info, err := v.provider.Introspect(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	if info == nil {
		return nil, nil, ErrInvalidToken
	}
	return utils.MissingScopes(info.Scopes, required), info, nil
}
