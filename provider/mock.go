package provider

import "context"

// MockProvider provides customizable hooks for testing IdentityProvider behavior.
type MockProvider struct {
	ExchangeCodeFunc func(ctx context.Context, code string) (*Grant, error)
	RefreshFunc      func(ctx context.Context, refreshToken string) (*Grant, error)
	IntrospectFunc   func(ctx context.Context, accessToken string) (*Introspection, error)
	ConsentURLFunc   func(scopes []string) string
}

// Ensure MockProvider implements IdentityProvider
var _ IdentityProvider = (*MockProvider)(nil)

// ExchangeCode calls ExchangeCodeFunc if set, otherwise returns nil, nil
func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return nil, nil
}

// Refresh calls RefreshFunc if set, otherwise returns nil, nil
func (m *MockProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, nil
}

// Introspect calls IntrospectFunc if set, otherwise returns nil, nil
func (m *MockProvider) Introspect(ctx context.Context, accessToken string) (*Introspection, error) {
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx, accessToken)
	}
	return nil, nil
}

// ConsentURL calls ConsentURLFunc if set, otherwise returns ""
func (m *MockProvider) ConsentURL(scopes []string) string {
	if m.ConsentURLFunc != nil {
		return m.ConsentURLFunc(scopes)
	}
	return ""
}
