package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dashlink/connect/utils"
)

// DefaultHTTPTimeout bounds every outbound call to the provider.
const DefaultHTTPTimeout = 15 * time.Second

// Config holds one vendor's OAuth endpoints and client credentials.
type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	IntrospectURL string
	RedirectURL   string
	// Scopes is the default scope set requested during authorization.
	Scopes  []string
	Timeout time.Duration
}

var _ IdentityProvider = &OAuth2Provider{}

// OAuth2Provider implements IdentityProvider against a standard OAuth2
// authorization server.
type OAuth2Provider struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Provider builds a provider from endpoint configuration.
func NewOAuth2Provider(cfg Config) *OAuth2Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	return &OAuth2Provider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// withClient pins the bounded-timeout HTTP client onto the oauth2 transport.
func (p *OAuth2Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// ExchangeCode trades an authorization code for the initial token grant.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	tok, err := p.oauth.Exchange(p.withClient(ctx), code)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return p.grantFromToken(tok), nil
}

// Refresh exchanges a refresh token for a new access token.
func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	ts := p.oauth.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	grant := p.grantFromToken(tok)
	// TokenSource echoes the input refresh token back; only report a
	// rotation when the provider actually issued a new one.
	if grant.RefreshToken == refreshToken {
		grant.RefreshToken = ""
	}
	return grant, nil
}

func (p *OAuth2Provider) grantFromToken(tok *oauth2.Token) *Grant {
	// Only the provider's own scope field counts; a missing field stays nil
	// rather than echoing the locally configured request back as if granted.
	var scopes []string
	if raw, ok := tok.Extra("scope").(string); ok {
		scopes = utils.SplitScopes(raw)
	}
	return &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       scopes,
	}
}

// introspectResponse mirrors RFC 7662 §2.2.
type introspectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope"`
	Exp       int64  `json:"exp"`
	ExpiresIn int64  `json:"expires_in"`
}

// Introspect posts the token to the introspection endpoint. Any non-success
// response, inactive token, or response with no scope field is invalid.
func (p *OAuth2Provider) Introspect(ctx context.Context, accessToken string) (*Introspection, error) {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.IntrospectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection returned status %d", ErrInvalidToken, resp.StatusCode)
	}
	var ir introspectResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("%w: malformed introspection response", ErrInvalidToken)
	}
	if !ir.Active {
		return nil, fmt.Errorf("%w: token reported inactive", ErrInvalidToken)
	}
	if ir.Scope == "" {
		return nil, fmt.Errorf("%w: introspection response carries no scope", ErrInvalidToken)
	}
	expiresIn := ir.ExpiresIn
	if expiresIn == 0 && ir.Exp > 0 {
		expiresIn = ir.Exp - time.Now().Unix()
	}
	return &Introspection{
		Scopes:    utils.SplitScopes(ir.Scope),
		ExpiresIn: expiresIn,
	}, nil
}

// ConsentURL builds the browser consent redirect for the given scopes. The
// state parameter is left to the UI collaborator, which owns the redirect.
func (p *OAuth2Provider) ConsentURL(scopes []string) string {
	cfg := *p.oauth
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// invalidGrantMarkers are the RFC 6749 §5.2 error codes that mean the grant
// itself is dead rather than the provider being unhealthy.
var invalidGrantMarkers = []string{
	"invalid_grant",
	"invalid_client",
	"unauthorized_client",
	"token has been expired or revoked",
}

// classifyTokenError separates a provider refusal from a transient failure.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			for _, marker := range invalidGrantMarkers {
				if re.ErrorCode == marker {
					return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorCode)
				}
			}
		}
		// 4xx without a terminal error code still means the provider
		// processed and refused the request body.
		if re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			msg := strings.ToLower(string(re.Body))
			for _, marker := range invalidGrantMarkers {
				if strings.Contains(msg, marker) {
					return fmt.Errorf("%w: %s", ErrInvalidGrant, marker)
				}
			}
		}
	}
	return err
}
