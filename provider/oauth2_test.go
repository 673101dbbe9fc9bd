package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testConfig(tokenURL, introspectURL string) Config {
	return Config{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		AuthURL:       "https://idp.example/authorize",
		TokenURL:      tokenURL,
		IntrospectURL: introspectURL,
		RedirectURL:   "https://app.example/callback",
		Scopes:        []string{"read-mail", "send-mail"},
		Timeout:       5 * time.Second,
	}
}

func TestOAuth2Provider_RefreshClassifiesInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
	_, err := p.Refresh(context.Background(), "revoked-rt")
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("Refresh = %v; want ErrInvalidGrant", err)
	}
}

func TestOAuth2Provider_RefreshServerErrorIsNotTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
	_, err := p.Refresh(context.Background(), "rt")
	if err == nil {
		t.Fatal("Refresh should have failed against a 502 endpoint")
	}
	if errors.Is(err, ErrInvalidGrant) {
		t.Errorf("a 5xx must not be classified as invalid_grant: %v", err)
	}
}

func TestOAuth2Provider_RefreshDetectsRotation(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantRefresh string
	}{
		{
			"rotated",
			`{"access_token":"new-at","token_type":"Bearer","expires_in":3600,"refresh_token":"new-rt"}`,
			"new-rt",
		},
		{
			"not rotated",
			`{"access_token":"new-at","token_type":"Bearer","expires_in":3600}`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
			grant, err := p.Refresh(context.Background(), "old-rt")
			if err != nil {
				t.Fatalf("Refresh returned error: %v", err)
			}
			if grant.AccessToken != "new-at" {
				t.Errorf("AccessToken = %q; want %q", grant.AccessToken, "new-at")
			}
			if grant.RefreshToken != tt.wantRefresh {
				t.Errorf("RefreshToken = %q; want %q", grant.RefreshToken, tt.wantRefresh)
			}
			if !grant.ExpiresAt.After(time.Now()) {
				t.Errorf("ExpiresAt = %v; want a future time", grant.ExpiresAt)
			}
		})
	}
}

func TestOAuth2Provider_Introspect(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"active with scopes", http.StatusOK, `{"active":true,"scope":"read-mail send-mail","expires_in":1800}`, nil},
		{"inactive", http.StatusOK, `{"active":false}`, ErrInvalidToken},
		{"no scope field", http.StatusOK, `{"active":true,"expires_in":1800}`, ErrInvalidToken},
		{"non-success status", http.StatusUnauthorized, `{}`, ErrInvalidToken},
		{"malformed body", http.StatusOK, `{{{`, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("introspection used method %s; want POST", r.Method)
				}
				if user, _, ok := r.BasicAuth(); !ok || user != "client-id" {
					t.Error("introspection request missing client basic auth")
				}
				if err := r.ParseForm(); err != nil || r.PostForm.Get("token") == "" {
					t.Error("introspection request missing token form field")
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
			info, err := p.Introspect(context.Background(), "some-token")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Introspect = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Introspect returned error: %v", err)
			}
			if len(info.Scopes) != 2 || info.Scopes[0] != "read-mail" {
				t.Errorf("Scopes = %v", info.Scopes)
			}
			if info.ExpiresIn != 1800 {
				t.Errorf("ExpiresIn = %d; want 1800", info.ExpiresIn)
			}
		})
	}
}

func TestOAuth2Provider_ExchangeCodeUsesScopeField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600,"refresh_token":"rt","scope":"read-mail"}`))
	}))
	defer srv.Close()

	p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
	grant, err := p.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if len(grant.Scopes) != 1 || grant.Scopes[0] != "read-mail" {
		t.Errorf("Scopes = %v; want the provider's scope field, not the requested set", grant.Scopes)
	}
	if grant.RefreshToken != "rt" {
		t.Errorf("RefreshToken = %q; want %q", grant.RefreshToken, "rt")
	}
}

func TestOAuth2Provider_ExchangeCodeWithoutScopeFieldGrantsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	p := NewOAuth2Provider(testConfig(srv.URL, srv.URL))
	grant, err := p.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if grant.Scopes != nil {
		t.Errorf("Scopes = %v; a missing scope field must not echo the configured request", grant.Scopes)
	}
}

func TestOAuth2Provider_ConsentURL(t *testing.T) {
	p := NewOAuth2Provider(testConfig("https://idp.example/token", "https://idp.example/introspect"))

	raw := p.ConsentURL([]string{"read-mail", "calendar"})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("ConsentURL produced unparseable URL: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q; want offline", q.Get("access_type"))
	}
	if q.Get("approval_prompt") != "force" && q.Get("prompt") != "consent" {
		t.Errorf("consent screen not forced: %q", raw)
	}
	if !strings.Contains(q.Get("scope"), "calendar") {
		t.Errorf("scope = %q; want requested scopes", q.Get("scope"))
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
}
