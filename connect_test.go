package connect

import (
	"context"
	"testing"

	"github.com/dashlink/connect/lifecycle"
	"github.com/dashlink/connect/provider"
	"github.com/dashlink/connect/store"
)

func testProviderConfig() provider.Config {
	return provider.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://idp.example/authorize",
		TokenURL:     "https://idp.example/token",
		RedirectURL:  "https://app.example/callback",
	}
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	_, err := New(Config{Secret: "short", Provider: testProviderConfig()})
	if err == nil {
		t.Fatal("New accepted a secret below the minimum length")
	}
}

func TestNew_RequiresTokenURL(t *testing.T) {
	cfg := Config{Secret: "a-sufficiently-long-secret"}
	cfg.Provider = testProviderConfig()
	cfg.Provider.TokenURL = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted a provider config without a token URL")
	}
}

func TestNew_DefaultsToMemoryBackends(t *testing.T) {
	c, err := New(Config{Secret: "a-sufficiently-long-secret", Provider: testProviderConfig()})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if c.Manager == nil {
		t.Fatal("Manager not wired")
	}
	if _, ok := c.Store.(*store.MemoryStore); !ok {
		t.Errorf("Store = %T; want in-memory fallback", c.Store)
	}
	if _, ok := c.Audit.(*lifecycle.MemoryAuditLog); !ok {
		t.Errorf("Audit = %T; want in-memory fallback", c.Audit)
	}

	// the wired store is usable
	if err := c.Store.Put(context.Background(), "u1", store.ServiceMail, store.Patch{}); err != nil {
		t.Errorf("Put on wired store returned error: %v", err)
	}
}
