package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dashlink/connect/crypt"
	"github.com/dashlink/connect/provider"
	"github.com/dashlink/connect/store"
	"github.com/dashlink/connect/utils"
)

const (
	// defaultExpirySkew refreshes slightly ahead of expiry so a token is
	// never handed out with only seconds of life left.
	defaultExpirySkew = time.Minute

	// defaultRefreshTimeout bounds the detached refresh-and-persist
	// sequence, lease wait included.
	defaultRefreshTimeout = 30 * time.Second
)

// Manager is the credential lifecycle orchestrator. Given a user, a service,
// and the scopes the caller requires, it returns a currently valid decrypted
// access token, refreshing or signaling reauthorization as needed. It owns
// the guarantee that at most one refresh per (user, service) key is in
// flight at a time.
type Manager struct {
	store     store.Store
	cipher    *crypt.Cipher
	provider  provider.IdentityProvider
	refresher *provider.Refresher
	verifier  *provider.Verifier
	audit     AuditLog

	// lease extends per-key serialization across instances; nil means the
	// in-process singleflight group is the only serialization.
	lease Lease
	group singleflight.Group

	// serviceScopes holds the scope set each service is configured to need;
	// CompleteAuthorization verifies new grants against it.
	serviceScopes map[store.Service][]string

	skew           time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLease enables cross-instance refresh serialization.
func WithLease(lease Lease) ManagerOption {
	return func(m *Manager) { m.lease = lease }
}

// WithExpirySkew overrides the early-refresh window.
func WithExpirySkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		if skew >= 0 {
			m.skew = skew
		}
	}
}

// WithRefreshTimeout overrides the detached refresh budget.
func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.refreshTimeout = timeout
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithRefresher overrides the default retry policy.
func WithRefresher(r *provider.Refresher) ManagerOption {
	return func(m *Manager) { m.refresher = r }
}

// WithServiceScopes sets the scope set each service is configured to need.
func WithServiceScopes(scopes map[store.Service][]string) ManagerOption {
	return func(m *Manager) { m.serviceScopes = scopes }
}

// NewManager wires the orchestrator. Everything is injected explicitly;
// there are no hidden singletons and no ambient globals.
func NewManager(s store.Store, c *crypt.Cipher, p provider.IdentityProvider, audit AuditLog, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:          s,
		cipher:         c,
		provider:       p,
		refresher:      provider.NewRefresher(p),
		verifier:       provider.NewVerifier(p),
		audit:          audit,
		skew:           defaultExpirySkew,
		refreshTimeout: defaultRefreshTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// refreshResult is the shared outcome of one deduplicated refresh.
type refreshResult struct {
	token  string
	scopes []string
}

// GetValidToken is the single entry point downstream service clients use.
//
// A stored token inside its validity window whose believed scopes cover the
// requirement is decrypted and returned with no provider traffic. An expired
// token, or one whose believed scopes fall short, goes through the
// serialized refresh path. When consent is unavoidable the returned error is
// a *ReauthSignal.
func (m *Manager) GetValidToken(ctx context.Context, userID string, service store.Service, requiredScopes []string) (string, error) {
	cred, err := m.store.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", m.signalReauth(ctx, userID, service, requiredScopes, nil, ReasonNotAuthorized)
		}
		return "", err
	}

	if !cred.Expired(m.skew) && utils.ScopesCover(cred.Scopes, requiredScopes) {
		return m.decryptAccess(cred)
	}

	key := userID + "|" + string(service)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		// Detached from the caller: the refresh is shared state benefiting
		// every waiter, so one client disconnect must not abort it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx, userID, service, requiredScopes)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		out := res.Val.(*refreshResult)
		// Waiters may require more than the caller that initiated the
		// shared refresh; reconcile against the confirmed grant.
		if missing := utils.MissingScopes(out.scopes, requiredScopes); len(missing) > 0 {
			if err := m.store.Delete(ctx, userID, service); err != nil {
				return "", err
			}
			return "", m.signalReauth(ctx, userID, service, requiredScopes, missing, ReasonScopeShortfall)
		}
		return out.token, nil
	case <-ctx.Done():
		// The shared refresh completes anyway; only this caller's wait ends.
		return "", ctx.Err()
	}
}

// refresh runs at most once per key at a time. It re-reads the stored
// credential first, exchanges the refresh token, reconciles the granted
// scopes against the requirement, and persists the result.
func (m *Manager) refresh(ctx context.Context, userID string, service store.Service, requiredScopes []string) (*refreshResult, error) {
	if m.lease != nil {
		release, err := m.lease.Acquire(ctx, userID+"|"+string(service))
		if err != nil {
			return nil, fmt.Errorf("%w: refresh lease: %v", provider.ErrProviderUnavailable, err)
		}
		defer release()
	}

	// Another caller or instance may have finished the refresh while this
	// one waited on the lease.
	cred, err := m.store.Get(ctx, userID, service)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, m.signalReauth(ctx, userID, service, requiredScopes, nil, ReasonNotAuthorized)
		}
		return nil, err
	}
	if !cred.Expired(m.skew) && utils.ScopesCover(cred.Scopes, requiredScopes) {
		token, err := m.decryptAccess(cred)
		if err != nil {
			return nil, err
		}
		return &refreshResult{token: token, scopes: cred.Scopes}, nil
	}

	if cred.RefreshToken == "" {
		// Nothing to refresh with; expiry forces consent. The record stays
		// until re-consent overwrites it.
		return nil, m.signalReauth(ctx, userID, service, requiredScopes, nil, ReasonMissingRefreshToken)
	}

	refreshToken, err := m.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token for %s/%s: %v", ErrCorruptCredential, userID, service, err)
	}

	grant, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidGrant) {
			// Terminal: destroy the stale credential before surfacing so a
			// retry cannot read a half-valid record.
			if delErr := m.store.Delete(ctx, userID, service); delErr != nil {
				return nil, delErr
			}
			return nil, m.signalReauth(ctx, userID, service, requiredScopes, nil, ReasonInvalidGrant)
		}
		// Transient: the stored credential is left untouched.
		return nil, err
	}

	missing, info, err := m.verifier.Missing(ctx, grant.AccessToken, requiredScopes)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidToken) {
			// A freshly minted token the provider will not vouch for is
			// unusable, but the user's consent is not the problem.
			return nil, fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	if len(missing) > 0 {
		if delErr := m.store.Delete(ctx, userID, service); delErr != nil {
			return nil, delErr
		}
		return nil, m.signalReauth(ctx, userID, service, requiredScopes, missing, ReasonScopeShortfall)
	}

	// An access token is never stored without an expiry. Some providers omit
	// expires_in on refresh; the introspection lifetime fills the gap.
	expiresAt, err := resolveExpiry(grant.ExpiresAt, info.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}

	encAccess, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, err
	}
	granted := info.Scopes
	now := time.Now().UTC()
	patch := store.Patch{
		AccessToken:   &encAccess,
		Scopes:        &granted,
		ExpiresAt:     &expiresAt,
		LastRefreshed: &now,
	}
	if grant.RefreshToken != "" {
		// Rotation: the provider issued a replacement. Otherwise the stored
		// refresh token is retained; absence does not mean revocation.
		encRefresh, err := m.cipher.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, err
		}
		patch.RefreshToken = &encRefresh
	}
	if err := m.store.Put(ctx, userID, service, patch); err != nil {
		return nil, err
	}

	m.logger.Debug("refreshed credential",
		"user_id", userID,
		"service", service,
		"expires_at", expiresAt)
	return &refreshResult{token: grant.AccessToken, scopes: granted}, nil
}

// resolveExpiry picks the token lifetime: the grant's own expiry when the
// provider sent one, otherwise the introspection lifetime. A token with
// neither cannot be stored.
func resolveExpiry(grantExpiry time.Time, expiresIn int64) (time.Time, error) {
	if !grantExpiry.IsZero() {
		return grantExpiry, nil
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second).UTC(), nil
	}
	return time.Time{}, errors.New("provider reported no token expiry")
}

// CompleteAuthorization finishes an interactive consent flow: it exchanges
// the authorization code, confirms via introspection that the grant covers
// the service's configured scopes, and persists a new encrypted credential
// record, replacing whatever was stored for the key. A too-narrow grant
// persists nothing, deletes nothing, and returns a scope-shortfall signal.
func (m *Manager) CompleteAuthorization(ctx context.Context, userID string, service store.Service, code string) error {
	if !service.Valid() {
		return fmt.Errorf("unknown service %q", service)
	}
	grant, err := m.provider.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	if grant.AccessToken == "" {
		return errors.New("provider returned no access token")
	}

	// Stored scopes come from the provider's introspection, never from the
	// exchange response echo or local configuration.
	required := m.serviceScopes[service]
	missing, info, err := m.verifier.Missing(ctx, grant.AccessToken, required)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidToken) {
			return fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
		}
		return err
	}
	if len(missing) > 0 {
		return m.signalReauth(ctx, userID, service, required, missing, ReasonScopeShortfall)
	}

	expiresAt, err := resolveExpiry(grant.ExpiresAt, info.ExpiresIn)
	if err != nil {
		return err
	}

	encAccess, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	scopes := info.Scopes
	patch := store.Patch{
		AccessToken: &encAccess,
		Scopes:      &scopes,
		ExpiresAt:   &expiresAt,
		GrantedAt:   &now,
	}
	if grant.RefreshToken != "" {
		encRefresh, err := m.cipher.Encrypt(grant.RefreshToken)
		if err != nil {
			return err
		}
		patch.RefreshToken = &encRefresh
	}
	if err := m.store.Put(ctx, userID, service, patch); err != nil {
		return err
	}

	m.logger.Info("authorization completed",
		"user_id", userID,
		"service", service,
		"scopes", scopes)
	return nil
}

// Revoke is the explicit user-initiated disconnect. The credential is
// deleted unconditionally and the event audited.
func (m *Manager) Revoke(ctx context.Context, userID string, service store.Service) error {
	if err := m.store.Delete(ctx, userID, service); err != nil {
		return err
	}
	if err := m.audit.Record(ctx, Event{UserID: userID, Service: service, Reason: ReasonRevoked}); err != nil {
		m.logger.Error("failed to record revoke audit event",
			"user_id", userID,
			"service", service,
			"err", err)
	}
	return nil
}

// Connection summarizes one linked service for the dashboard's connections
// page. It carries no token material.
type Connection struct {
	Service       store.Service `json:"service"`
	Scopes        []string      `json:"scopes"`
	ExpiresAt     time.Time     `json:"expires_at"`
	GrantedAt     time.Time     `json:"granted_at"`
	LastRefreshed time.Time     `json:"last_refreshed,omitempty"`
}

// Connections lists the services a user has linked.
func (m *Manager) Connections(ctx context.Context, userID string) ([]Connection, error) {
	creds, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Connection, 0, len(creds))
	for _, cred := range creds {
		out = append(out, Connection{
			Service:       cred.Service,
			Scopes:        cred.Scopes,
			ExpiresAt:     cred.ExpiresAt,
			GrantedAt:     cred.GrantedAt,
			LastRefreshed: cred.LastRefreshed,
		})
	}
	return out, nil
}

// decryptAccess unwraps the stored access token ciphertext.
func (m *Manager) decryptAccess(cred *store.Credential) (string, error) {
	plain, err := m.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: access token for %s/%s: %v", ErrCorruptCredential, cred.UserID, cred.Service, err)
	}
	return plain, nil
}

// signalReauth records the audit event and builds the signal. The audit
// write happens before the signal is raised; a failed write is logged but
// never blocks the prompt.
func (m *Manager) signalReauth(ctx context.Context, userID string, service store.Service, required, missing []string, reason Reason) error {
	if err := m.audit.Record(ctx, Event{UserID: userID, Service: service, Reason: reason}); err != nil {
		m.logger.Error("failed to record reauth audit event",
			"user_id", userID,
			"service", service,
			"reason", reason,
			"err", err)
	}
	return &ReauthSignal{
		Service:        service,
		RequiredScopes: required,
		MissingScopes:  missing,
		Reason:         reason,
		ConsentURL:     m.provider.ConsentURL(required),
	}
}
