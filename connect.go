package connect

import (
	"errors"

	redis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dashlink/connect/crypt"
	"github.com/dashlink/connect/lifecycle"
	"github.com/dashlink/connect/provider"
	"github.com/dashlink/connect/store"
)

// Config wires the credential subsystem. The secret is the only required
// field besides the provider endpoints; with no Mongo database the store and
// audit log run in memory, and with no Redis client refresh serialization is
// in-process only.
type Config struct {
	// Secret keys the token cipher. The process must not serve credential
	// operations without it.
	Secret string

	// Mongo backs the credential store and audit log when set.
	Mongo *mongo.Database

	// Redis enables the cross-instance refresh lease when set.
	Redis redis.Cmdable

	// Provider holds the identity provider's endpoints and client
	// credentials.
	Provider provider.Config

	// ServiceScopes maps each service to the scope set it is configured to
	// need; CompleteAuthorization verifies new grants against it.
	ServiceScopes map[store.Service][]string

	// Manager tuning, passed through as-is.
	ManagerOptions []lifecycle.ManagerOption
}

// Connect bundles the wired components for the dashboard to use.
type Connect struct {
	Manager *lifecycle.Manager
	Store   store.Store
	Audit   lifecycle.AuditLog
}

// New builds the credential subsystem from one explicit configuration. All
// dependencies are injected here; nothing is initialized through globals.
func New(cfg Config) (*Connect, error) {
	cipher, err := crypt.NewCipher(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.Provider.TokenURL == "" {
		return nil, errors.New("provider token URL is required")
	}

	var (
		credStore store.Store
		audit     lifecycle.AuditLog
	)
	if cfg.Mongo != nil {
		credStore = store.NewMongoStore(cfg.Mongo)
		audit = lifecycle.NewMongoAuditLog(cfg.Mongo)
	} else {
		credStore = store.NewMemoryStore()
		audit = lifecycle.NewMemoryAuditLog()
	}

	idp := provider.NewOAuth2Provider(cfg.Provider)

	opts := cfg.ManagerOptions
	if cfg.ServiceScopes != nil {
		opts = append(opts, lifecycle.WithServiceScopes(cfg.ServiceScopes))
	}
	if cfg.Redis != nil {
		opts = append(opts, lifecycle.WithLease(lifecycle.NewRedisLease(cfg.Redis)))
	}
	manager := lifecycle.NewManager(credStore, cipher, idp, audit, opts...)

	return &Connect{
		Manager: manager,
		Store:   credStore,
		Audit:   audit,
	}, nil
}
