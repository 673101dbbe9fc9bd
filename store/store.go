package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no credential exists for the key.
var ErrNotFound = errors.New("credential not found")

// Patch carries the fields a Put replaces. Nil fields are left untouched,
// giving per-key merge semantics.
type Patch struct {
	AccessToken   *string
	RefreshToken  *string
	Scopes        *[]string
	ExpiresAt     *time.Time
	GrantedAt     *time.Time
	LastRefreshed *time.Time
}

// Store persists one Credential per (userID, service) key. Put must be
// atomic per key and Get must observe the most recently completed Put; no
// cross-key transactions are required.
type Store interface {
	Get(ctx context.Context, userID string, service Service) (*Credential, error)
	Put(ctx context.Context, userID string, service Service, patch Patch) error
	Delete(ctx context.Context, userID string, service Service) error
	List(ctx context.Context, userID string) ([]*Credential, error)
}
