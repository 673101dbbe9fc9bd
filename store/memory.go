package store

import (
	"context"
	"sort"
	"sync"
)

var _ Store = &MemoryStore{}

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[memKey]*Credential
}

type memKey struct {
	userID  string
	service Service
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[memKey]*Credential)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string, service Service) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[memKey{userID, service}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cred
	cp.Scopes = append([]string(nil), cred.Scopes...)
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, userID string, service Service, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memKey{userID, service}
	cred, ok := s.creds[key]
	if !ok {
		cred = &Credential{UserID: userID, Service: service}
		s.creds[key] = cred
	}
	if patch.AccessToken != nil {
		cred.AccessToken = *patch.AccessToken
	}
	if patch.RefreshToken != nil {
		cred.RefreshToken = *patch.RefreshToken
	}
	if patch.Scopes != nil {
		cred.Scopes = append([]string(nil), (*patch.Scopes)...)
	}
	if patch.ExpiresAt != nil {
		cred.ExpiresAt = patch.ExpiresAt.UTC()
	}
	if patch.GrantedAt != nil {
		cred.GrantedAt = patch.GrantedAt.UTC()
	}
	if patch.LastRefreshed != nil {
		cred.LastRefreshed = patch.LastRefreshed.UTC()
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string, service Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, memKey{userID, service})
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Credential
	for key, cred := range s.creds {
		if key.userID != userID {
			continue
		}
		cp := *cred
		cp.Scopes = append([]string(nil), cred.Scopes...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}
