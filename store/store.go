// Package store defines the token store consumed by the credential validator
// and provides the non-Postgres implementations: an in-memory store used in
// tests and a bbolt file store for deployments without a database. The
// Postgres implementation lives in the db package.
package store

import (
	"context"
	"sync"
)

// TokenStore persists per-handle OAuth token pairs. The pair is always
// written atomically; implementations must never expose a state where only
// one half of a pair has been replaced. Writes for different handles must not
// interfere with each other.
type TokenStore interface {
	// AccessToken returns the stored access token for handle, reporting
	// absence when the handle has never authenticated.
	AccessToken(ctx context.Context, handle string) (string, bool, error)
	// RefreshToken returns the stored refresh token for handle.
	RefreshToken(ctx context.Context, handle string) (string, bool, error)
	// SetTokens replaces the token pair for handle in one atomic write.
	SetTokens(ctx context.Context, handle, access, refresh string) error
}

type pair struct {
	access  string
	refresh string
}

// Memory is a map-backed TokenStore. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	pairs map[string]pair
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{pairs: make(map[string]pair)}
}

func (m *Memory) AccessToken(_ context.Context, handle string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[handle]
	return p.access, ok, nil
}

func (m *Memory) RefreshToken(_ context.Context, handle string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[handle]
	return p.refresh, ok, nil
}

func (m *Memory) SetTokens(_ context.Context, handle, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[handle] = pair{access: access, refresh: refresh}
	return nil
}
