// Package credentials holds the access and refresh tokens of the current
// user. It is plain key-value storage: no expiry tracking, no encryption.
// Token validity is never checked locally; the server decides with a 401.
package credentials

import (
	"fmt"
	"sync"
)

// Fixed storage keys. The two tokens are written and cleared together.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Store is the credential key-value contract.
type Store interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Clear(key string) error
}

// Tokens reads both tokens. Missing tokens are returned as empty strings.
func Tokens(s Store) (access, refresh string, err error) {
	access, _, err = s.Get(AccessTokenKey)
	if err != nil {
		return "", "", fmt.Errorf("reading access token: %w", err)
	}
	refresh, _, err = s.Get(RefreshTokenKey)
	if err != nil {
		return "", "", fmt.Errorf("reading refresh token: %w", err)
	}
	return access, refresh, nil
}

// SaveTokens writes both tokens.
func SaveTokens(s Store, access, refresh string) error {
	if err := s.Set(AccessTokenKey, access); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	if err := s.Set(RefreshTokenKey, refresh); err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// ClearTokens removes both tokens. Both clears are attempted even if the
// first fails.
func ClearTokens(s Store) error {
	errA := s.Clear(AccessTokenKey)
	errR := s.Clear(RefreshTokenKey)
	if errA != nil {
		return fmt.Errorf("clearing access token: %w", errA)
	}
	if errR != nil {
		return fmt.Errorf("clearing refresh token: %w", errR)
	}
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *MemoryStore) Clear(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
