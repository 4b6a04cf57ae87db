package settings

import (
	"fmt"
	"sync"
)

// StorageScope separates persisted values by lifetime.
type StorageScope int

// Storage scopes.
const (
	StorageApplication StorageScope = iota
	StorageProfile
	StorageWorkspace
)

func (s StorageScope) String() string {
	switch s {
	case StorageApplication:
		return "application"
	case StorageProfile:
		return "profile"
	case StorageWorkspace:
		return "workspace"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Storage persists small boolean flags such as the auto-approve opt-in.
type Storage interface {
	// Bool returns the stored value, or false when absent.
	Bool(key string, scope StorageScope) (bool, error)
	SetBool(key string, value bool, scope StorageScope) error
	Remove(key string, scope StorageScope) error
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[StorageScope]map[string]bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[StorageScope]map[string]bool)}
}

// Bool implements Storage.
func (m *MemoryStorage) Bool(key string, scope StorageScope) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[scope][key], nil
}

// SetBool implements Storage.
func (m *MemoryStorage) SetBool(key string, value bool, scope StorageScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[scope] == nil {
		m.values[scope] = make(map[string]bool)
	}
	m.values[scope][key] = value
	return nil
}

// Remove implements Storage.
func (m *MemoryStorage) Remove(key string, scope StorageScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[scope], key)
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
