package security

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// SecretRefPrefix marks a configuration value that names a secret held
// by the CredentialStore instead of carrying it, e.g. "secret:github".
const SecretRefPrefix = "secret:"

// ErrUnknownSecret is returned when a secret reference names nothing.
var ErrUnknownSecret = errors.New("unknown secret")

// CredentialStore holds the named secrets from the security.secrets
// config section. Values are handed to MCP servers through secret
// references and fed to the Redactor. Safe for concurrent use.
type CredentialStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{secrets: make(map[string]string)}
}

// Set stores a secret, replacing any previous value.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// Get returns the secret stored under name.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[name]
	return v, ok
}

// Replace swaps the whole content of the store, as on config reload.
func (s *CredentialStore) Replace(secrets map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = maps.Clone(secrets)
	if s.secrets == nil {
		s.secrets = make(map[string]string)
	}
}

// Values returns every non-empty secret value, sorted.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.secrets))
	for _, v := range s.secrets {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns value unchanged unless it is a secret reference, in
// which case it returns the referenced secret. A nil store resolves no
// reference.
func (s *CredentialStore) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(value, SecretRefPrefix)
	if !ok {
		return value, nil
	}
	if s != nil {
		if v, found := s.Get(name); found {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSecret, name)
}
