package anyauth

import (
	"strings"
	"sync"
)

// CredentialStore is namespaced key/value persistence for serialized auth
// material. Implementations must scope Clear to this instance's namespace
// and leave unrelated data in a shared physical backing untouched.
//
// Keys follow a per-provider prefix convention so concurrent operations on
// different providers never collide:
//
//	auth_state                      manager-level session record
//	<provider>_current_user         last user returned by the provider
//	<provider>_credential           token bundle
//	<provider>_oauth_state          transient, one flow only
//	<provider>_oauth_nonce          transient, one flow only
type CredentialStore interface {
	// Get retrieves a value. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores a value, overwriting any previous one.
	Set(key, value string) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(key string) error

	// Clear removes every key in this store's namespace.
	Clear() error
}

// Well-known store key suffixes.
const (
	KeyAuthState = "auth_state"

	keySuffixCurrentUser = "_current_user"
	keySuffixCredential  = "_credential"
	keySuffixOAuthState  = "_oauth_state"
	keySuffixOAuthNonce  = "_oauth_nonce"
	keySuffixPending     = "_pending_verification"
)

// UserKey returns the persisted-user key for a provider.
func UserKey(provider string) string { return provider + keySuffixCurrentUser }

// CredentialKey returns the credential key for a provider.
func CredentialKey(provider string) string { return provider + keySuffixCredential }

// OAuthStateKey returns the transient CSRF state key for a provider.
func OAuthStateKey(provider string) string { return provider + keySuffixOAuthState }

// OAuthNonceKey returns the transient nonce key for a provider.
func OAuthNonceKey(provider string) string { return provider + keySuffixOAuthNonce }

// PendingVerificationKey returns the two-step flow key for a provider.
func PendingVerificationKey(provider string) string { return provider + keySuffixPending }

// MemoryStore is a volatile CredentialStore. It backs both the "memory"
// and "session" persistence modes (a Go process has no tab-scoped storage;
// session persistence simply means nothing survives the process).
type MemoryStore struct {
	mu        sync.RWMutex
	namespace string
	values    map[string]string
}

// NewMemoryStore creates an in-memory store under the given namespace.
func NewMemoryStore(namespace string) *MemoryStore {
	if namespace == "" {
		namespace = "anyauth"
	}
	return &MemoryStore{namespace: namespace, values: make(map[string]string)}
}

func (s *MemoryStore) fullKey(key string) string {
	return s.namespace + "/" + key
}

// Get retrieves a value.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[s.fullKey(key)]
	return v, ok, nil
}

// Set stores a value.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[s.fullKey(key)] = value
	return nil
}

// Remove deletes a key.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, s.fullKey(key))
	return nil
}

// Clear removes every key under this store's namespace.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := s.namespace + "/"
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
		}
	}
	return nil
}
