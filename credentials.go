package anyauth

import (
	"encoding/json"
	"fmt"
)

// SaveCredential writes the provider's credential record under its
// <provider>_credential key.
func SaveCredential(store CredentialStore, provider string, cred *AuthCredential) error {
	if store == nil || cred == nil {
		return nil
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	return store.Set(CredentialKey(provider), string(data))
}

// LoadCredential reads the provider's persisted credential, if any.
func LoadCredential(store CredentialStore, provider string) (*AuthCredential, bool, error) {
	if store == nil {
		return nil, false, nil
	}
	raw, ok, err := store.Get(CredentialKey(provider))
	if err != nil || !ok {
		return nil, false, err
	}
	var cred AuthCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		_ = store.Remove(CredentialKey(provider))
		return nil, false, fmt.Errorf("corrupt credential record for %s: %w", provider, err)
	}
	return &cred, true, nil
}

// ClearProviderKeys removes every record a provider writes for itself.
func ClearProviderKeys(store CredentialStore, provider string) {
	if store == nil {
		return
	}
	for _, key := range []string{
		UserKey(provider),
		CredentialKey(provider),
		OAuthStateKey(provider),
		OAuthNonceKey(provider),
		PendingVerificationKey(provider),
	} {
		_ = store.Remove(key)
	}
}
