package oauth2

import (
	"crypto/rand"
	"encoding/base64"
)

// randomState returns a URL-safe random value for state and nonce
// parameters.
func randomState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("oauth2: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func verifierKey(provider string) string {
	return provider + "_pkce_verifier"
}
