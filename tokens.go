package anyauth

import (
	"crypto/rand"
	"encoding/base64"
)

// randomToken returns a cryptographically random, URL-safe opaque token.
func randomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("anyauth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
