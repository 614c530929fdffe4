package anyauth

import (
	"strings"
)

// ParseScopes splits a space-delimited scope string, dropping duplicates
// while keeping first-seen order.
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	scopes := strings.Fields(scopeString)
	seen := make(map[string]bool, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes renders a scope list in wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// MergeScopes unions two scope lists preserving first-seen order.
func MergeScopes(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// HasScope reports whether the credential was granted scope. Providers
// may grant more than was requested, so callers check the credential, not
// the request.
func (c *AuthCredential) HasScope(scope string) bool {
	for _, s := range ParseScopes(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}
