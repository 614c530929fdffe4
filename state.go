package anyauth

import "time"

// AuthUser is the authenticated identity as one uniform shape regardless of
// which provider produced it.
type AuthUser struct {
	UID          string         `json:"uid"`
	Email        string         `json:"email,omitempty"`
	DisplayName  string         `json:"display_name,omitempty"`
	PhotoURL     string         `json:"photo_url,omitempty"`
	ProviderData []ProviderData `json:"provider_data,omitempty"`
	Metadata     UserMetadata   `json:"metadata"`
}

// ProviderData records the identity as reported by one provider.
type ProviderData struct {
	ProviderID  string `json:"provider_id"`
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// UserMetadata holds account timestamps, epoch milliseconds.
type UserMetadata struct {
	CreationTime   int64 `json:"creation_time,omitempty"`
	LastSignInTime int64 `json:"last_sign_in_time,omitempty"`
}

// AuthCredential is the token bundle for one provider session.
//
// ExpiresAt is absolute epoch milliseconds, never relative seconds, so
// scheduling and expiry checks are pure comparisons against "now". Zero
// means the credential never expires or its lifetime is unknown.
type AuthCredential struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// IsExpired returns true if the credential has an expiry and it has passed.
func (c *AuthCredential) IsExpired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return nowMillis() >= c.ExpiresAt
}

// ExpiresWithin returns true if the credential has an expiry that falls
// inside the given window from now.
func (c *AuthCredential) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return nowMillis()+d.Milliseconds() >= c.ExpiresAt
}

// HasRefreshToken returns true if a refresh token is available.
func (c *AuthCredential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// AuthState is the current session snapshot. It is created once per
// manager, mutated only by the manager, and degrades to the
// unauthenticated default on sign-out.
//
// Invariants: IsAuthenticated == (User != nil); Provider != "" implies
// User != nil.
type AuthState struct {
	User            *AuthUser `json:"user"`
	IsAuthenticated bool      `json:"is_authenticated"`
	IsLoading       bool      `json:"is_loading"`
	Provider        string    `json:"provider,omitempty"`
}

// SignInResult is what a provider returns from a successful flow. The
// manager applies it to the shared state; providers never mutate AuthState
// directly.
type SignInResult struct {
	User       *AuthUser       `json:"user"`
	Credential *AuthCredential `json:"credential"`
}

// PendingVerification tracks one half-open two-step flow (SMS code, magic
// link). It is created at flow start and must never outlive the flow: it
// is deleted on success, on expiry, and after MaxAttempts failures.
type PendingVerification struct {
	SessionID   string `json:"session_id"`
	Target      string `json:"target"`
	ExpiresAt   int64  `json:"expires_at"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
}

// Expired returns true once the verification window has passed.
func (p *PendingVerification) Expired() bool {
	return p.ExpiresAt != 0 && nowMillis() >= p.ExpiresAt
}

// Exhausted returns true once no attempts remain.
func (p *PendingVerification) Exhausted() bool {
	return p.MaxAttempts > 0 && p.Attempts >= p.MaxAttempts
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
