package anyauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MagicLinkOptions configures email magic-link sign-in delegated to an
// application backend.
type MagicLinkOptions struct {
	BaseURL     string
	RequestPath string
	VerifyPath  string
	RefreshPath string

	// TTL bounds how long a requested link stays redeemable. Default 15m.
	TTL time.Duration
}

func (MagicLinkOptions) Provider() string { return "magic-link" }

func (o *MagicLinkOptions) ensureDefaults() {
	if o.RequestPath == "" {
		o.RequestPath = "/auth/magic-link/request"
	}
	if o.VerifyPath == "" {
		o.VerifyPath = "/auth/magic-link/verify"
	}
	if o.RefreshPath == "" {
		o.RefreshPath = "/auth/refresh"
	}
	if o.TTL <= 0 {
		o.TTL = 15 * time.Minute
	}
}

// MagicLinkProvider runs the two-step email link flow: Start asks the
// backend to send a link, SignIn redeems the token from that link. The
// pending session survives restarts through the credential store.
type MagicLinkProvider struct {
	opts   MagicLinkOptions
	client *backendClient
	store  CredentialStore
}

func NewMagicLinkProvider(opts MagicLinkOptions, env *Env) (*MagicLinkProvider, error) {
	if opts.BaseURL == "" {
		return nil, NewAuthError(ErrCodeMissingConfiguration, "magic-link provider requires a backend BaseURL", "magic-link")
	}
	opts.ensureDefaults()
	return &MagicLinkProvider{
		opts:   opts,
		client: newBackendClient(opts.BaseURL, env.HTTPClient),
		store:  env.Store,
	}, nil
}

func (p *MagicLinkProvider) Name() string { return "magic-link" }

// Start asks the backend to email a sign-in link and records the pending
// session. The returned PendingVerification identifies the attempt; its
// SessionID must accompany the redeemed token.
func (p *MagicLinkProvider) Start(ctx context.Context, email string) (*PendingVerification, error) {
	if email == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "email required", "magic-link")
	}

	pending := &PendingVerification{
		SessionID:   uuid.NewString(),
		Target:      email,
		ExpiresAt:   time.Now().Add(p.opts.TTL).UnixMilli(),
		MaxAttempts: 1,
	}
	if _, err := p.client.post(ctx, p.opts.RequestPath, map[string]string{
		"email":      email,
		"session_id": pending.SessionID,
	}, "magic-link"); err != nil {
		return nil, err
	}
	if err := savePending(p.store, "magic-link", pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// SignIn redeems the token carried by the emailed link. opts.Code is the
// token; opts.SessionID is optional and defaults to the pending session.
func (p *MagicLinkProvider) SignIn(ctx context.Context, opts *SignInOptions) (*SignInResult, error) {
	if opts.Code == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials,
			"magic-link sign-in needs the emailed token; call Start first", "magic-link")
	}

	pending, ok, err := loadPending(p.store, "magic-link")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no magic-link request is pending", "magic-link")
	}
	if pending.Expired() {
		_ = p.store.Remove(PendingVerificationKey("magic-link"))
		return nil, NewAuthError(ErrCodeTokenExpired, "the sign-in link expired; request a new one", "magic-link")
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = pending.SessionID
	}

	env, err := p.client.post(ctx, p.opts.VerifyPath, map[string]string{
		"email":      pending.Target,
		"session_id": sessionID,
		"token":      opts.Code,
	}, "magic-link")
	if err != nil {
		return nil, err
	}

	res, err := env.result("magic-link")
	if err != nil {
		return nil, err
	}
	_ = p.store.Remove(PendingVerificationKey("magic-link"))
	if err := SaveCredential(p.store, "magic-link", res.Credential); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *MagicLinkProvider) SignOut(ctx context.Context) error {
	ClearProviderKeys(p.store, "magic-link")
	return nil
}

func (p *MagicLinkProvider) Refresh(ctx context.Context) (*SignInResult, error) {
	return refreshWithBackend(ctx, p.client, p.store, "magic-link", p.opts.RefreshPath)
}

// refreshWithBackend runs the shared refresh-token exchange used by the
// backend-delegating providers.
func refreshWithBackend(ctx context.Context, client *backendClient, store CredentialStore, provider, path string) (*SignInResult, error) {
	cred, ok, err := LoadCredential(store, provider)
	if err != nil {
		return nil, err
	}
	if !ok || !cred.HasRefreshToken() {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no refresh token available", provider)
	}

	env, err := client.post(ctx, path, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
	}, provider)
	if err != nil {
		return nil, err
	}
	res, err := env.result(provider)
	if err != nil {
		return nil, err
	}
	if res.Credential.RefreshToken == "" {
		res.Credential.RefreshToken = cred.RefreshToken
	}
	if err := SaveCredential(store, provider, res.Credential); err != nil {
		return nil, err
	}
	return res, nil
}

func savePending(store CredentialStore, provider string, pending *PendingVerification) error {
	if store == nil {
		return nil
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return store.Set(PendingVerificationKey(provider), string(data))
}

func loadPending(store CredentialStore, provider string) (*PendingVerification, bool, error) {
	if store == nil {
		return nil, false, nil
	}
	raw, ok, err := store.Get(PendingVerificationKey(provider))
	if err != nil || !ok {
		return nil, false, err
	}
	var pending PendingVerification
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		_ = store.Remove(PendingVerificationKey(provider))
		return nil, false, nil
	}
	return &pending, true, nil
}
