package anyauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PasswordOptions configures a provider that delegates email/password
// authentication to an application backend.
type PasswordOptions struct {
	// BaseURL of the backend, e.g. "https://api.example.com".
	BaseURL string

	// Optional path overrides. Defaults: /auth/signin, /auth/signup,
	// /auth/refresh, /auth/signout.
	SignInPath  string
	SignUpPath  string
	RefreshPath string
	SignOutPath string
}

func (PasswordOptions) Provider() string { return "password" }

func (o *PasswordOptions) ensureDefaults() {
	if o.SignInPath == "" {
		o.SignInPath = "/auth/signin"
	}
	if o.SignUpPath == "" {
		o.SignUpPath = "/auth/signup"
	}
	if o.RefreshPath == "" {
		o.RefreshPath = "/auth/refresh"
	}
	if o.SignOutPath == "" {
		o.SignOutPath = "/auth/signout"
	}
}

// backendClient posts JSON to an application backend and decodes the
// standard auth response envelope.
type backendClient struct {
	baseURL string
	http    *http.Client
}

func newBackendClient(baseURL string, httpClient *http.Client) *backendClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &backendClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// authEnvelope is the wire shape backends reply with. expires_in is
// seconds from now; expires_at, when present, wins and is epoch millis.
type authEnvelope struct {
	User         *wireUser `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	Error        string    `json:"error"`
	ErrorMessage string    `json:"error_description"`
}

type wireUser struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	CreatedAt   int64  `json:"created_at"`
	LastLoginAt int64  `json:"last_login_at"`
}

func (c *backendClient) post(ctx context.Context, path string, body any, provider string) (*authEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, WrapAuthError(ErrCodeInternalError, "failed to encode request", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapAuthError(ErrCodeInternalError, "failed to build request", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Classify(provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, WrapAuthError(ErrCodeNetworkError, "failed to read response", provider, err)
	}

	var env authEnvelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 400 {
			return nil, WrapAuthError(ErrCodeServerError,
				fmt.Sprintf("backend returned malformed response (%d)", resp.StatusCode), provider, err)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, backendError(provider, resp.StatusCode, &env)
	}
	return &env, nil
}

func backendError(provider string, status int, env *authEnvelope) error {
	msg := env.ErrorMessage
	if msg == "" {
		msg = env.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", status)
	}

	code := ErrCodeServerError
	switch {
	case env.Error == "invalid_grant":
		code = ErrCodeInvalidGrant
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = ErrCodeInvalidCredentials
	case status == http.StatusServiceUnavailable, status == http.StatusTooManyRequests:
		code = ErrCodeTemporarilyUnavailable
	}
	return NewAuthError(code, msg, provider)
}

// result converts the wire envelope into a SignInResult, normalizing the
// expiry to epoch milliseconds.
func (env *authEnvelope) result(provider string) (*SignInResult, error) {
	if env.User == nil {
		return nil, NewAuthError(ErrCodeServerError, "backend response is missing the user", provider)
	}

	expiresAt := env.ExpiresAt
	if expiresAt == 0 && env.ExpiresIn > 0 {
		expiresAt = nowMillis() + env.ExpiresIn*1000
	}
	tokenType := env.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &SignInResult{
		User: &AuthUser{
			UID:         env.User.UID,
			Email:       env.User.Email,
			DisplayName: env.User.DisplayName,
			PhotoURL:    env.User.PhotoURL,
			ProviderData: []ProviderData{{
				ProviderID:  provider,
				UID:         env.User.UID,
				Email:       env.User.Email,
				DisplayName: env.User.DisplayName,
				PhotoURL:    env.User.PhotoURL,
			}},
			Metadata: UserMetadata{
				CreationTime:   env.User.CreatedAt,
				LastSignInTime: env.User.LastLoginAt,
			},
		},
		Credential: &AuthCredential{
			AccessToken:  env.AccessToken,
			IDToken:      env.IDToken,
			RefreshToken: env.RefreshToken,
			ExpiresAt:    expiresAt,
			TokenType:    tokenType,
		},
	}, nil
}

// PasswordProvider signs in against an application backend with email and
// password, and refreshes with the backend-issued refresh token.
type PasswordProvider struct {
	opts   PasswordOptions
	client *backendClient
	store  CredentialStore
}

// NewPasswordProvider builds the provider from opts.
func NewPasswordProvider(opts PasswordOptions, env *Env) (*PasswordProvider, error) {
	if opts.BaseURL == "" {
		return nil, NewAuthError(ErrCodeMissingConfiguration, "password provider requires a backend BaseURL", "password")
	}
	opts.ensureDefaults()
	return &PasswordProvider{
		opts:   opts,
		client: newBackendClient(opts.BaseURL, env.HTTPClient),
		store:  env.Store,
	}, nil
}

func (p *PasswordProvider) Name() string { return "password" }

func (p *PasswordProvider) SignIn(ctx context.Context, opts *SignInOptions) (*SignInResult, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "email and password required", "password")
	}
	env, err := p.client.post(ctx, p.opts.SignInPath, map[string]string{
		"email":    opts.Username,
		"password": opts.Password,
	}, "password")
	if err != nil {
		return nil, err
	}
	return p.adopt(env)
}

// SignUp registers a new account with the backend and returns a signed-in
// result for it.
func (p *PasswordProvider) SignUp(ctx context.Context, email, password, displayName string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "email and password required", "password")
	}
	env, err := p.client.post(ctx, p.opts.SignUpPath, map[string]string{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, "password")
	if err != nil {
		return nil, err
	}
	return p.adopt(env)
}

func (p *PasswordProvider) SignOut(ctx context.Context) error {
	cred, ok, _ := LoadCredential(p.store, "password")
	ClearProviderKeys(p.store, "password")
	if !ok || !cred.HasRefreshToken() {
		return nil
	}
	// Best-effort server-side revocation.
	_, err := p.client.post(ctx, p.opts.SignOutPath, map[string]string{
		"refresh_token": cred.RefreshToken,
	}, "password")
	return err
}

func (p *PasswordProvider) Refresh(ctx context.Context) (*SignInResult, error) {
	cred, ok, err := LoadCredential(p.store, "password")
	if err != nil {
		return nil, err
	}
	if !ok || !cred.HasRefreshToken() {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no refresh token available", "password")
	}
	env, err := p.client.post(ctx, p.opts.RefreshPath, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
	}, "password")
	if err != nil {
		return nil, err
	}
	res, err := p.adopt(env)
	if err != nil {
		return nil, err
	}
	// Backends that rotate refresh tokens return a new one; keep the old
	// token when they do not.
	if res.Credential.RefreshToken == "" {
		res.Credential.RefreshToken = cred.RefreshToken
		if err := SaveCredential(p.store, "password", res.Credential); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (p *PasswordProvider) adopt(env *authEnvelope) (*SignInResult, error) {
	res, err := env.result("password")
	if err != nil {
		return nil, err
	}
	if err := SaveCredential(p.store, "password", res.Credential); err != nil {
		return nil, err
	}
	return res, nil
}
