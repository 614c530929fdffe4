// Package oauth2 implements the authorization-code flow shared by the
// hosted OAuth/OIDC providers. An Engine owns one provider's oauth2
// configuration and the transient state/nonce records the flow needs; an
// Authorizer supplies the user-interaction half (loopback browser flow,
// or a channel fed by an embedding application).
package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/anyauthdev/anyauth"
)

// Options is the provider-independent configuration for one Engine.
// Google/GitHub wrappers fill in endpoint specifics.
type Options struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint

	// UserInfoURL is fetched with the access token when the provider
	// issues no ID token (GitHub) or the ID token lacks profile claims.
	UserInfoURL string

	// RevokeURL, when set, receives a best-effort revocation on sign-out.
	RevokeURL string

	// AuthCodeParams are extra query parameters for the authorization
	// URL, e.g. access_type=offline.
	AuthCodeParams map[string]string

	// Authorizer drives the interactive half of SignIn. Defaults to a
	// LoopbackAuthorizer on the RedirectURL's port.
	Authorizer Authorizer

	// UsePKCE adds an S256 code challenge to the flow.
	UsePKCE bool
}

func (o Options) Provider() string { return o.Name }

// Handshake is one in-progress authorization attempt. The caller sends
// the user to AuthURL and returns the provider's callback values to
// Finish.
type Handshake struct {
	AuthURL string
	State   string
	Nonce   string
}

// Callback carries the values a provider appends to the redirect URI.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Engine runs the authorization-code flow for one provider and persists
// the resulting session under the provider's store keys.
type Engine struct {
	name        string
	cfg         oauth2.Config
	userInfoURL string
	revokeURL   string
	extraParams map[string]string
	usePKCE     bool

	store      anyauth.CredentialStore
	logger     *zap.Logger
	httpClient *http.Client
	authorizer Authorizer
}

// NewEngine builds an Engine from opts and the shared provider
// environment.
func NewEngine(opts Options, env *anyauth.Env) (*Engine, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("oauth2: provider name required")
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeMissingConfiguration,
			"client id and client secret required", opts.Name)
	}
	if opts.RedirectURL == "" {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeMissingConfiguration,
			"redirect URL required", opts.Name)
	}

	e := &Engine{
		name: opts.Name,
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint:     opts.Endpoint,
		},
		userInfoURL: opts.UserInfoURL,
		revokeURL:   opts.RevokeURL,
		extraParams: opts.AuthCodeParams,
		usePKCE:     opts.UsePKCE,
		store:       env.Store,
		logger:      env.Logger,
		httpClient:  env.HTTPClient,
		authorizer:  opts.Authorizer,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if e.authorizer == nil {
		a, err := NewLoopbackAuthorizer(opts.RedirectURL)
		if err != nil {
			return nil, err
		}
		e.authorizer = a
	}
	return e, nil
}

func (e *Engine) Name() string { return e.name }

// Begin starts a handshake: it mints fresh state and nonce values,
// persists them as transient records and returns the authorization URL.
// Every call produces distinct values; an unfinished earlier handshake is
// superseded.
func (e *Engine) Begin(ctx context.Context, scopes []string) (*Handshake, error) {
	state := randomState()
	nonce := randomState()

	if err := e.store.Set(anyauth.OAuthStateKey(e.name), state); err != nil {
		return nil, fmt.Errorf("failed to persist oauth state: %w", err)
	}
	if err := e.store.Set(anyauth.OAuthNonceKey(e.name), nonce); err != nil {
		return nil, fmt.Errorf("failed to persist oauth nonce: %w", err)
	}

	cfg := e.cfg
	if len(scopes) > 0 {
		cfg.Scopes = anyauth.MergeScopes(e.cfg.Scopes, scopes)
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	for k, v := range e.extraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if e.usePKCE {
		verifier := oauth2.GenerateVerifier()
		if err := e.store.Set(verifierKey(e.name), verifier); err != nil {
			return nil, fmt.Errorf("failed to persist pkce verifier: %w", err)
		}
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	return &Handshake{
		AuthURL: cfg.AuthCodeURL(state, opts...),
		State:   state,
		Nonce:   nonce,
	}, nil
}

// Finish validates the callback against the pending handshake, exchanges
// the code and builds the session. The transient state, nonce and
// verifier records are removed no matter how Finish exits.
func (e *Engine) Finish(ctx context.Context, cb *Callback) (*anyauth.SignInResult, error) {
	defer e.clearTransients()

	if cb.Error != "" {
		return nil, mapProviderError(e.name, cb.Error, cb.ErrorDescription)
	}

	wantState, ok, err := e.store.Get(anyauth.OAuthStateKey(e.name))
	if err != nil || !ok {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeInvalidState,
			"no authorization attempt is pending", e.name)
	}
	if cb.State == "" || cb.State != wantState {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeInvalidState,
			"state mismatch, possible request forgery", e.name)
	}
	if cb.Code == "" {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeInvalidState,
			"callback carried no authorization code", e.name)
	}

	var exchangeOpts []oauth2.AuthCodeOption
	if e.usePKCE {
		if verifier, ok, _ := e.store.Get(verifierKey(e.name)); ok {
			exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
		}
	}

	token, err := e.cfg.Exchange(e.httpContext(ctx), cb.Code, exchangeOpts...)
	if err != nil {
		return nil, mapExchangeError(e.name, err)
	}

	cred := credentialFromToken(token)
	user, err := e.userFromToken(ctx, token, cred)
	if err != nil {
		return nil, err
	}

	res := &anyauth.SignInResult{User: user, Credential: cred}
	e.persistSession(res)
	return res, nil
}

// SignIn runs the full interactive flow: Begin, hand the URL to the
// authorizer, Finish with whatever the callback delivered.
func (e *Engine) SignIn(ctx context.Context, opts *anyauth.SignInOptions) (*anyauth.SignInResult, error) {
	hs, err := e.Begin(ctx, opts.Scopes)
	if err != nil {
		return nil, err
	}

	cb, err := e.authorizer.Authorize(ctx, hs)
	if err != nil {
		e.clearTransients()
		return nil, anyauth.Classify(e.name, err)
	}
	return e.Finish(ctx, cb)
}

// SignOut revokes the tokens when a revocation endpoint is known, then
// clears every persisted record for the provider. Revocation failures do
// not stop the local cleanup.
func (e *Engine) SignOut(ctx context.Context) error {
	cred, ok, _ := anyauth.LoadCredential(e.store, e.name)
	anyauth.ClearProviderKeys(e.store, e.name)

	if !ok || e.revokeURL == "" {
		return nil
	}
	token := cred.RefreshToken
	hint := "refresh_token"
	if token == "" {
		token = cred.AccessToken
		hint = "access_token"
	}
	if token == "" {
		return nil
	}

	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.cfg.ClientID, e.cfg.ClientSecret)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("token revocation failed", zap.String("provider", e.name), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		e.logger.Warn("token revocation rejected",
			zap.String("provider", e.name), zap.Int("status", resp.StatusCode))
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new access token. The
// stored user is kept; providers that rotate refresh tokens get the new
// one persisted, otherwise the old token survives.
func (e *Engine) Refresh(ctx context.Context) (*anyauth.SignInResult, error) {
	cred, ok, err := anyauth.LoadCredential(e.store, e.name)
	if err != nil {
		return nil, err
	}
	if !ok || !cred.HasRefreshToken() {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeNoAuthSession,
			"no refresh token available", e.name)
	}

	src := e.cfg.TokenSource(e.httpContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, mapExchangeError(e.name, err)
	}

	next := credentialFromToken(token)
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	user, _ := e.loadUser()
	if user == nil {
		user, err = e.userFromToken(ctx, token, next)
		if err != nil {
			return nil, err
		}
	}

	res := &anyauth.SignInResult{User: user, Credential: next}
	e.persistSession(res)
	return res, nil
}

// CurrentUser reports the persisted session if it is still usable:
// either the access token has not expired, or a refresh token can renew
// it.
func (e *Engine) CurrentUser(ctx context.Context) (*anyauth.SignInResult, error) {
	user, err := e.loadUser()
	if err != nil || user == nil {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeNoAuthSession, "no stored session", e.name)
	}
	cred, ok, err := anyauth.LoadCredential(e.store, e.name)
	if err != nil || !ok {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeNoAuthSession, "no stored credential", e.name)
	}
	if cred.IsExpired() {
		if !cred.HasRefreshToken() {
			return nil, anyauth.NewAuthError(anyauth.ErrCodeTokenExpired, "stored session expired", e.name)
		}
		return e.Refresh(ctx)
	}
	return &anyauth.SignInResult{User: user, Credential: cred}, nil
}

// httpContext threads the engine's HTTP client into the oauth2 package.
func (e *Engine) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

func (e *Engine) clearTransients() {
	_ = e.store.Remove(anyauth.OAuthStateKey(e.name))
	_ = e.store.Remove(anyauth.OAuthNonceKey(e.name))
	_ = e.store.Remove(verifierKey(e.name))
}

func (e *Engine) persistSession(res *anyauth.SignInResult) {
	if err := anyauth.SaveCredential(e.store, e.name, res.Credential); err != nil {
		e.logger.Warn("failed to persist credential", zap.String("provider", e.name), zap.Error(err))
	}
	if data, err := json.Marshal(res.User); err == nil {
		if err := e.store.Set(anyauth.UserKey(e.name), string(data)); err != nil {
			e.logger.Warn("failed to persist user", zap.String("provider", e.name), zap.Error(err))
		}
	}
}

func (e *Engine) loadUser() (*anyauth.AuthUser, error) {
	raw, ok, err := e.store.Get(anyauth.UserKey(e.name))
	if err != nil || !ok {
		return nil, err
	}
	var user anyauth.AuthUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		_ = e.store.Remove(anyauth.UserKey(e.name))
		return nil, nil
	}
	return &user, nil
}

// userFromToken builds the AuthUser for a fresh token: ID-token claims
// when present (with the nonce checked against the pending handshake),
// otherwise the userinfo endpoint. ID tokens are decoded without
// signature verification; only a server that receives the token may
// treat its claims as proof of anything.
func (e *Engine) userFromToken(ctx context.Context, token *oauth2.Token, cred *anyauth.AuthCredential) (*anyauth.AuthUser, error) {
	if cred.IDToken != "" {
		claims, err := decodeIDClaims(cred.IDToken)
		if err != nil {
			return nil, anyauth.WrapAuthError(anyauth.ErrCodeServerError,
				"provider returned a malformed id token", e.name, err)
		}
		if wantNonce, ok, _ := e.store.Get(anyauth.OAuthNonceKey(e.name)); ok && wantNonce != "" {
			if claims.Nonce != wantNonce {
				return nil, anyauth.NewAuthError(anyauth.ErrCodeInvalidNonce,
					"id token nonce mismatch, possible replay", e.name)
			}
		}
		if claims.Subject != "" {
			return claims.authUser(e.name), nil
		}
	}

	if e.userInfoURL == "" {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeServerError,
			"provider returned no identity", e.name)
	}
	return e.fetchUserInfo(ctx, token.AccessToken)
}

// idClaims is the subset of OIDC ID-token claims the session needs.
type idClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
	jwt.RegisteredClaims
}

func (c *idClaims) authUser(provider string) *anyauth.AuthUser {
	return &anyauth.AuthUser{
		UID:         provider + ":" + c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		PhotoURL:    c.Picture,
		ProviderData: []anyauth.ProviderData{{
			ProviderID:  provider,
			UID:         c.Subject,
			Email:       c.Email,
			DisplayName: c.Name,
			PhotoURL:    c.Picture,
		}},
		Metadata: anyauth.UserMetadata{LastSignInTime: time.Now().UnixMilli()},
	}
}

func decodeIDClaims(idToken string) (*idClaims, error) {
	var claims idClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// userInfoPayload covers the common OIDC userinfo shape plus GitHub's
// /user response.
type userInfoPayload struct {
	Sub       string `json:"sub"`
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Picture   string `json:"picture"`
	AvatarURL string `json:"avatar_url"`
}

func (e *Engine) fetchUserInfo(ctx context.Context, accessToken string) (*anyauth.AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userInfoURL, nil)
	if err != nil {
		return nil, anyauth.WrapAuthError(anyauth.ErrCodeInternalError, "failed to build userinfo request", e.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, anyauth.Classify(e.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, anyauth.WrapAuthError(anyauth.ErrCodeNetworkError, "failed to read userinfo response", e.name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeServerError,
			fmt.Sprintf("userinfo endpoint returned status %d", resp.StatusCode), e.name)
	}

	var info userInfoPayload
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, anyauth.WrapAuthError(anyauth.ErrCodeServerError, "malformed userinfo response", e.name, err)
	}

	uid := info.Sub
	if uid == "" && info.ID != 0 {
		uid = fmt.Sprintf("%d", info.ID)
	}
	if uid == "" {
		uid = info.Login
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	photo := info.Picture
	if photo == "" {
		photo = info.AvatarURL
	}

	return &anyauth.AuthUser{
		UID:         e.name + ":" + uid,
		Email:       info.Email,
		DisplayName: name,
		PhotoURL:    photo,
		ProviderData: []anyauth.ProviderData{{
			ProviderID:  e.name,
			UID:         uid,
			Email:       info.Email,
			DisplayName: name,
			PhotoURL:    photo,
		}},
		Metadata: anyauth.UserMetadata{LastSignInTime: time.Now().UnixMilli()},
	}, nil
}

func credentialFromToken(token *oauth2.Token) *anyauth.AuthCredential {
	cred := &anyauth.AuthCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		cred.ExpiresAt = token.Expiry.UnixMilli()
	}
	if idt, ok := token.Extra("id_token").(string); ok {
		cred.IDToken = idt
	}
	if scope, ok := token.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	return cred
}

// mapProviderError translates the OAuth error vocabulary carried on
// callbacks into the shared taxonomy.
func mapProviderError(provider, code, description string) error {
	msg := description
	if msg == "" {
		msg = "provider returned error " + code
	}
	authCode := anyauth.ErrCodeServerError
	switch code {
	case "access_denied":
		authCode = anyauth.ErrCodeUserCancelled
	case "invalid_grant":
		authCode = anyauth.ErrCodeInvalidGrant
	case "invalid_client", "unauthorized_client":
		authCode = anyauth.ErrCodeInvalidCredentials
	case "temporarily_unavailable":
		authCode = anyauth.ErrCodeTemporarilyUnavailable
	case "interaction_required", "login_required", "consent_required", "account_selection_required":
		authCode = anyauth.ErrCodeInteractionRequired
	case "server_error":
		authCode = anyauth.ErrCodeServerError
	case "invalid_request", "invalid_scope", "unsupported_response_type":
		authCode = anyauth.ErrCodeInternalError
	}
	return anyauth.NewAuthError(authCode, msg, provider)
}

// mapExchangeError translates token-endpoint failures, unwrapping the
// oauth2 package's RetrieveError for the provider's error code.
func mapExchangeError(provider string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		code := retrieve.ErrorCode
		desc := retrieve.ErrorDescription
		if code != "" {
			return mapProviderError(provider, code, desc)
		}
		if retrieve.Response != nil && retrieve.Response.StatusCode >= 500 {
			return anyauth.WrapAuthError(anyauth.ErrCodeServerError,
				"token endpoint failed", provider, err)
		}
		return anyauth.WrapAuthError(anyauth.ErrCodeInvalidGrant,
			"token exchange rejected", provider, err)
	}
	return anyauth.Classify(provider, err)
}
