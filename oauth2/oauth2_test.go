package oauth2_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anyauthdev/anyauth"
	"github.com/anyauthdev/anyauth/oauth2"
	oauth2lib "golang.org/x/oauth2"
)

// mockProvider serves the token and userinfo endpoints of an OAuth
// provider with configurable responses.
type mockProvider struct {
	server *httptest.Server

	tokenResponse    map[string]any
	tokenStatus      int
	userInfoResponse map[string]any
	revokeStatus     int

	tokenCalls  atomic.Int64
	revokeCalls atomic.Int64
}

func newMockProvider() *mockProvider {
	mock := &mockProvider{
		tokenResponse: map[string]any{
			"access_token":  "mock_access_token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "mock_refresh_token",
		},
		tokenStatus: http.StatusOK,
		userInfoResponse: map[string]any{
			"sub":     "12345",
			"email":   "testuser@example.com",
			"name":    "Test User",
			"picture": "https://example.com/avatar.png",
		},
		revokeStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		mock.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(mock.tokenStatus)
		json.NewEncoder(w).Encode(mock.tokenResponse)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		mock.revokeCalls.Add(1)
		w.WriteHeader(mock.revokeStatus)
	})

	mock.server = httptest.NewServer(mux)
	return mock
}

func (m *mockProvider) close() { m.server.Close() }

func (m *mockProvider) engine(t *testing.T, store anyauth.CredentialStore) *oauth2.Engine {
	t.Helper()
	e, err := oauth2.NewEngine(oauth2.Options{
		Name:         "mock",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:9876/callback",
		Scopes:       []string{"openid", "email"},
		Endpoint: oauth2lib.Endpoint{
			AuthURL:  m.server.URL + "/auth",
			TokenURL: m.server.URL + "/token",
		},
		UserInfoURL: m.server.URL + "/userinfo",
		RevokeURL:   m.server.URL + "/revoke",
	}, &anyauth.Env{Store: store, HTTPClient: m.server.Client()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestBeginPersistsDistinctStateAndNonce(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	first, err := engine.Begin(context.Background(), nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if first.State == "" || first.Nonce == "" {
		t.Fatal("expected non-empty state and nonce")
	}
	if first.State == first.Nonce {
		t.Fatal("state and nonce must be independent values")
	}
	if !strings.Contains(first.AuthURL, "state="+first.State) {
		t.Errorf("auth URL %q does not carry the state", first.AuthURL)
	}
	if !strings.Contains(first.AuthURL, "nonce="+first.Nonce) {
		t.Errorf("auth URL %q does not carry the nonce", first.AuthURL)
	}

	if got, ok, _ := store.Get(anyauth.OAuthStateKey("mock")); !ok || got != first.State {
		t.Errorf("persisted state = %q, want %q", got, first.State)
	}

	second, err := engine.Begin(context.Background(), nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if second.State == first.State || second.Nonce == first.Nonce {
		t.Error("consecutive handshakes must mint fresh state and nonce")
	}
}

func TestFinishRejectsStateMismatch(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	if _, err := engine.Begin(context.Background(), nil); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	_, err := engine.Finish(context.Background(), &oauth2.Callback{
		Code:  "auth-code",
		State: "forged-state",
	})
	if !anyauth.IsCode(err, anyauth.ErrCodeInvalidState) {
		t.Fatalf("err = %v, want InvalidState", err)
	}
	if n := mock.tokenCalls.Load(); n != 0 {
		t.Errorf("token endpoint hit %d times, want 0 on state mismatch", n)
	}

	// The transient records must be gone whichever way Finish exits.
	if _, ok, _ := store.Get(anyauth.OAuthStateKey("mock")); ok {
		t.Error("state record survived a failed Finish")
	}
	if _, ok, _ := store.Get(anyauth.OAuthNonceKey("mock")); ok {
		t.Error("nonce record survived a failed Finish")
	}
}

func TestFinishMapsCallbackErrors(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	cases := []struct {
		providerError string
		want          anyauth.ErrorCode
	}{
		{"access_denied", anyauth.ErrCodeUserCancelled},
		{"invalid_grant", anyauth.ErrCodeInvalidGrant},
		{"unauthorized_client", anyauth.ErrCodeInvalidCredentials},
		{"temporarily_unavailable", anyauth.ErrCodeTemporarilyUnavailable},
		{"interaction_required", anyauth.ErrCodeInteractionRequired},
		{"server_error", anyauth.ErrCodeServerError},
	}
	for _, tc := range cases {
		t.Run(tc.providerError, func(t *testing.T) {
			if _, err := engine.Begin(context.Background(), nil); err != nil {
				t.Fatalf("Begin: %v", err)
			}
			_, err := engine.Finish(context.Background(), &oauth2.Callback{Error: tc.providerError})
			if !anyauth.IsCode(err, tc.want) {
				t.Fatalf("err = %v, want code %s", err, tc.want)
			}
		})
	}
}

func TestFullFlowWithChannelAuthorizer(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	store := anyauth.NewMemoryStore("test")

	started := make(chan *oauth2.Handshake, 1)
	callbacks := make(chan *oauth2.Callback, 1)
	engine, err := oauth2.NewEngine(oauth2.Options{
		Name:         "mock",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:9876/callback",
		Endpoint: oauth2lib.Endpoint{
			AuthURL:  mock.server.URL + "/auth",
			TokenURL: mock.server.URL + "/token",
		},
		UserInfoURL: mock.server.URL + "/userinfo",
		Authorizer:  &oauth2.ChannelAuthorizer{Started: started, Callbacks: callbacks},
	}, &anyauth.Env{Store: store, HTTPClient: mock.server.Client()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	go func() {
		hs := <-started
		callbacks <- &oauth2.Callback{Code: "auth-code", State: hs.State}
	}()

	res, err := engine.SignIn(context.Background(), &anyauth.SignInOptions{})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.User.UID != "mock:12345" {
		t.Errorf("UID = %q, want mock:12345", res.User.UID)
	}
	if res.User.Email != "testuser@example.com" {
		t.Errorf("Email = %q", res.User.Email)
	}
	if res.Credential.AccessToken != "mock_access_token" {
		t.Errorf("AccessToken = %q", res.Credential.AccessToken)
	}
	if res.Credential.ExpiresAt <= time.Now().UnixMilli() {
		t.Error("expiry must be an absolute future instant in millis")
	}

	// Session records persisted under the provider's keys.
	if _, ok, _ := store.Get(anyauth.CredentialKey("mock")); !ok {
		t.Error("credential record missing after sign-in")
	}
	if _, ok, _ := store.Get(anyauth.UserKey("mock")); !ok {
		t.Error("user record missing after sign-in")
	}
	if _, ok, _ := store.Get(anyauth.OAuthStateKey("mock")); ok {
		t.Error("state record survived a completed flow")
	}
}

func TestExchangeErrorMapping(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	mock.tokenStatus = http.StatusBadRequest
	mock.tokenResponse = map[string]any{"error": "invalid_grant", "error_description": "code expired"}

	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	hs, err := engine.Begin(context.Background(), nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = engine.Finish(context.Background(), &oauth2.Callback{Code: "stale", State: hs.State})
	if !anyauth.IsCode(err, anyauth.ErrCodeInvalidGrant) {
		t.Fatalf("err = %v, want InvalidGrant", err)
	}
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	mock.tokenResponse = map[string]any{
		"access_token": "fresh_access_token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}

	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	seed := &anyauth.AuthCredential{
		AccessToken:  "stale_access_token",
		RefreshToken: "long_lived_refresh",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}
	if err := anyauth.SaveCredential(store, "mock", seed); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}

	res, err := engine.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Credential.AccessToken != "fresh_access_token" {
		t.Errorf("AccessToken = %q", res.Credential.AccessToken)
	}
	if res.Credential.RefreshToken != "long_lived_refresh" {
		t.Errorf("RefreshToken = %q, want the original preserved", res.Credential.RefreshToken)
	}

	stored, ok, err := anyauth.LoadCredential(store, "mock")
	if err != nil || !ok {
		t.Fatalf("LoadCredential: ok=%v err=%v", ok, err)
	}
	if stored.AccessToken != "fresh_access_token" {
		t.Error("refreshed credential was not persisted")
	}
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	engine := mock.engine(t, anyauth.NewMemoryStore("test"))

	_, err := engine.Refresh(context.Background())
	if !anyauth.IsCode(err, anyauth.ErrCodeNoAuthSession) {
		t.Fatalf("err = %v, want NoAuthSession", err)
	}
}

func TestSignOutClearsSessionEvenWhenRevocationFails(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	mock.revokeStatus = http.StatusInternalServerError

	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	_ = anyauth.SaveCredential(store, "mock", &anyauth.AuthCredential{
		AccessToken:  "at",
		RefreshToken: "rt",
	})
	_ = store.Set(anyauth.UserKey("mock"), `{"uid":"mock:1"}`)

	if err := engine.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if n := mock.revokeCalls.Load(); n != 1 {
		t.Errorf("revoke endpoint hit %d times, want 1", n)
	}
	if _, ok, _ := store.Get(anyauth.CredentialKey("mock")); ok {
		t.Error("credential record survived sign-out")
	}
	if _, ok, _ := store.Get(anyauth.UserKey("mock")); ok {
		t.Error("user record survived sign-out")
	}
}

func TestIDTokenNonceMismatch(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	mock.tokenResponse = map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     unsignedIDToken(t, map[string]any{"sub": "u1", "nonce": "wrong-nonce"}),
	}

	store := anyauth.NewMemoryStore("test")
	engine := mock.engine(t, store)

	hs, err := engine.Begin(context.Background(), nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = engine.Finish(context.Background(), &oauth2.Callback{Code: "c", State: hs.State})
	if !anyauth.IsCode(err, anyauth.ErrCodeInvalidNonce) {
		t.Fatalf("err = %v, want InvalidNonce", err)
	}
}

func TestAuthorizerTimeout(t *testing.T) {
	mock := newMockProvider()
	defer mock.close()
	store := anyauth.NewMemoryStore("test")

	ctx, cancel := context.WithCancel(context.Background())
	auth := &oauth2.ChannelAuthorizer{Callbacks: make(chan *oauth2.Callback)}

	engine, err := oauth2.NewEngine(oauth2.Options{
		Name:         "mock",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:9876/callback",
		Endpoint: oauth2lib.Endpoint{
			AuthURL:  mock.server.URL + "/auth",
			TokenURL: mock.server.URL + "/token",
		},
		Authorizer: auth,
	}, &anyauth.Env{Store: store, HTTPClient: mock.server.Client()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = engine.SignIn(ctx, &anyauth.SignInOptions{})
	if !anyauth.IsCode(err, anyauth.ErrCodeUserCancelled) {
		t.Fatalf("err = %v, want UserCancelled", err)
	}
	if _, ok, _ := store.Get(anyauth.OAuthStateKey("mock")); ok {
		t.Error("state record survived a cancelled flow")
	}
}

// unsignedIDToken builds a JWT-shaped token with the given claims and a
// junk signature; the engine decodes claims without verifying.
func unsignedIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}
