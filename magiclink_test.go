package anyauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type magicBackend struct {
	mux         http.ServeMux
	verifyCode  int
	lastVerify  atomic.Value // map[string]string
	requestSent atomic.Int32
}

func newMagicBackend(t *testing.T) (*magicBackend, *httptest.Server) {
	t.Helper()
	b := &magicBackend{verifyCode: http.StatusOK}
	b.mux.HandleFunc("/auth/magic-link/request", func(w http.ResponseWriter, r *http.Request) {
		b.requestSent.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	b.mux.HandleFunc("/auth/magic-link/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		b.lastVerify.Store(body)
		if b.verifyCode != http.StatusOK {
			w.WriteHeader(b.verifyCode)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid_token"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user":          map[string]any{"uid": "u-9", "email": body["email"]},
			"access_token":  "ml-at",
			"refresh_token": "ml-rt",
			"expires_in":    3600,
		})
	})
	srv := httptest.NewServer(&b.mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func newMagicLinkProvider(t *testing.T, baseURL string, ttl time.Duration) (*MagicLinkProvider, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore("test")
	p, err := NewMagicLinkProvider(MagicLinkOptions{BaseURL: baseURL, TTL: ttl}, &Env{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	return p, store
}

func TestMagicLinkFlow(t *testing.T) {
	backend, srv := newMagicBackend(t)
	p, store := newMagicLinkProvider(t, srv.URL, 0)
	ctx := context.Background()

	pending, err := p.Start(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if pending.SessionID == "" || pending.Target != "alice@example.com" {
		t.Errorf("pending = %+v", pending)
	}
	if backend.requestSent.Load() != 1 {
		t.Errorf("request calls = %d, want 1", backend.requestSent.Load())
	}

	res, err := p.SignIn(ctx, &SignInOptions{Code: "token-from-email"})
	if err != nil {
		t.Fatal(err)
	}
	if res.User.UID != "u-9" {
		t.Errorf("user = %+v", res.User)
	}

	verify, _ := backend.lastVerify.Load().(map[string]string)
	if verify["email"] != "alice@example.com" || verify["token"] != "token-from-email" || verify["session_id"] != pending.SessionID {
		t.Errorf("verify request = %v", verify)
	}

	// Success consumes the pending session and persists the credential.
	if _, ok, _ := store.Get(PendingVerificationKey("magic-link")); ok {
		t.Error("pending session survived success")
	}
	if _, ok, _ := store.Get(CredentialKey("magic-link")); !ok {
		t.Error("credential not persisted")
	}
}

func TestMagicLinkSignInWithoutStart(t *testing.T) {
	_, srv := newMagicBackend(t)
	p, _ := newMagicLinkProvider(t, srv.URL, 0)
	ctx := context.Background()

	if _, err := p.SignIn(ctx, &SignInOptions{}); !IsCode(err, ErrCodeInvalidCredentials) {
		t.Errorf("missing token err = %v, want InvalidCredentials", err)
	}
	if _, err := p.SignIn(ctx, &SignInOptions{Code: "tok"}); !IsCode(err, ErrCodeNoAuthSession) {
		t.Errorf("no pending err = %v, want NoAuthSession", err)
	}
}

func TestMagicLinkExpiry(t *testing.T) {
	_, srv := newMagicBackend(t)
	p, store := newMagicLinkProvider(t, srv.URL, time.Millisecond)
	ctx := context.Background()

	if _, err := p.Start(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := p.SignIn(ctx, &SignInOptions{Code: "tok"}); !IsCode(err, ErrCodeTokenExpired) {
		t.Errorf("expired link err = %v, want TokenExpired", err)
	}
	// Expiry consumes the pending session.
	if _, ok, _ := store.Get(PendingVerificationKey("magic-link")); ok {
		t.Error("expired pending session was not cleared")
	}
}

func TestMagicLinkRejectedToken(t *testing.T) {
	backend, srv := newMagicBackend(t)
	p, _ := newMagicLinkProvider(t, srv.URL, 0)
	ctx := context.Background()

	if _, err := p.Start(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	backend.verifyCode = http.StatusUnauthorized
	if _, err := p.SignIn(ctx, &SignInOptions{Code: "wrong"}); !IsCode(err, ErrCodeInvalidCredentials) {
		t.Errorf("rejected token err = %v, want InvalidCredentials", err)
	}
}

func TestMagicLinkStartRequiresEmail(t *testing.T) {
	_, srv := newMagicBackend(t)
	p, _ := newMagicLinkProvider(t, srv.URL, 0)
	if _, err := p.Start(context.Background(), ""); !IsCode(err, ErrCodeInvalidCredentials) {
		t.Errorf("err = %v, want InvalidCredentials", err)
	}
}
