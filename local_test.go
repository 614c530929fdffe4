package anyauth

import (
	"context"
	"testing"
)

func newLocalProvider(t *testing.T, opts LocalOptions) (*LocalProvider, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore("test")
	p, err := NewLocalProvider(opts, &Env{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	return p, store
}

func seededUser(t *testing.T, password string) LocalUser {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	return LocalUser{
		UID:          "local:alice",
		Username:     "Alice",
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: hash,
	}
}

func TestLocalSignIn(t *testing.T) {
	p, store := newLocalProvider(t, LocalOptions{Users: []LocalUser{seededUser(t, "hunter2hunter2")}})
	ctx := context.Background()

	res, err := p.SignIn(ctx, &SignInOptions{Username: "alice", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.User.UID != "local:alice" || res.User.Email != "alice@example.com" {
		t.Errorf("user = %+v", res.User)
	}
	if res.Credential.AccessToken == "" || res.Credential.TokenType != "Bearer" {
		t.Errorf("credential = %+v", res.Credential)
	}
	if res.Credential.ExpiresAt != 0 {
		t.Error("local sessions should not carry an expiry")
	}
	if _, ok, _ := store.Get(UserKey("local")); !ok {
		t.Error("sign-in did not remember the user")
	}
}

func TestLocalSignInUsernameCaseInsensitive(t *testing.T) {
	p, _ := newLocalProvider(t, LocalOptions{Users: []LocalUser{seededUser(t, "hunter2hunter2")}})
	if _, err := p.SignIn(context.Background(), &SignInOptions{Username: "ALICE", Password: "hunter2hunter2"}); err != nil {
		t.Errorf("case-folded username rejected: %v", err)
	}
}

func TestLocalSignInRejectsBadCredentials(t *testing.T) {
	p, _ := newLocalProvider(t, LocalOptions{Users: []LocalUser{seededUser(t, "hunter2hunter2")}})
	ctx := context.Background()

	cases := []struct {
		name string
		opts *SignInOptions
	}{
		{"wrong password", &SignInOptions{Username: "alice", Password: "wrong"}},
		{"unknown user", &SignInOptions{Username: "mallory", Password: "hunter2hunter2"}},
		{"empty password", &SignInOptions{Username: "alice"}},
		{"empty username", &SignInOptions{Password: "hunter2hunter2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.SignIn(ctx, tc.opts); !IsCode(err, ErrCodeInvalidCredentials) {
				t.Errorf("err = %v, want InvalidCredentials", err)
			}
		})
	}
}

func TestLocalSignUp(t *testing.T) {
	p, _ := newLocalProvider(t, LocalOptions{AllowSignUp: true})
	ctx := context.Background()

	res, err := p.SignUp(ctx, LocalUser{Username: "Bob", Email: "bob@example.com"}, "correcthorse")
	if err != nil {
		t.Fatal(err)
	}
	if res.User.UID != "local:bob" {
		t.Errorf("uid = %q, want derived local:bob", res.User.UID)
	}

	// The new account can sign in.
	if _, err := p.SignIn(ctx, &SignInOptions{Username: "bob", Password: "correcthorse"}); err != nil {
		t.Errorf("sign-in after sign-up failed: %v", err)
	}

	// Duplicate usernames are rejected.
	if _, err := p.SignUp(ctx, LocalUser{Username: "bob"}, "correcthorse"); !IsCode(err, ErrCodeInvalidCredentials) {
		t.Errorf("duplicate sign-up err = %v, want InvalidCredentials", err)
	}
}

func TestLocalSignUpPolicy(t *testing.T) {
	disabled, _ := newLocalProvider(t, LocalOptions{})
	if _, err := disabled.SignUp(context.Background(), LocalUser{Username: "x"}, "correcthorse"); !IsCode(err, ErrCodeMissingConfiguration) {
		t.Errorf("sign-up while disabled err = %v, want MissingConfiguration", err)
	}

	p, _ := newLocalProvider(t, LocalOptions{AllowSignUp: true, MinPasswordLength: 12})
	if _, err := p.SignUp(context.Background(), LocalUser{Username: "x"}, "short"); !IsCode(err, ErrCodeInvalidCredentials) {
		t.Errorf("short password err = %v, want InvalidCredentials", err)
	}
}

func TestLocalRefreshAndCurrentUser(t *testing.T) {
	p, _ := newLocalProvider(t, LocalOptions{Users: []LocalUser{seededUser(t, "hunter2hunter2")}})
	ctx := context.Background()

	if _, err := p.Refresh(ctx); !IsCode(err, ErrCodeNoAuthSession) {
		t.Errorf("refresh without session err = %v, want NoAuthSession", err)
	}

	first, err := p.SignIn(ctx, &SignInOptions{Username: "alice", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.User.UID != "local:alice" {
		t.Errorf("refreshed user = %+v", refreshed.User)
	}
	if refreshed.Credential.AccessToken == first.Credential.AccessToken {
		t.Error("refresh should issue a new session token")
	}

	current, err := p.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if current.User.UID != "local:alice" {
		t.Errorf("current user = %+v", current.User)
	}
}

func TestLocalSignOutForgetsSession(t *testing.T) {
	p, store := newLocalProvider(t, LocalOptions{Users: []LocalUser{seededUser(t, "hunter2hunter2")}})
	ctx := context.Background()

	if _, err := p.SignIn(ctx, &SignInOptions{Username: "alice", Password: "hunter2hunter2"}); err != nil {
		t.Fatal(err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(UserKey("local")); ok {
		t.Error("sign-out left the remembered user behind")
	}
	if _, err := p.Refresh(ctx); !IsCode(err, ErrCodeNoAuthSession) {
		t.Errorf("refresh after sign-out err = %v, want NoAuthSession", err)
	}
}

func TestLocalSeedValidation(t *testing.T) {
	_, err := NewLocalProvider(LocalOptions{Users: []LocalUser{{Username: "nohash"}}}, &Env{})
	if !IsCode(err, ErrCodeMissingConfiguration) {
		t.Errorf("seed without hash err = %v, want MissingConfiguration", err)
	}
}
