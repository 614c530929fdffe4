package anyauth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const defaultMinPasswordLength = 8

// LocalUser is a username/password account held by the local provider.
// PasswordHash is a bcrypt hash; use HashPassword to produce one.
type LocalUser struct {
	UID          string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
}

// LocalOptions configures the embedded username/password provider. Users
// may be seeded up front or created at runtime with SignUp when
// AllowSignUp is set.
type LocalOptions struct {
	Users             []LocalUser
	AllowSignUp       bool
	MinPasswordLength int
}

func (LocalOptions) Provider() string { return "local" }

// LocalProvider authenticates against an in-process account table with
// bcrypt password verification. It needs no network and suits tools that
// gate features behind a device-local login.
type LocalProvider struct {
	mu          sync.Mutex
	users       map[string]LocalUser
	allowSignUp bool
	minPassword int
	store       CredentialStore
}

// NewLocalProvider builds the provider from opts.
func NewLocalProvider(opts LocalOptions, env *Env) (*LocalProvider, error) {
	p := &LocalProvider{
		users:       make(map[string]LocalUser, len(opts.Users)),
		allowSignUp: opts.AllowSignUp,
		minPassword: opts.MinPasswordLength,
		store:       env.Store,
	}
	if p.minPassword <= 0 {
		p.minPassword = defaultMinPasswordLength
	}
	for _, u := range opts.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, NewAuthError(ErrCodeMissingConfiguration,
				"local users need a username and a password hash", "local")
		}
		p.users[strings.ToLower(u.Username)] = u
	}
	return p, nil
}

func (p *LocalProvider) Name() string { return "local" }

// SignIn verifies opts.Username/opts.Password against the account table.
func (p *LocalProvider) SignIn(ctx context.Context, opts *SignInOptions) (*SignInResult, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "username and password required", "local")
	}

	p.mu.Lock()
	u, ok := p.users[strings.ToLower(opts.Username)]
	p.mu.Unlock()
	if !ok {
		// Burn a comparison anyway so lookups and mismatches take the
		// same time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$00000000000000000000000000000000000000000000000000000"), []byte(opts.Password))
		return nil, NewAuthError(ErrCodeInvalidCredentials, "invalid username or password", "local")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(opts.Password)); err != nil {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "invalid username or password", "local")
	}

	res := &SignInResult{
		User: &AuthUser{
			UID:         u.UID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			ProviderData: []ProviderData{{
				ProviderID:  "local",
				UID:         u.UID,
				Email:       u.Email,
				DisplayName: u.DisplayName,
			}},
			Metadata: UserMetadata{LastSignInTime: nowMillis()},
		},
		Credential: &AuthCredential{
			AccessToken: randomToken(),
			TokenType:   "Bearer",
		},
	}
	p.rememberUser(res.User)
	return res, nil
}

// SignUp creates a new account and returns a signed-in result for it.
// Requires AllowSignUp.
func (p *LocalProvider) SignUp(ctx context.Context, user LocalUser, password string) (*SignInResult, error) {
	if !p.allowSignUp {
		return nil, NewAuthError(ErrCodeMissingConfiguration, "sign-up is disabled for the local provider", "local")
	}
	if user.Username == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "username required", "local")
	}
	if len(password) < p.minPassword {
		return nil, NewAuthError(ErrCodeInvalidCredentials,
			fmt.Sprintf("password must be at least %d characters", p.minPassword), "local")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, WrapAuthError(ErrCodeInternalError, "failed to hash password", "local", err)
	}
	user.PasswordHash = hash
	if user.UID == "" {
		user.UID = "local:" + strings.ToLower(user.Username)
	}

	key := strings.ToLower(user.Username)
	p.mu.Lock()
	if _, exists := p.users[key]; exists {
		p.mu.Unlock()
		return nil, NewAuthError(ErrCodeInvalidCredentials, "username already taken", "local")
	}
	p.users[key] = user
	p.mu.Unlock()

	return p.SignIn(ctx, &SignInOptions{Username: user.Username, Password: password})
}

// SignOut drops the remembered user record.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.Remove(UserKey("local"))
}

// Refresh re-issues an opaque session token for the remembered user.
// Local sessions carry no server-side expiry, so this only fails when no
// one is signed in.
func (p *LocalProvider) Refresh(ctx context.Context) (*SignInResult, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		User:       user,
		Credential: &AuthCredential{AccessToken: randomToken(), TokenType: "Bearer"},
	}, nil
}

// CurrentUser reports the remembered session, if any.
func (p *LocalProvider) CurrentUser(ctx context.Context) (*SignInResult, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		User:       user,
		Credential: &AuthCredential{AccessToken: randomToken(), TokenType: "Bearer"},
	}, nil
}

func (p *LocalProvider) rememberUser(user *AuthUser) {
	if p.store == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	_ = p.store.Set(UserKey("local"), string(data))
}

func (p *LocalProvider) currentUser() (*AuthUser, error) {
	if p.store == nil {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no local session", "local")
	}
	raw, ok, err := p.store.Get(UserKey("local"))
	if err != nil || !ok {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no local session", "local")
	}
	var user AuthUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		_ = p.store.Remove(UserKey("local"))
		return nil, WrapAuthError(ErrCodeNoAuthSession, "corrupt local session record", "local", err)
	}
	return &user, nil
}

// HashPassword bcrypt-hashes a password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
