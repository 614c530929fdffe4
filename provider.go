package anyauth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Provider is the contract every authentication provider implements, web
// or native. Providers perform their flow and return results; they never
// touch the shared AuthState — the manager applies results.
type Provider interface {
	// Name returns the registry name ("google", "password", ...).
	Name() string

	// SignIn runs the provider's full authentication flow.
	SignIn(ctx context.Context, opts *SignInOptions) (*SignInResult, error)

	// SignOut ends the provider session. Remote revocation is best
	// effort; local cleanup must succeed regardless.
	SignOut(ctx context.Context) error

	// Refresh renews the stored credential. A failure must leave the
	// existing session untouched; the caller decides what to do.
	Refresh(ctx context.Context) (*SignInResult, error)
}

// Initializer is implemented by providers needing one-time setup after
// construction. The registry calls it before caching the instance.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Disposer is implemented by providers holding resources. The registry
// calls it on ClearProvider/ClearAll.
type Disposer interface {
	Dispose() error
}

// SessionValidator is implemented by providers that can revalidate a
// restored session against the live backend. The manager calls it during
// Initialize before trusting persisted state.
type SessionValidator interface {
	CurrentUser(ctx context.Context) (*SignInResult, error)
}

// SignInOptions carries the caller-supplied knobs for one sign-in attempt.
// All fields are optional; providers ignore what they do not understand.
type SignInOptions struct {
	// Scopes are merged with the provider's statically configured scopes.
	Scopes []string

	// LoginHint pre-fills the provider's account chooser.
	LoginHint string

	// Prompt is passed through verbatim ("consent", "select_account", ...).
	Prompt string

	// Params are extra authorization parameters, passed through verbatim.
	Params map[string]string

	// Username/Password/Target feed the non-OAuth providers (password,
	// magic link, SMS).
	Username string
	Password string
	Target   string

	// Code completes a pending two-step verification.
	Code string

	// SessionID identifies the pending verification being completed.
	SessionID string
}

// SignOutOptions selects which provider to sign out of.
type SignOutOptions struct {
	// Provider is the target; empty means the currently signed-in one.
	Provider string
}

// Env is the environment handed to provider loaders: the shared namespaced
// store, the manager's logger and the HTTP client to use for remote calls.
type Env struct {
	Store      CredentialStore
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Loader constructs a provider from its typed options.
type Loader func(opts ProviderOptions, env *Env) (Provider, error)
