// Package web binds the redirect-based OAuth flow to HTTP handlers for
// server-rendered applications. The browser is sent to the provider from
// /login/{provider}; the provider redirects back to
// /callback/{provider}, which completes the flow and applies the session
// to the manager. Post-login redirect targets ride in a server-side
// session.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/anyauthdev/anyauth"
	"github.com/anyauthdev/anyauth/oauth2"
)

// redirectFlow is the half of the flow engine a redirect binding drives
// itself, instead of letting an Authorizer run interactively.
type redirectFlow interface {
	Begin(ctx context.Context, scopes []string) (*oauth2.Handshake, error)
	Finish(ctx context.Context, cb *oauth2.Callback) (*anyauth.SignInResult, error)
}

// Binding mounts login, callback and logout routes over a manager.
type Binding struct {
	Manager *anyauth.Manager

	// Session keeps per-browser flow context (pending provider, where to
	// send the user afterwards). A default manager is created when nil.
	Session *scs.SessionManager

	// DefaultRedirect is where completed logins land when the login
	// request named no target. Defaults to "/".
	DefaultRedirect string

	// AllowedRedirects whitelists absolute redirect targets. Relative
	// paths are always allowed.
	AllowedRedirects []string

	logger *zap.Logger
	router *mux.Router
}

const (
	sessionKeyProvider = "anyauth_provider"
	sessionKeyNext     = "anyauth_next"
)

// New builds a binding over manager.
func New(manager *anyauth.Manager) *Binding {
	b := &Binding{Manager: manager}
	b.EnsureDefaults()
	return b
}

// EnsureDefaults fills in unset fields.
func (b *Binding) EnsureDefaults() *Binding {
	if b.Session == nil {
		b.Session = scs.New()
		b.Session.Lifetime = 30 * time.Minute
		b.Session.Cookie.HttpOnly = true
		b.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if b.DefaultRedirect == "" {
		b.DefaultRedirect = "/"
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// WithLogger sets the binding's logger.
func (b *Binding) WithLogger(logger *zap.Logger) *Binding {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Handler returns the routed handler, wrapped in session management.
// Mount it under a prefix with http.StripPrefix when needed.
func (b *Binding) Handler() http.Handler {
	b.EnsureDefaults()
	if b.router == nil {
		r := mux.NewRouter()
		r.HandleFunc("/login/{provider}", b.handleLogin).Methods(http.MethodGet)
		r.HandleFunc("/callback/{provider}", b.handleCallback).Methods(http.MethodGet)
		r.HandleFunc("/logout", b.handleLogout).Methods(http.MethodPost)
		r.HandleFunc("/me", b.handleMe).Methods(http.MethodGet)
		b.router = r
	}
	return b.Session.LoadAndSave(b.router)
}

func (b *Binding) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	flow, err := b.flowFor(r.Context(), provider)
	if err != nil {
		b.writeError(w, err)
		return
	}

	hs, err := flow.Begin(r.Context(), nil)
	if err != nil {
		b.writeError(w, err)
		return
	}

	b.Session.Put(r.Context(), sessionKeyProvider, provider)
	if next := r.URL.Query().Get("next"); next != "" && b.redirectAllowed(next) {
		b.Session.Put(r.Context(), sessionKeyNext, next)
	}

	http.Redirect(w, r, hs.AuthURL, http.StatusFound)
}

func (b *Binding) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	// The callback must match the provider the session started with.
	if started := b.Session.GetString(r.Context(), sessionKeyProvider); started != provider {
		b.writeError(w, anyauth.NewAuthError(anyauth.ErrCodeInvalidState,
			"callback does not match the pending sign-in", provider))
		return
	}

	flow, err := b.flowFor(r.Context(), provider)
	if err != nil {
		b.writeError(w, err)
		return
	}

	q := r.URL.Query()
	res, err := flow.Finish(r.Context(), &oauth2.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		b.logger.Warn("sign-in failed",
			zap.String("provider", provider),
			zap.String("code", string(anyauth.CodeOf(err))))
		b.writeError(w, err)
		return
	}

	if err := b.Manager.CompleteSignIn(provider, res); err != nil {
		b.writeError(w, err)
		return
	}

	next := b.Session.PopString(r.Context(), sessionKeyNext)
	b.Session.Remove(r.Context(), sessionKeyProvider)
	if next == "" || !b.redirectAllowed(next) {
		next = b.DefaultRedirect
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (b *Binding) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := b.Manager.SignOut(r.Context(), nil); err != nil {
		b.writeError(w, err)
		return
	}
	_ = b.Session.Destroy(r.Context())
	http.Redirect(w, r, b.DefaultRedirect, http.StatusFound)
}

func (b *Binding) handleMe(w http.ResponseWriter, r *http.Request) {
	state := b.Manager.GetAuthState()
	w.Header().Set("Content-Type", "application/json")
	if !state.IsAuthenticated {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"authenticated": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"authenticated": true,
		"provider":      state.Provider,
		"user":          state.User,
	})
}

// RequireAuth rejects requests with 401 until someone is signed in.
func (b *Binding) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.Manager.IsAuthenticated() {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// flowFor resolves the provider and requires it to support the redirect
// flow.
func (b *Binding) flowFor(ctx context.Context, provider string) (redirectFlow, error) {
	p, err := b.Manager.Provider(ctx, provider)
	if err != nil {
		return nil, err
	}
	flow, ok := p.(redirectFlow)
	if !ok {
		return nil, anyauth.NewAuthError(anyauth.ErrCodeUnsupportedProvider,
			"provider does not support redirect sign-in", provider)
	}
	return flow, nil
}

func (b *Binding) redirectAllowed(target string) bool {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		return true
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	for _, allowed := range b.AllowedRedirects {
		if target == allowed || strings.HasPrefix(target, strings.TrimSuffix(allowed, "/")+"/") {
			return true
		}
	}
	return false
}

func (b *Binding) writeError(w http.ResponseWriter, err error) {
	code := anyauth.CodeOf(err)
	status := http.StatusBadRequest
	switch code {
	case anyauth.ErrCodeServerError, anyauth.ErrCodeInternalError:
		status = http.StatusInternalServerError
	case anyauth.ErrCodeTemporarilyUnavailable:
		status = http.StatusServiceUnavailable
	case anyauth.ErrCodeInvalidCredentials, anyauth.ErrCodeNoAuthSession:
		status = http.StatusUnauthorized
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Error(),
		"code":  code,
	})
}
