package anyauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager owns the single AuthState and orchestrates sign-in, sign-out and
// token refresh across providers. Construct one per application and share
// it by reference; there is no package-level singleton.
type Manager struct {
	mu          sync.Mutex
	config      *Config
	logger      *zap.Logger
	registry    *Registry
	store       CredentialStore
	httpClient  *http.Client
	initialized bool
	closed      bool

	state      AuthState
	credential *AuthCredential

	events     *Emitter[AuthState]
	userEvents map[string]*Emitter[*AuthUser]

	timers   map[string]*time.Timer
	inflight map[string]*inflightCall
}

// persistedState is the auth_state record written to the store.
type persistedState struct {
	User       *AuthUser       `json:"user"`
	Provider   string          `json:"provider"`
	Credential *AuthCredential `json:"credential"`
}

type inflightCall struct {
	done chan struct{}
	res  *SignInResult
	err  error
}

// New creates a manager. Call Initialize before use.
func New(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.EnsureDefaults()
	m := &Manager{
		config:     cfg,
		logger:     zap.NewNop(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		events:     NewEmitter[AuthState](),
		userEvents: make(map[string]*Emitter[*AuthUser]),
		timers:     make(map[string]*time.Timer),
		inflight:   make(map[string]*inflightCall),
	}
	m.registry = NewRegistry(m.logger)
	registerBuiltinLoaders(m.registry)
	return m
}

// Initialize merges configuration, wires logging and persistence, restores
// any previously persisted session (revalidating it against the live
// provider before trusting it) and marks the manager ready. A second call
// without new config is a no-op.
func (m *Manager) Initialize(ctx context.Context, cfg *Config) error {
	m.mu.Lock()
	if m.initialized && cfg == nil {
		m.mu.Unlock()
		return nil
	}
	m.config.merge(cfg)
	m.logger = newLogger(m.config)
	m.registry.setLogger(m.logger)
	if m.store == nil {
		m.store = m.resolveStore()
	}
	firstInit := !m.initialized
	m.initialized = true
	m.mu.Unlock()

	if firstInit {
		if err := m.restoreSession(ctx); err != nil {
			// A corrupt or stale record is dropped, never fatal.
			m.logger.Warn("persisted session discarded", zap.Error(err))
		}
	}
	m.logger.Debug("manager initialized")
	return nil
}

func (m *Manager) resolveStore() CredentialStore {
	if m.config.Store != nil {
		return m.config.Store
	}
	switch m.config.Persistence {
	case PersistenceLocal:
		// Durable file persistence lives in stores/fs; falling back to
		// memory here keeps the core free of a hard file dependency when
		// callers pick "local" without supplying a store.
		m.logger.Warn("local persistence requested without a store; using memory",
			zap.String("hint", "pass stores/fs.New(...) via Config.Store"))
		return NewMemoryStore("anyauth")
	case PersistenceSession:
		return NewMemoryStore("anyauth-session")
	default:
		return NewMemoryStore("anyauth")
	}
}

// Registry exposes the provider registry for manifest/loader
// registration. Loaders may be registered before Initialize so session
// restore can resolve them.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Store exposes the namespaced credential store providers share.
func (m *Manager) Store() CredentialStore {
	m.ensureInit()
	return m.store
}

// Configure adds or replaces the options for one provider after
// construction.
func (m *Manager) Configure(opts ProviderOptions) {
	if opts == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Providers[opts.Provider()] = opts
}

// ensureInit lazily initializes with current config so getters and event
// subscription work before an explicit Initialize.
func (m *Manager) ensureInit() {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		_ = m.Initialize(context.Background(), nil)
	}
}

// SignIn authenticates with the named provider and applies the result to
// the shared state. Concurrent calls for the same provider are coalesced
// into a single in-flight attempt.
func (m *Manager) SignIn(ctx context.Context, provider string, opts *SignInOptions) (*AuthUser, error) {
	m.ensureInit()

	p, err := m.resolveProvider(ctx, provider)
	if err != nil {
		return nil, err
	}

	m.setLoading(true)

	res, err := m.singleflight("signin:"+provider, func() (*SignInResult, error) {
		if opts == nil {
			opts = &SignInOptions{}
		}
		return p.SignIn(ctx, opts)
	})
	if err != nil {
		m.setLoading(false)
		return nil, Classify(provider, err)
	}

	if err := m.CompleteSignIn(provider, res); err != nil {
		m.setLoading(false)
		return nil, err
	}
	return res.User, nil
}

// CompleteSignIn applies an externally produced sign-in result: stores
// user and credential, persists the session, schedules refresh and emits
// the new state. This is the entry point for redirect bindings and native
// wrappers that finish a flow outside SignIn.
func (m *Manager) CompleteSignIn(provider string, res *SignInResult) error {
	if res == nil || res.User == nil {
		return NewAuthError(ErrCodeInternalError, "provider returned no user", provider)
	}
	m.ensureInit()

	m.mu.Lock()
	m.state = AuthState{
		User:            res.User,
		IsAuthenticated: true,
		IsLoading:       false,
		Provider:        provider,
	}
	m.credential = res.Credential
	state := m.state
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		m.logger.Warn("failed to persist auth state", zap.Error(err))
	}
	m.scheduleRefresh(provider, res.Credential)

	m.logger.Info("signed in",
		zap.String("provider", provider),
		zap.String("uid", res.User.UID))

	m.events.Emit(state)
	m.emitUser(provider, res.User)
	return nil
}

// SignOut clears the session. The target provider is the explicit one,
// else the current one; with neither this is a warning no-op. Provider
// level revocation failures never block local cleanup.
func (m *Manager) SignOut(ctx context.Context, opts *SignOutOptions) error {
	m.ensureInit()

	m.mu.Lock()
	target := m.state.Provider
	if opts != nil && opts.Provider != "" {
		target = opts.Provider
	}
	m.mu.Unlock()

	if target == "" {
		m.logger.Warn("sign-out requested with no active provider")
		return nil
	}

	if p, err := m.resolveProvider(ctx, target); err == nil {
		if err := p.SignOut(ctx); err != nil {
			m.logger.Warn("provider sign-out failed, clearing local state anyway",
				zap.String("provider", target), zap.Error(err))
		}
	} else {
		m.logger.Warn("provider unavailable during sign-out",
			zap.String("provider", target), zap.Error(err))
	}

	m.cancelRefresh(target)

	m.mu.Lock()
	cleared := m.state.Provider == target || m.state.Provider == ""
	var state AuthState
	if cleared {
		m.state = AuthState{}
		m.credential = nil
		state = m.state
	}
	m.mu.Unlock()

	if cleared {
		if err := m.store.Remove(KeyAuthState); err != nil {
			m.logger.Warn("failed to remove persisted auth state", zap.Error(err))
		}
		m.logger.Info("signed out", zap.String("provider", target))
		m.events.Emit(state)
	}
	m.emitUser(target, nil)
	return nil
}

// RefreshToken renews the credential for the given provider (empty means
// the current one). On success the session is updated and the next
// refresh rescheduled; on failure the error is classified and returned
// without touching the existing session.
func (m *Manager) RefreshToken(ctx context.Context, provider string) (*AuthUser, error) {
	m.ensureInit()

	m.mu.Lock()
	if provider == "" {
		provider = m.state.Provider
	}
	m.mu.Unlock()
	if provider == "" {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no provider is signed in", "")
	}

	p, err := m.resolveProvider(ctx, provider)
	if err != nil {
		return nil, err
	}

	m.setLoading(true)
	res, err := m.singleflight("refresh:"+provider, func() (*SignInResult, error) {
		return p.Refresh(ctx)
	})
	m.setLoading(false)
	if err != nil {
		return nil, Classify(provider, err)
	}

	m.mu.Lock()
	current := m.state.Provider == provider
	if current {
		if res.User != nil {
			m.state.User = res.User
		}
		m.credential = res.Credential
	}
	m.mu.Unlock()

	if current {
		if err := m.persist(); err != nil {
			m.logger.Warn("failed to persist refreshed state", zap.Error(err))
		}
	}
	m.scheduleRefresh(provider, res.Credential)
	m.logger.Debug("token refreshed", zap.String("provider", provider))
	return res.User, nil
}

// GetAuthState returns the last-known in-memory snapshot. Never does I/O.
func (m *Manager) GetAuthState() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetCurrentUser returns the signed-in user, or nil.
func (m *Manager) GetCurrentUser() *AuthUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.User
}

// IsAuthenticated reports whether a user is signed in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsAuthenticated
}

// GetCurrentProvider returns the active provider name, or "".
func (m *Manager) GetCurrentProvider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Provider
}

// OnAuthStateChange subscribes to state transitions. The listener is
// invoked synchronously with the current snapshot before this returns,
// then once per subsequent change until the returned handle is called.
func (m *Manager) OnAuthStateChange(fn func(AuthState)) (cancel func()) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	unsubscribe := m.events.Subscribe(fn)
	fn(state)
	return unsubscribe
}

// OnUserChange subscribes to user changes for a single provider. Unlike
// OnAuthStateChange there is no replay; only subsequent changes are
// delivered.
func (m *Manager) OnUserChange(provider string, fn func(*AuthUser)) (cancel func()) {
	m.mu.Lock()
	em, ok := m.userEvents[provider]
	if !ok {
		em = NewEmitter[*AuthUser]()
		m.userEvents[provider] = em
	}
	m.mu.Unlock()
	return em.Subscribe(fn)
}

// AccessToken returns a live access token for the current session,
// refreshing proactively when the token is inside the refresh buffer and a
// refresh token is available. Returns "" with no error when nothing is
// signed in.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.ensureInit()

	m.mu.Lock()
	cred := m.credential
	provider := m.state.Provider
	buffer := m.config.TokenRefreshBuffer
	m.mu.Unlock()

	if cred == nil || provider == "" {
		return "", nil
	}

	if cred.ExpiresWithin(buffer) && cred.HasRefreshToken() {
		if _, err := m.RefreshToken(ctx, provider); err != nil {
			if cred.IsExpired() {
				return "", WrapAuthError(ErrCodeTokenExpired, "token expired and refresh failed", provider, err)
			}
			// Not expired yet; use what we have.
			m.logger.Warn("proactive refresh failed", zap.String("provider", provider), zap.Error(err))
			return cred.AccessToken, nil
		}
		m.mu.Lock()
		cred = m.credential
		m.mu.Unlock()
	}

	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// Close cancels all refresh timers and disposes cached providers. The
// manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for name, t := range m.timers {
		t.Stop()
		delete(m.timers, name)
	}
	registry := m.registry
	m.mu.Unlock()

	if registry != nil {
		registry.ClearAll()
	}
	_ = m.logger.Sync()
	return nil
}

// Provider resolves the live instance for a configured provider. Most
// callers go through SignIn; bindings that drive a flow themselves (web
// redirects, two-step code flows) use this to reach provider-specific
// methods.
func (m *Manager) Provider(ctx context.Context, name string) (Provider, error) {
	m.ensureInit()
	return m.resolveProvider(ctx, name)
}

// resolveProvider looks up the typed options for name and obtains the live
// instance from the registry.
func (m *Manager) resolveProvider(ctx context.Context, name string) (Provider, error) {
	if name == "" {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no provider specified and none signed in", "")
	}
	m.mu.Lock()
	opts, configured := m.config.Providers[name]
	registry := m.registry
	env := &Env{Store: m.store, Logger: m.logger, HTTPClient: m.httpClient}
	m.mu.Unlock()

	if !configured {
		return nil, NewAuthError(ErrCodeMissingConfiguration,
			fmt.Sprintf("provider %q was never configured; pass its options in Config.Providers or call Configure", name), name)
	}
	return registry.GetProvider(ctx, name, opts, env)
}

// singleflight de-duplicates concurrent calls sharing a key into one
// in-flight attempt whose result every caller receives.
func (m *Manager) singleflight(key string, fn func() (*SignInResult, error)) (*SignInResult, error) {
	m.mu.Lock()
	if c, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		<-c.done
		return c.res, c.err
	}
	c := &inflightCall{done: make(chan struct{})}
	m.inflight[key] = c
	m.mu.Unlock()

	c.res, c.err = fn()

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	close(c.done)
	return c.res, c.err
}

func (m *Manager) setLoading(loading bool) {
	m.mu.Lock()
	if m.state.IsLoading == loading {
		m.mu.Unlock()
		return
	}
	m.state.IsLoading = loading
	state := m.state
	m.mu.Unlock()
	m.events.Emit(state)
}

func (m *Manager) emitUser(provider string, user *AuthUser) {
	m.mu.Lock()
	em := m.userEvents[provider]
	m.mu.Unlock()
	if em != nil {
		em.Emit(user)
	}
}

// persist writes the auth_state record for the current session.
func (m *Manager) persist() error {
	m.mu.Lock()
	rec := persistedState{User: m.state.User, Provider: m.state.Provider, Credential: m.credential}
	m.mu.Unlock()

	if rec.User == nil {
		return m.store.Remove(KeyAuthState)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(KeyAuthState, string(data))
}

// restoreSession loads the persisted auth_state record and revalidates it
// against the live provider before adopting it.
func (m *Manager) restoreSession(ctx context.Context) error {
	raw, ok, err := m.store.Get(KeyAuthState)
	if err != nil || !ok {
		return err
	}

	var rec persistedState
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		_ = m.store.Remove(KeyAuthState)
		return fmt.Errorf("corrupt auth_state record: %w", err)
	}
	if rec.User == nil || rec.Provider == "" {
		return m.store.Remove(KeyAuthState)
	}

	p, err := m.resolveProvider(ctx, rec.Provider)
	if err != nil {
		_ = m.store.Remove(KeyAuthState)
		return fmt.Errorf("persisted provider %q unavailable: %w", rec.Provider, err)
	}

	res := &SignInResult{User: rec.User, Credential: rec.Credential}
	if v, ok := p.(SessionValidator); ok {
		live, err := v.CurrentUser(ctx)
		if err != nil || live == nil {
			_ = m.store.Remove(KeyAuthState)
			return fmt.Errorf("persisted session rejected by provider %q: %w", rec.Provider, err)
		}
		res = live
	} else if rec.Credential != nil && rec.Credential.IsExpired() && !rec.Credential.HasRefreshToken() {
		return m.store.Remove(KeyAuthState)
	}

	return m.CompleteSignIn(rec.Provider, res)
}

// scheduleRefresh arms the one-shot proactive refresh timer for provider.
// A timer exists iff the credential carries both a refresh token and an
// expiry; any previous timer for the provider is replaced.
func (m *Manager) scheduleRefresh(provider string, cred *AuthCredential) {
	m.cancelRefresh(provider)

	m.mu.Lock()
	disabled := m.config.DisableAutoRefresh
	buffer := m.config.TokenRefreshBuffer
	closed := m.closed
	m.mu.Unlock()

	if closed || disabled || cred == nil || !cred.HasRefreshToken() || cred.ExpiresAt == 0 {
		return
	}

	fireAt := time.UnixMilli(cred.ExpiresAt).Add(-buffer)
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	m.timers[provider] = time.AfterFunc(delay, func() {
		// Nobody awaits a scheduled refresh; failures are logged, the
		// last-known-good session stays until the next explicit action.
		if _, err := m.RefreshToken(context.Background(), provider); err != nil {
			m.logger.Warn("scheduled token refresh failed",
				zap.String("provider", provider), zap.Error(err))
		}
	})
	m.mu.Unlock()

	m.logger.Debug("refresh scheduled",
		zap.String("provider", provider), zap.Duration("in", delay))
}

func (m *Manager) cancelRefresh(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[provider]; ok {
		t.Stop()
		delete(m.timers, provider)
	}
}

// refreshScheduled reports whether a proactive refresh timer is armed for
// provider.
func (m *Manager) refreshScheduled(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[provider]
	return ok
}
