package anyauth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry is the provider catalog plus a lazy instance cache. Providers
// are constructed on first use and cached by name so unused providers pay
// no initialization cost and a provider's internal state survives across
// sign-in attempts within one session.
type Registry struct {
	mu        sync.Mutex
	manifests map[string]*ProviderManifest
	loaders   map[string]Loader
	instances map[string]Provider
	platform  Platform
	logger    *zap.Logger
}

// NewRegistry creates a registry pre-seeded with the builtin manifest
// catalog and gated on the current platform.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		manifests: make(map[string]*ProviderManifest),
		loaders:   make(map[string]Loader),
		instances: make(map[string]Provider),
		platform:  CurrentPlatform(),
		logger:    logger,
	}
	for _, m := range BuiltinManifests() {
		r.manifests[m.Name] = m
	}
	return r
}

func (r *Registry) setLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetPlatform overrides platform detection. Used by native wrappers and
// tests.
func (r *Registry) SetPlatform(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platform = p
}

// RegisterManifest adds or replaces the manifest for a provider name.
// Last registration wins.
func (r *Registry) RegisterManifest(m *ProviderManifest) {
	if m == nil || m.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Name] = m
}

// RegisterLoader adds or replaces the constructor for a provider name.
// Last registration wins. Registering a loader for a name with a live
// cached instance does not replace the instance; ClearProvider first.
func (r *Registry) RegisterLoader(name string, loader Loader) {
	if name == "" || loader == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = loader
}

// GetProvider returns the cached instance for name, constructing and
// initializing it on first use. Platform incompatibility fails with
// UnsupportedProvider; a missing loader fails with a configuration error
// carrying the manifest's setup instructions.
func (r *Registry) GetProvider(ctx context.Context, name string, opts ProviderOptions, env *Env) (Provider, error) {
	r.mu.Lock()
	if p, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return p, nil
	}

	manifest := r.manifests[name]
	platform := r.platform
	loader := r.loaders[name]
	r.mu.Unlock()

	if manifest != nil && !manifest.SupportsPlatform(platform) {
		return nil, NewAuthError(ErrCodeUnsupportedProvider,
			fmt.Sprintf("provider %q is not supported on %s (supported: %s)",
				name, platform, joinPlatforms(manifest.Platforms)), name)
	}

	if loader == nil {
		return nil, r.setupError(name, manifest, nil)
	}

	p, err := loader(opts, env)
	if err != nil {
		if isMissingDependency(err) {
			return nil, r.setupError(name, manifest, err)
		}
		return nil, Classify(name, err)
	}

	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return nil, Classify(name, err)
		}
	}

	r.mu.Lock()
	// Another caller may have won the race; keep the first instance.
	if existing, ok := r.instances[name]; ok {
		r.mu.Unlock()
		if d, ok := p.(Disposer); ok {
			_ = d.Dispose()
		}
		return existing, nil
	}
	r.instances[name] = p
	r.mu.Unlock()

	r.logger.Debug("provider loaded", zap.String("provider", name))
	return p, nil
}

// ClearProvider disposes and evicts one cached instance.
func (r *Registry) ClearProvider(name string) {
	r.mu.Lock()
	p, ok := r.instances[name]
	delete(r.instances, name)
	r.mu.Unlock()
	if ok {
		if d, ok := p.(Disposer); ok {
			if err := d.Dispose(); err != nil {
				r.logger.Warn("provider dispose failed", zap.String("provider", name), zap.Error(err))
			}
		}
	}
}

// ClearAll disposes and evicts every cached instance.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]Provider)
	r.mu.Unlock()
	for name, p := range instances {
		if d, ok := p.(Disposer); ok {
			if err := d.Dispose(); err != nil {
				r.logger.Warn("provider dispose failed", zap.String("provider", name), zap.Error(err))
			}
		}
	}
}

// AvailableProviders returns the full catalog, sorted by name.
func (r *Registry) AvailableProviders() []*ProviderManifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ProviderManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SupportedProviders returns the subset of the catalog usable on the
// current platform, sorted by name.
func (r *Registry) SupportedProviders() []*ProviderManifest {
	r.mu.Lock()
	platform := r.platform
	r.mu.Unlock()

	all := r.AvailableProviders()
	out := make([]*ProviderManifest, 0, len(all))
	for _, m := range all {
		if m.SupportsPlatform(platform) {
			out = append(out, m)
		}
	}
	return out
}

// setupError turns a missing loader (or a loader failure that smells like
// a missing dependency) into actionable guidance from the manifest instead
// of a raw resolution error.
func (r *Registry) setupError(name string, manifest *ProviderManifest, cause error) *AuthError {
	msg := fmt.Sprintf("provider %q is not registered", name)
	if manifest != nil && manifest.SetupInstructions != "" {
		msg = fmt.Sprintf("provider %q is not registered. %s", name, manifest.SetupInstructions)
	}
	return WrapAuthError(ErrCodeMissingConfiguration, msg, name, cause)
}

func isMissingDependency(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not registered") ||
		strings.Contains(msg, "not installed") ||
		strings.Contains(msg, "cannot find") ||
		strings.Contains(msg, "no such module")
}

func joinPlatforms(ps []Platform) string {
	if len(ps) == 0 {
		return "all"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
