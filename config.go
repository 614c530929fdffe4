package anyauth

import "time"

// Persistence selects the backing used for the manager's own state record
// when no explicit CredentialStore is supplied.
type Persistence string

const (
	// PersistenceLocal keeps credentials in a JSON file under the user
	// config dir (see stores/fs for the implementation the manager uses).
	PersistenceLocal Persistence = "local"

	// PersistenceSession keeps credentials for the lifetime of the process.
	PersistenceSession Persistence = "session"

	// PersistenceMemory keeps credentials in memory only.
	PersistenceMemory Persistence = "memory"
)

// DefaultTokenRefreshBuffer is subtracted from token expiry when scheduling
// proactive refresh.
const DefaultTokenRefreshBuffer = 5 * time.Minute

// ProviderOptions is the tagged union of per-provider configuration.
// Each variant names the provider it configures; the registry switches on
// that tag instead of trusting caller-shaped maps.
type ProviderOptions interface {
	Provider() string
}

// Config is the manager configuration.
type Config struct {
	// Providers holds one typed options record per configured provider.
	Providers map[string]ProviderOptions

	// Persistence picks the default credential backing. Ignored when
	// Store is set.
	Persistence Persistence

	// Store overrides the persistence backing entirely.
	Store CredentialStore

	// DisableAutoRefresh turns off proactive scheduled refresh. The zero
	// value keeps it on.
	DisableAutoRefresh bool

	// TokenRefreshBuffer is the safety margin before expiry at which the
	// scheduled refresh fires. Defaults to 5 minutes.
	TokenRefreshBuffer time.Duration

	// EnableLogging turns structured logging on. Off means a no-op logger.
	EnableLogging bool

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
}

// DefaultConfig returns a config with memory persistence, auto refresh on
// and logging off.
func DefaultConfig() *Config {
	return (&Config{}).EnsureDefaults()
}

// EnsureDefaults fills zero values with reasonable defaults.
func (c *Config) EnsureDefaults() *Config {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderOptions)
	}
	if c.Persistence == "" {
		c.Persistence = PersistenceMemory
	}
	if c.TokenRefreshBuffer <= 0 {
		c.TokenRefreshBuffer = DefaultTokenRefreshBuffer
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// merge applies non-zero fields of other on top of c. Used by a second
// Initialize call carrying new config.
func (c *Config) merge(other *Config) {
	if other == nil {
		return
	}
	for name, opts := range other.Providers {
		c.Providers[name] = opts
	}
	if other.Persistence != "" {
		c.Persistence = other.Persistence
	}
	if other.Store != nil {
		c.Store = other.Store
	}
	if other.DisableAutoRefresh {
		c.DisableAutoRefresh = true
	}
	if other.TokenRefreshBuffer > 0 {
		c.TokenRefreshBuffer = other.TokenRefreshBuffer
	}
	if other.EnableLogging {
		c.EnableLogging = true
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
