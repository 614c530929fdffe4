package anyauth

import "runtime"

// Platform identifies a runtime platform in manifest platform lists.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// CurrentPlatform returns the platform this process runs on.
func CurrentPlatform() Platform {
	return Platform(runtime.GOOS)
}

// ConfigField describes one entry of a provider's configuration schema.
type ConfigField struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ProviderManifest is the static description of an installable provider.
// Name is the sole lookup key. An empty Platforms list means the provider
// works everywhere.
type ProviderManifest struct {
	Name              string        `json:"name"`
	DisplayName       string        `json:"display_name"`
	PackageName       string        `json:"package_name,omitempty"`
	SetupInstructions string        `json:"setup_instructions,omitempty"`
	Platforms         []Platform    `json:"platforms,omitempty"`
	ConfigSchema      []ConfigField `json:"config_schema,omitempty"`
}

// SupportsPlatform reports whether the manifest allows the given platform.
func (m *ProviderManifest) SupportsPlatform(p Platform) bool {
	if len(m.Platforms) == 0 {
		return true
	}
	for _, mp := range m.Platforms {
		if mp == p {
			return true
		}
	}
	return false
}

// BuiltinManifests returns the catalog of providers this module ships
// manifests for. Loaders are registered separately; a manifest without a
// loader still produces actionable setup guidance on lookup.
func BuiltinManifests() []*ProviderManifest {
	return []*ProviderManifest{
		{
			Name:        "google",
			DisplayName: "Google",
			SetupInstructions: "Create OAuth client credentials in the Google Cloud console and configure " +
				"GoogleOptions{ClientID, ClientSecret, RedirectURL} for the \"google\" provider.",
			ConfigSchema: []ConfigField{
				{Name: "client_id", Required: true},
				{Name: "client_secret", Required: true},
				{Name: "redirect_url", Required: true},
				{Name: "scopes", Required: false, Description: "additional OAuth scopes"},
			},
		},
		{
			Name:        "github",
			DisplayName: "GitHub",
			SetupInstructions: "Register an OAuth app at github.com/settings/developers and configure " +
				"GithubOptions{ClientID, ClientSecret, RedirectURL} for the \"github\" provider.",
			ConfigSchema: []ConfigField{
				{Name: "client_id", Required: true},
				{Name: "client_secret", Required: true},
				{Name: "redirect_url", Required: true},
			},
		},
		{
			Name:        "password",
			DisplayName: "Email / Password",
			SetupInstructions: "Point PasswordOptions.BaseURL at a backend exposing /auth/signin, " +
				"/auth/signup and /auth/refresh.",
			ConfigSchema: []ConfigField{
				{Name: "base_url", Required: true},
			},
		},
		{
			Name:        "magic-link",
			DisplayName: "Magic Link",
			SetupInstructions: "Point MagicLinkOptions.BaseURL at a backend exposing the magic-link " +
				"send and verify endpoints. Link delivery is the backend's job.",
			ConfigSchema: []ConfigField{
				{Name: "base_url", Required: true},
				{Name: "link_ttl", Required: false},
			},
		},
		{
			Name:        "sms",
			DisplayName: "SMS Code",
			SetupInstructions: "Point SMSOptions.BaseURL at a backend exposing the send-code and " +
				"verify-code endpoints. SMS delivery and rate limiting are the backend's job.",
			ConfigSchema: []ConfigField{
				{Name: "base_url", Required: true},
				{Name: "code_ttl", Required: false},
				{Name: "max_attempts", Required: false},
			},
		},
		{
			Name:        "local",
			DisplayName: "Local Accounts",
			SetupInstructions: "Configure LocalOptions for the \"local\" provider. Accounts live in the " +
				"credential store; intended for development and tests.",
		},
		{
			Name:        "biometric",
			DisplayName: "Biometric",
			PackageName: "anyauth-biometric",
			SetupInstructions: "Biometric sign-in requires the native wrapper: install the " +
				"anyauth-biometric package for your platform and register its loader with " +
				"RegisterLoader(\"biometric\", ...).",
			Platforms: []Platform{PlatformIOS, PlatformAndroid, PlatformDarwin},
		},
	}
}
