package oauth2

import (
	"github.com/anyauthdev/anyauth"
	"golang.org/x/oauth2/google"
)

// GoogleOptions configures Google OIDC sign-in.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HostedDomain restricts sign-in to one Workspace domain (hd param).
	HostedDomain string

	// OfflineAccess requests a refresh token (access_type=offline with
	// forced consent).
	OfflineAccess bool

	Authorizer Authorizer
}

func (GoogleOptions) Provider() string { return "google" }

const googleRevokeURL = "https://oauth2.googleapis.com/revoke"

// NewGoogleEngine builds the flow engine for Google.
func NewGoogleEngine(opts GoogleOptions, env *anyauth.Env) (*Engine, error) {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	params := map[string]string{}
	if opts.HostedDomain != "" {
		params["hd"] = opts.HostedDomain
	}
	if opts.OfflineAccess {
		params["access_type"] = "offline"
		params["prompt"] = "consent"
	}

	return NewEngine(Options{
		Name:           "google",
		ClientID:       opts.ClientID,
		ClientSecret:   opts.ClientSecret,
		RedirectURL:    opts.RedirectURL,
		Scopes:         scopes,
		Endpoint:       google.Endpoint,
		UserInfoURL:    "https://openidconnect.googleapis.com/v1/userinfo",
		RevokeURL:      googleRevokeURL,
		AuthCodeParams: params,
		Authorizer:     opts.Authorizer,
		UsePKCE:        true,
	}, env)
}

// RegisterGoogle installs the Google loader on a registry. The manager
// resolves the instance lazily on first sign-in.
func RegisterGoogle(r *anyauth.Registry) {
	r.RegisterLoader("google", func(opts anyauth.ProviderOptions, env *anyauth.Env) (anyauth.Provider, error) {
		switch o := opts.(type) {
		case GoogleOptions:
			return NewGoogleEngine(o, env)
		case *GoogleOptions:
			return NewGoogleEngine(*o, env)
		}
		return nil, anyauth.NewAuthError(anyauth.ErrCodeMissingConfiguration,
			"wrong options type for provider google", "google")
	})
}
