package oauth2

import (
	"github.com/anyauthdev/anyauth"
	"golang.org/x/oauth2/github"
)

// GitHubOptions configures GitHub OAuth sign-in. GitHub issues no ID
// token, so the user profile comes from the /user endpoint.
type GitHubOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	Authorizer Authorizer
}

func (GitHubOptions) Provider() string { return "github" }

// NewGitHubEngine builds the flow engine for GitHub.
func NewGitHubEngine(opts GitHubOptions, env *anyauth.Env) (*Engine, error) {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	return NewEngine(Options{
		Name:         "github",
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Scopes:       scopes,
		Endpoint:     github.Endpoint,
		UserInfoURL:  "https://api.github.com/user",
		Authorizer:   opts.Authorizer,
	}, env)
}

// RegisterGitHub installs the GitHub loader on a registry.
func RegisterGitHub(r *anyauth.Registry) {
	r.RegisterLoader("github", func(opts anyauth.ProviderOptions, env *anyauth.Env) (anyauth.Provider, error) {
		switch o := opts.(type) {
		case GitHubOptions:
			return NewGitHubEngine(o, env)
		case *GitHubOptions:
			return NewGitHubEngine(*o, env)
		}
		return nil, anyauth.NewAuthError(anyauth.ErrCodeMissingConfiguration,
			"wrong options type for provider github", "github")
	})
}
