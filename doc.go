// Package anyauth manages authentication state across pluggable identity
// providers behind a single Manager.
//
// AnyAuth separates authentication concerns into three layers: providers,
// state, and storage. The Manager owns the current session, providers
// perform the actual sign-in work, and a CredentialStore persists the
// result across restarts.
//
// # Architecture
//
// Provider: An authentication mechanism (local password, backend password,
// magic link, SMS code, or an OAuth provider from the oauth2 subpackage).
// Providers are registered as lazy loaders and constructed on first use.
//
// Manager: Holds the current AuthState, coalesces concurrent sign-in and
// refresh calls, schedules proactive token refresh, and emits state change
// events to subscribers.
//
// CredentialStore: A namespaced key/value store for tokens, user records,
// and transient handshake values. In-memory, file-backed, GORM, and
// Datastore implementations ship in the stores subpackages.
//
// # Basic Usage
//
// Create a manager, register the providers you need, and initialize:
//
//	import (
//	    "github.com/anyauthdev/anyauth"
//	    "github.com/anyauthdev/anyauth/oauth2"
//	    "github.com/anyauthdev/anyauth/stores/fs"
//	)
//
//	store, _ := fs.New("", "myapp")
//	mgr := anyauth.New(&anyauth.Config{
//	    Store: store,
//	    Providers: map[string]anyauth.ProviderOptions{
//	        "google": &oauth2.GoogleOptions{
//	            ClientID:     clientID,
//	            ClientSecret: clientSecret,
//	            RedirectURL:  "http://127.0.0.1:8089/callback",
//	        },
//	    },
//	})
//	oauth2.RegisterGoogle(mgr.Registry())
//	if err := mgr.Initialize(ctx, nil); err != nil {
//	    log.Fatal(err)
//	}
//
// Subscribe before signing in so the initial state is replayed:
//
//	cancel := mgr.OnAuthStateChange(func(s *anyauth.AuthState) {
//	    log.Println("authenticated:", s.IsAuthenticated)
//	})
//	defer cancel()
//
//	user, err := mgr.SignIn(ctx, "google", nil)
//
// Outbound requests pick up the session token through the manager's
// http.Client or the grpc subpackage's per-RPC credentials:
//
//	client := mgr.HTTPClient()
//	resp, err := client.Get("https://api.example.com/me")
//
// # Sessions
//
// A successful sign-in persists a session record so the next Initialize
// restores it without user interaction. Providers that implement
// SessionValidator are consulted during restore and stale sessions are
// dropped. Credentials carrying a refresh token are refreshed shortly
// before expiry on a background timer.
//
// # Errors
//
// All failures surface as *AuthError with a stable ErrorCode. Use IsCode
// or CodeOf to branch on the failure class without string matching.
package anyauth
