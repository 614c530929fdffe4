package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/anyauthdev/anyauth"
)

// Status tracks one authorization attempt through its lifecycle.
type Status int

const (
	StatusStarted Status = iota
	StatusAwaitingCallback
	StatusCompleted
	StatusCancelled
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusAwaitingCallback:
		return "awaiting_callback"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Authorizer drives the interactive half of an authorization handshake:
// it puts AuthURL in front of the user and returns the provider's
// callback. Cancelling ctx aborts the attempt.
type Authorizer interface {
	Authorize(ctx context.Context, hs *Handshake) (*Callback, error)
}

// OpenURLFunc puts an authorization URL in front of the user.
type OpenURLFunc func(url string) error

// OpenInBrowser launches the platform browser. It is the default opener
// for LoopbackAuthorizer.
func OpenInBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}

// LoopbackAuthorizer completes the flow for native and CLI applications:
// it serves the redirect URI on localhost with a one-shot HTTP server,
// opens the browser, and waits for the provider to redirect back.
type LoopbackAuthorizer struct {
	addr    string
	path    string
	OpenURL OpenURLFunc

	// Timeout bounds the wait for the callback. Default 5m.
	Timeout time.Duration

	// SuccessHTML is served to the browser after a completed callback.
	SuccessHTML string

	mu     sync.Mutex
	status Status
}

// NewLoopbackAuthorizer builds an authorizer that listens on the host and
// path of redirectURL, which must point at localhost.
func NewLoopbackAuthorizer(redirectURL string) (*LoopbackAuthorizer, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return nil, fmt.Errorf("loopback flow needs a localhost redirect URL, got %q", u.Host)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &LoopbackAuthorizer{
		addr:    u.Host,
		path:    path,
		OpenURL: OpenInBrowser,
		Timeout: 5 * time.Minute,
	}, nil
}

// Status reports the current lifecycle phase of the last Authorize call.
func (a *LoopbackAuthorizer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *LoopbackAuthorizer) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Authorize opens the browser at hs.AuthURL and blocks until the
// provider redirects to the loopback server, ctx is cancelled, or the
// timeout passes. Only the first callback counts; stray repeats get a
// plain 200.
func (a *LoopbackAuthorizer) Authorize(ctx context.Context, hs *Handshake) (*Callback, error) {
	a.setStatus(StatusStarted)

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", a.addr, err)
	}

	results := make(chan *Callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(a.path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cb := &Callback{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}
		select {
		case results <- cb:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			html := a.SuccessHTML
			if html == "" {
				html = "<html><body><p>Sign-in complete. You can close this window.</p></body></html>"
			}
			fmt.Fprint(w, html)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case results <- &Callback{Error: "server_error", ErrorDescription: err.Error()}:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if a.OpenURL != nil {
		if err := a.OpenURL(hs.AuthURL); err != nil {
			a.setStatus(StatusCancelled)
			return nil, anyauth.WrapAuthError(anyauth.ErrCodePopupBlocked,
				"could not open the browser", "", err)
		}
	}
	a.setStatus(StatusAwaitingCallback)

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cb := <-results:
		a.setStatus(StatusCompleted)
		return cb, nil
	case <-ctx.Done():
		a.setStatus(StatusCancelled)
		return nil, anyauth.WrapAuthError(anyauth.ErrCodeUserCancelled,
			"sign-in cancelled before the callback arrived", "", ctx.Err())
	case <-timer.C:
		a.setStatus(StatusTimedOut)
		return nil, anyauth.NewAuthError(anyauth.ErrCodeTimeout,
			"timed out waiting for the authorization callback", "")
	}
}

// ChannelAuthorizer completes handshakes fed from outside: tests and
// embedding applications push the callback onto Callbacks while the URL
// handling happens elsewhere.
type ChannelAuthorizer struct {
	// Started receives each handshake as Authorize begins, when non-nil.
	Started chan<- *Handshake

	// Callbacks delivers the provider callback for the pending attempt.
	Callbacks <-chan *Callback
}

func (a *ChannelAuthorizer) Authorize(ctx context.Context, hs *Handshake) (*Callback, error) {
	if a.Started != nil {
		select {
		case a.Started <- hs:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case cb, ok := <-a.Callbacks:
		if !ok {
			return nil, anyauth.NewAuthError(anyauth.ErrCodeUserCancelled,
				"authorization channel closed", "")
		}
		return cb, nil
	case <-ctx.Done():
		return nil, anyauth.WrapAuthError(anyauth.ErrCodeUserCancelled,
			"sign-in cancelled before the callback arrived", "", ctx.Err())
	}
}
