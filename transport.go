package anyauth

import (
	"context"
	"net/http"
)

// TokenSource yields a live access token. *Manager implements it through
// AccessToken.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// AuthTransport wraps an http.RoundTripper to attach the current access
// token as a bearer Authorization header. Tokens come from the source per
// request, so a refresh between calls is picked up automatically. A 401
// response triggers one forced refresh and retry when the source is a
// *Manager with a refreshable session.
type AuthTransport struct {
	Base   http.RoundTripper
	Source TokenSource
}

// NewAuthTransport builds a transport drawing tokens from src.
func NewAuthTransport(src TokenSource) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Source: src}
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Source == nil {
		return base.RoundTrip(req)
	}

	token, err := t.Source.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := base.RoundTrip(t.withToken(req, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Server rejected the token before our clock said it would expire.
	// Force one refresh and retry once.
	m, ok := t.Source.(*Manager)
	if !ok {
		return resp, nil
	}
	if _, err := m.RefreshToken(req.Context(), ""); err != nil {
		return resp, nil
	}
	fresh, err := m.AccessToken(req.Context())
	if err != nil || fresh == "" || fresh == token {
		return resp, nil
	}

	// Retrying needs a replayable body.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	retry := req
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry = req.Clone(req.Context())
		retry.Body = body
	}

	resp.Body.Close()
	return base.RoundTrip(t.withToken(retry, fresh))
}

func (t *AuthTransport) withToken(req *http.Request, token string) *http.Request {
	if token == "" {
		return req
	}
	// Clone so the caller's request stays untouched.
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+token)
	return req2
}

// HTTPClient returns an http.Client whose requests carry the manager's
// access token.
func (m *Manager) HTTPClient() *http.Client {
	return &http.Client{Transport: NewAuthTransport(m)}
}
