package anyauth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SMSOptions configures phone-number sign-in with backend-delivered
// one-time codes.
type SMSOptions struct {
	BaseURL     string
	RequestPath string
	VerifyPath  string
	RefreshPath string

	// TTL bounds how long a sent code stays valid. Default 5m.
	TTL time.Duration

	// MaxAttempts caps wrong-code retries per session. Default 3.
	MaxAttempts int
}

func (SMSOptions) Provider() string { return "sms" }

func (o *SMSOptions) ensureDefaults() {
	if o.RequestPath == "" {
		o.RequestPath = "/auth/sms/request"
	}
	if o.VerifyPath == "" {
		o.VerifyPath = "/auth/sms/verify"
	}
	if o.RefreshPath == "" {
		o.RefreshPath = "/auth/refresh"
	}
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
}

// SMSProvider runs the two-step phone code flow: Start asks the backend
// to text a code, SignIn verifies it. Wrong codes count against the
// session's attempt budget; an exhausted or expired session must be
// restarted.
type SMSProvider struct {
	opts   SMSOptions
	client *backendClient
	store  CredentialStore
}

func NewSMSProvider(opts SMSOptions, env *Env) (*SMSProvider, error) {
	if opts.BaseURL == "" {
		return nil, NewAuthError(ErrCodeMissingConfiguration, "sms provider requires a backend BaseURL", "sms")
	}
	opts.ensureDefaults()
	return &SMSProvider{
		opts:   opts,
		client: newBackendClient(opts.BaseURL, env.HTTPClient),
		store:  env.Store,
	}, nil
}

func (p *SMSProvider) Name() string { return "sms" }

// Start asks the backend to text a one-time code to phone and records the
// pending session.
func (p *SMSProvider) Start(ctx context.Context, phone string) (*PendingVerification, error) {
	if phone == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials, "phone number required", "sms")
	}

	pending := &PendingVerification{
		SessionID:   uuid.NewString(),
		Target:      phone,
		ExpiresAt:   time.Now().Add(p.opts.TTL).UnixMilli(),
		MaxAttempts: p.opts.MaxAttempts,
	}
	if _, err := p.client.post(ctx, p.opts.RequestPath, map[string]string{
		"phone":      phone,
		"session_id": pending.SessionID,
	}, "sms"); err != nil {
		return nil, err
	}
	if err := savePending(p.store, "sms", pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// SignIn verifies the code from opts.Code against the pending session.
func (p *SMSProvider) SignIn(ctx context.Context, opts *SignInOptions) (*SignInResult, error) {
	if opts.Code == "" {
		return nil, NewAuthError(ErrCodeInvalidCredentials,
			"sms sign-in needs the texted code; call Start first", "sms")
	}

	pending, ok, err := loadPending(p.store, "sms")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthError(ErrCodeNoAuthSession, "no sms code is pending", "sms")
	}
	if pending.Expired() {
		_ = p.store.Remove(PendingVerificationKey("sms"))
		return nil, NewAuthError(ErrCodeTokenExpired, "the code expired; request a new one", "sms")
	}
	if pending.Exhausted() {
		_ = p.store.Remove(PendingVerificationKey("sms"))
		return nil, NewAuthError(ErrCodeInvalidCredentials, "too many wrong codes; request a new one", "sms")
	}

	env, err := p.client.post(ctx, p.opts.VerifyPath, map[string]string{
		"phone":      pending.Target,
		"session_id": pending.SessionID,
		"code":       opts.Code,
	}, "sms")
	if err != nil {
		// A rejected code burns one attempt; only credential-shaped
		// failures count, transport errors do not.
		if IsCode(err, ErrCodeInvalidCredentials) {
			pending.Attempts++
			if pending.Exhausted() {
				_ = p.store.Remove(PendingVerificationKey("sms"))
			} else {
				_ = savePending(p.store, "sms", pending)
			}
		}
		return nil, err
	}

	res, err := env.result("sms")
	if err != nil {
		return nil, err
	}
	_ = p.store.Remove(PendingVerificationKey("sms"))
	if err := SaveCredential(p.store, "sms", res.Credential); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *SMSProvider) SignOut(ctx context.Context) error {
	ClearProviderKeys(p.store, "sms")
	return nil
}

func (p *SMSProvider) Refresh(ctx context.Context) (*SignInResult, error) {
	return refreshWithBackend(ctx, p.client, p.store, "sms", p.opts.RefreshPath)
}
