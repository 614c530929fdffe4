package anyauth

// registerBuiltinLoaders installs loaders for the providers that live in
// this package. OAuth providers register through their own packages so
// the core carries no redirect/loopback machinery it does not use.
func registerBuiltinLoaders(r *Registry) {
	r.RegisterLoader("local", func(opts ProviderOptions, env *Env) (Provider, error) {
		o, err := localOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewLocalProvider(o, env)
	})
	r.RegisterLoader("password", func(opts ProviderOptions, env *Env) (Provider, error) {
		o, err := passwordOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewPasswordProvider(o, env)
	})
	r.RegisterLoader("magic-link", func(opts ProviderOptions, env *Env) (Provider, error) {
		o, err := magicLinkOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewMagicLinkProvider(o, env)
	})
	r.RegisterLoader("sms", func(opts ProviderOptions, env *Env) (Provider, error) {
		o, err := smsOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewSMSProvider(o, env)
	})
}

func localOptions(opts ProviderOptions) (LocalOptions, error) {
	switch o := opts.(type) {
	case LocalOptions:
		return o, nil
	case *LocalOptions:
		return *o, nil
	}
	return LocalOptions{}, optionsMismatch("local")
}

func passwordOptions(opts ProviderOptions) (PasswordOptions, error) {
	switch o := opts.(type) {
	case PasswordOptions:
		return o, nil
	case *PasswordOptions:
		return *o, nil
	}
	return PasswordOptions{}, optionsMismatch("password")
}

func magicLinkOptions(opts ProviderOptions) (MagicLinkOptions, error) {
	switch o := opts.(type) {
	case MagicLinkOptions:
		return o, nil
	case *MagicLinkOptions:
		return *o, nil
	}
	return MagicLinkOptions{}, optionsMismatch("magic-link")
}

func smsOptions(opts ProviderOptions) (SMSOptions, error) {
	switch o := opts.(type) {
	case SMSOptions:
		return o, nil
	case *SMSOptions:
		return *o, nil
	}
	return SMSOptions{}, optionsMismatch("sms")
}

func optionsMismatch(provider string) error {
	return NewAuthError(ErrCodeMissingConfiguration,
		"wrong options type for provider "+provider, provider)
}
