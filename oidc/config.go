package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// WellKnownSuffix is the standard path of a provider's discovery document
// relative to its authority.
const WellKnownSuffix = "/.well-known/openid-configuration"

const (
	// DefaultRefreshRetryDelay is the pause between code-exchange attempts
	// while the device has no network connectivity.
	DefaultRefreshRetryDelay = 3 * time.Second

	// DefaultSilentRenewTimeout is the overall deadline for one hidden-frame
	// renewal attempt.
	DefaultSilentRenewTimeout = 20 * time.Second
)

// Config holds the static settings for one connected identity provider,
// looked up by its unique ConfigID.  A Config is immutable for the duration
// of a flow.
type Config struct {
	// ConfigID uniquely identifies this provider configuration
	ConfigID string

	// Authority is the provider's base URL
	Authority string

	// WellKnownEndpoint is the URL of the provider's discovery document.
	// Defaults to Authority + WellKnownSuffix.
	WellKnownEndpoint string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the relying party secret, if the provider requires one
	ClientSecret ClientSecret

	// RedirectURL is the URL the provider redirects back to after the
	// authorization request
	RedirectURL string

	// Scopes is a list of additional oidc scopes to request of the provider.
	Scopes []string

	// Flow selects between the code, code-with-refresh-tokens and implicit
	// flows
	Flow Flow

	// RefreshRetryDelay is the pause between token-exchange attempts while
	// the device has no connectivity
	RefreshRetryDelay time.Duration

	// SilentRenewTimeout bounds one hidden-frame renewal attempt
	SilentRenewTimeout time.Duration

	// PostLoginRoute is navigated to after a successful interactive callback
	PostLoginRoute string

	// UnauthorizedRoute is navigated to after a failed interactive callback
	UnauthorizedRoute string

	// EventDelivery disables automatic navigation; outcomes are delivered to
	// the caller instead
	EventDelivery bool

	// CustomTokenParams are additional form parameters for the code exchange
	CustomTokenParams map[string]string

	// CustomRefreshParams are additional form parameters for the
	// refresh-token grant
	CustomRefreshParams map[string]string
}

// NewConfig composes a new provider configuration.  The well-known endpoint
// defaults to the authority's standard discovery path, and the retry/timeout
// durations default to DefaultRefreshRetryDelay and
// DefaultSilentRenewTimeout.
//
// Supported options: WithClientSecret, WithRedirectURL, WithScopes,
// WithWellKnownEndpoint, WithRoutes, WithEventDelivery,
// WithRefreshRetryDelay, WithSilentRenewTimeout, WithCustomTokenParams,
// WithCustomRefreshParams
func NewConfig(configID string, authority string, clientID string, flow Flow, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ConfigID:            configID,
		Authority:           authority,
		WellKnownEndpoint:   opts.withWellKnownEndpoint,
		ClientID:            clientID,
		ClientSecret:        opts.withClientSecret,
		RedirectURL:         opts.withRedirectURL,
		Scopes:              opts.withScopes,
		Flow:                flow,
		RefreshRetryDelay:   opts.withRefreshRetryDelay,
		SilentRenewTimeout:  opts.withSilentRenewTimeout,
		PostLoginRoute:      opts.withPostLoginRoute,
		UnauthorizedRoute:   opts.withUnauthorizedRoute,
		EventDelivery:       opts.withEventDelivery,
		CustomTokenParams:   opts.withCustomTokenParams,
		CustomRefreshParams: opts.withCustomRefreshParams,
	}
	if c.WellKnownEndpoint == "" && c.Authority != "" {
		c.WellKnownEndpoint = c.Authority + WellKnownSuffix
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the authority is a http or https URL, but it doesn't verify the authority
// is reachable.
func (c *Config) Validate() error {
	const op = "oidc.Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: configuration is nil: %w", op, ErrNilParameter)
	}
	if c.ConfigID == "" {
		return fmt.Errorf("%s: config id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Authority == "" {
		return fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Authority)
	if err != nil {
		return fmt.Errorf("%s: authority %s is invalid: %w", op, c.Authority, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: authority %s scheme %s is not http or https: %w", op, c.Authority, u.Scheme, ErrInvalidParameter)
	}
	if !c.Flow.valid() {
		return fmt.Errorf("%s: unsupported flow %s: %w", op, c.Flow, ErrInvalidFlow)
	}
	if c.RefreshRetryDelay <= 0 {
		return fmt.Errorf("%s: refresh retry delay not greater than zero: %w", op, ErrInvalidParameter)
	}
	if c.SilentRenewTimeout <= 0 {
		return fmt.Errorf("%s: silent renew timeout not greater than zero: %w", op, ErrInvalidParameter)
	}
	return nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withWellKnownEndpoint   string
	withClientSecret        ClientSecret
	withRedirectURL         string
	withScopes              []string
	withRefreshRetryDelay   time.Duration
	withSilentRenewTimeout  time.Duration
	withPostLoginRoute      string
	withUnauthorizedRoute   string
	withEventDelivery       bool
	withCustomTokenParams   map[string]string
	withCustomRefreshParams map[string]string
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withRefreshRetryDelay:  DefaultRefreshRetryDelay,
		withSilentRenewTimeout: DefaultSilentRenewTimeout,
		withPostLoginRoute:     "/",
		withUnauthorizedRoute:  "/unauthorized",
	}
}

// getConfigOpts gets the config defaults and applies the opt overrides
// passed in
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithWellKnownEndpoint provides an optional discovery document URL when the
// provider publishes it somewhere other than the standard well-known path.
func WithWellKnownEndpoint(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withWellKnownEndpoint = u
		}
	}
}

// WithClientSecret provides an optional client secret for the config
func WithClientSecret(s ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = s
		}
	}
}

// WithRedirectURL provides an optional redirect URL for the config
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRedirectURL = u
		}
	}
}

// WithScopes provides an optional list of scopes for the config
func WithScopes(scopes []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithRoutes provides optional post-login and unauthorized routes for the
// config
func WithRoutes(postLogin string, unauthorized string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLoginRoute = postLogin
			o.withUnauthorizedRoute = unauthorized
		}
	}
}

// WithEventDelivery turns off automatic navigation after callbacks; flow
// outcomes are delivered to the caller instead.
func WithEventDelivery() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEventDelivery = true
		}
	}
}

// WithRefreshRetryDelay provides an optional delay between connectivity
// retries of the code exchange
func WithRefreshRetryDelay(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRefreshRetryDelay = d
		}
	}
}

// WithSilentRenewTimeout provides an optional overall deadline for one
// hidden-frame renewal attempt
func WithSilentRenewTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSilentRenewTimeout = d
		}
	}
}

// WithCustomTokenParams provides optional additional form parameters for the
// code exchange
func WithCustomTokenParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCustomTokenParams = params
		}
	}
}

// WithCustomRefreshParams provides optional additional form parameters for
// the refresh-token grant
func WithCustomRefreshParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCustomRefreshParams = params
		}
	}
}
