package oidc

import "context"

// SessionSnapshot is a point-in-time view of the tokens and user data stored
// for one configuration.
type SessionSnapshot struct {
	IDToken     IDToken
	AccessToken string
	UserData    interface{}

	// Valid is true when the stored tokens are currently usable
	Valid bool
}

// SessionReader reports on the stored token/user state for a configuration.
// Implementations must be concurrently safe.
type SessionReader interface {
	// Snapshot returns the current stored tokens, user data and their
	// validity for the configuration.
	Snapshot(ctx context.Context, configID string) (*SessionSnapshot, error)
}

// RefreshTokenExchanger performs a refresh-token grant against the
// provider's token endpoint.
type RefreshTokenExchanger interface {
	// ExchangeRefreshToken performs the grant using the stored refresh token
	// plus any custom parameters and returns the completed exchange context.
	ExchangeRefreshToken(ctx context.Context, configID string, customParams map[string]string) (*CallbackContext, error)
}

// SilentRenewer drives a hidden-context renewal for a configuration.
type SilentRenewer interface {
	// Renew initiates the hidden-context renewal.  Completion is delivered
	// through the Completed signal, not through Renew's return.
	Renew(ctx context.Context, configID string, customParams map[string]string) error

	// Completed returns a one-shot signal carrying the renewal's callback
	// context.  The subscription ends when ctx is cancelled; implementations
	// must not block sending once the subscriber is gone.
	Completed(ctx context.Context, configID string) <-chan *CallbackContext
}

// CallbackProcessor performs the implicit-flow equivalent of callback
// extraction, validation and token handling.
type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, cfg *Config, allConfigs []*Config, hash string) (*CallbackContext, error)
}

// Navigator routes the application to a given path.
type Navigator interface {
	Navigate(path string)
}

// IntervalCheck controls the recurring token-expiry check for a
// configuration.
type IntervalCheck interface {
	// Stop halts the periodic check, if one is running.  Stopping an idle
	// check is a no-op.
	Stop(configID string)
}
