package oidc

// CallbackContext is the mutable record threaded through one authorization
// exchange.  It is created fresh per exchange, mutated in place as each stage
// completes, and discarded once the pipeline resolves or fails; it carries no
// identity beyond the single exchange.
type CallbackContext struct {
	// Code is the authorization code returned on the callback
	Code string

	// RefreshToken is set when the exchange was triggered by a refresh-token
	// grant instead of a callback
	RefreshToken RefreshToken

	// State is the anti-forgery value round-tripped through the redirect.
	// Code and State must be non-empty before any network call is issued.
	State string

	// SessionState is the provider's session_state value, when present
	SessionState string

	// AuthResult is the raw token endpoint response; nil until the exchange
	// completes
	AuthResult *AuthResult

	// IsRenewProcess marks an exchange that is part of a silent renewal
	IsRenewProcess bool

	// JWTKeys holds decoded signing keys; nil until a downstream validator
	// fills it
	JWTKeys interface{}

	// ValidationResult is filled by a downstream validator
	ValidationResult interface{}

	// ExistingIDToken is the previously stored id_token, if any
	ExistingIDToken IDToken
}
