package oidc

import (
	"fmt"

	"golang.org/x/oauth2"
)

// AuthURL builds the URL that kicks off an authorization request with the
// provider, carrying the given anti-forgery state and nonce plus any custom
// authorization request parameters.  Callers are expected to persist the
// state via Storage.SetAuthStateControl before navigating, so the callback
// handler can validate it later.
//
// The state and nonce cannot be equal; an empty nonce is generated.
func AuthURL(cfg *Config, md *ProviderMetadata, state string, nonce string, customParams map[string]string) (string, error) {
	const op = "oidc.AuthURL"
	if cfg == nil {
		return "", fmt.Errorf("%s: configuration is nil: %w", op, ErrNilParameter)
	}
	if md == nil || md.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("%s: no authorization endpoint in provider metadata: %w", op, ErrInvalidParameter)
	}
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if nonce == "" {
		var err error
		nonce, err = NewID(WithPrefix("n"))
		if err != nil {
			return "", fmt.Errorf("%s: unable to generate a nonce: %w", op, err)
		}
	}
	if state == nonce {
		return "", fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}

	// Add the "openid" scope, which is a required scope for oidc flows
	scopes := append([]string{"openid"}, cfg.Scopes...)

	oauth2Config := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: string(cfg.ClientSecret),
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
		Scopes: scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if cfg.Flow.IsImplicit() {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_type", "id_token token"))
	}
	for k, v := range customParams {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}
	return oauth2Config.AuthCodeURL(state, authCodeOpts...), nil
}
