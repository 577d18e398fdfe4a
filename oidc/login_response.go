package oidc

// LoginResponse is the outcome of a renewal, constructed fresh per call and
// never persisted by this module.
type LoginResponse struct {
	IDToken         IDToken
	AccessToken     string
	UserData        interface{}
	IsAuthenticated bool
	ConfigID        string
}
