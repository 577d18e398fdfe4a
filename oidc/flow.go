package oidc

// Flow is the closed set of supported authentication flows for a provider
// configuration.  Dispatch on a Flow should go through its predicates, so the
// decision points stay in one place.
type Flow int

const (
	// FlowCode is the authorization code flow without refresh tokens; an
	// expiring session is renewed through a hidden-frame silent renewal.
	FlowCode Flow = iota

	// FlowCodeWithRefreshTokens is the authorization code flow where the
	// provider issues refresh tokens; an expiring session is renewed with a
	// refresh-token grant.
	FlowCodeWithRefreshTokens

	// FlowImplicit is the implicit flow; tokens arrive directly in the
	// redirect fragment and renewal uses a hidden frame.
	FlowImplicit
)

// UsesRefreshTokens reports whether session renewal for this flow goes
// through a refresh-token grant instead of a hidden-frame renewal.
func (f Flow) UsesRefreshTokens() bool {
	return f == FlowCodeWithRefreshTokens
}

// IsImplicit reports whether this is the implicit flow.
func (f Flow) IsImplicit() bool {
	return f == FlowImplicit
}

func (f Flow) valid() bool {
	switch f {
	case FlowCode, FlowCodeWithRefreshTokens, FlowImplicit:
		return true
	}
	return false
}

func (f Flow) String() string {
	switch f {
	case FlowCode:
		return "code"
	case FlowCodeWithRefreshTokens:
		return "code-with-refresh-tokens"
	case FlowImplicit:
		return "implicit"
	}
	return "unknown"
}
