package session

import (
	"github.com/hashicorp/go-hclog"

	"github.com/spa-auth/oidcflow/oidc"
)

// Option defines a common functional options type for the package.
type Option = oidc.Option

// sessionOptions is the set of available options for NewRefresher
type sessionOptions struct {
	withLogger hclog.Logger
}

func sessionDefaults() sessionOptions {
	return sessionOptions{}
}

// getSessionOpts gets the defaults and applies the opt overrides passed in
func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional hclog.Logger for: Refresher
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*sessionOptions); ok {
			v.withLogger = l
		}
	}
}
