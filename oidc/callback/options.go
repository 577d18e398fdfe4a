package callback

import (
	"github.com/hashicorp/go-hclog"

	"github.com/spa-auth/oidcflow/oidc"
)

// Option defines a common functional options type for the package's
// handlers.
type Option = oidc.Option

// callbackOptions is the set of available options for NewCodeFlow and
// NewImplicit
type callbackOptions struct {
	withLogger hclog.Logger
}

func callbackDefaults() callbackOptions {
	return callbackOptions{}
}

// getCallbackOpts gets the defaults and applies the opt overrides passed in
func getCallbackOpts(opt ...Option) callbackOptions {
	opts := callbackDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional hclog.Logger for: CodeFlow, Implicit
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok {
			v.withLogger = l
		}
	}
}
