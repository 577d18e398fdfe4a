package oidc

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithLogger provides an optional hclog.Logger for: HTTPFormPoster,
// DiscoveryMetadataStore.  The callback and session packages carry their own
// WithLogger for their constructors.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *formPosterOptions:
			v.withLogger = l
		case *metadataStoreOptions:
			v.withLogger = l
		}
	}
}

// WithPrefix provides an optional prefix for: NewID
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if v, ok := o.(*idOptions); ok {
			v.withPrefix = prefix
		}
	}
}
