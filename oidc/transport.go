package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// FormPoster issues form-encoded POSTs to a provider endpoint and parses the
// JSON response.  Errors are classified: connectivity losses satisfy
// IsConnectivityError, non-2xx statuses unwrap to a *HTTPStatusError.
type FormPoster interface {
	PostForm(ctx context.Context, endpoint string, body url.Values, configID string, hdr http.Header) (*AuthResult, error)
}

// NewHTTPClient creates a pooled http client which will use the optional CA
// certificate PEM if provided, otherwise it will use the installed system CA
// chain.
func NewHTTPClient(caPEM string) (*http.Client, error) {
	const op = "oidc.NewHTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPFormPoster implements FormPoster over a pooled http client.
type HTTPFormPoster struct {
	client *http.Client
	logger hclog.Logger
}

// ensure that HTTPFormPoster implements the FormPoster interface
var _ FormPoster = (*HTTPFormPoster)(nil)

// NewHTTPFormPoster creates a FormPoster for the provider's token endpoint.
//
// Supported options: WithProviderCA, WithHTTPClient, WithLogger
func NewHTTPFormPoster(opt ...Option) (*HTTPFormPoster, error) {
	const op = "oidc.NewHTTPFormPoster"
	opts := getFormPosterOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = NewHTTPClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPFormPoster{
		client: client,
		logger: logger.Named("transport"),
	}, nil
}

// PostForm implements FormPoster.  Transport failures keep their underlying
// cause in the error chain so IsConnectivityError can distinguish a
// connectivity loss (dial, DNS, timeout) from a terminal failure such as a
// certificate error; non-2xx statuses become a *HTTPStatusError.
func (p *HTTPFormPoster) PostForm(ctx context.Context, endpoint string, body url.Values, configID string, hdr http.Header) (*AuthResult, error) {
	const op = "oidc.HTTPFormPoster.PostForm"
	if endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is empty: %w", op, ErrInvalidParameter)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: request aborted: %w", op, ctx.Err())
		}
		p.logger.Debug("transport failure", "config_id", configID, "endpoint", endpoint, "err", err)
		return nil, fmt.Errorf("%s: unable to reach %s: %w", op, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw})
	}
	result, err := ParseAuthResult(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// formPosterOptions is the set of available options for NewHTTPFormPoster
type formPosterOptions struct {
	withProviderCA string
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

func formPosterDefaults() formPosterOptions {
	return formPosterOptions{}
}

// getFormPosterOpts gets the defaults and applies the opt overrides passed
// in
func getFormPosterOpts(opt ...Option) formPosterOptions {
	opts := formPosterDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderCA provides an optional CA cert PEM to trust when talking to
// the provider, for: HTTPFormPoster, DiscoveryMetadataStore
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *formPosterOptions:
			v.withProviderCA = caPEM
		case *metadataStoreOptions:
			v.withProviderCA = caPEM
		}
	}
}

// WithHTTPClient provides an optional preconfigured http client for:
// HTTPFormPoster
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*formPosterOptions); ok {
			v.withHTTPClient = c
		}
	}
}
