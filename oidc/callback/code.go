package callback

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/spa-auth/oidcflow/oidc"
)

// CodeFlow completes the authorization code flow callback: it extracts the
// returned parameters, validates the anti-forgery state against the stored
// control value and exchanges the code for tokens at the provider's token
// endpoint.
type CodeFlow struct {
	storage  oidc.Storage
	metadata oidc.MetadataStore
	poster   oidc.FormPoster
	logger   hclog.Logger
}

// NewCodeFlow creates a code-flow callback handler.
//
// Supported options: WithLogger
func NewCodeFlow(storage oidc.Storage, metadata oidc.MetadataStore, poster oidc.FormPoster, opt ...Option) (*CodeFlow, error) {
	const op = "callback.NewCodeFlow"
	var errs *multierror.Error
	if storage == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: storage is nil: %w", op, oidc.ErrNilParameter))
	}
	if metadata == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: metadata store is nil: %w", op, oidc.ErrNilParameter))
	}
	if poster == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: form poster is nil: %w", op, oidc.ErrNilParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	opts := getCallbackOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CodeFlow{
		storage:  storage,
		metadata: metadata,
		poster:   poster,
		logger:   logger.Named("code-flow"),
	}, nil
}

// Callback extracts the code, state and session_state parameters from the
// provider's redirect back to the application.  The state is checked before
// the code.  The returned context is fresh, with every downstream field
// still unset.  Callback has no network or storage side effects.
func (c *CodeFlow) Callback(returnURL string, cfg *oidc.Config) (*oidc.CallbackContext, error) {
	const op = "callback.CodeFlow.Callback"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse return url: %w", op, err)
	}
	q := u.Query()

	state := q.Get("state")
	if state == "" {
		return nil, fmt.Errorf("%s: no state in return url: %w", op, oidc.ErrMissingState)
	}
	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%s: no code in return url: %w", op, oidc.ErrMissingCode)
	}

	c.logger.Debug("code callback received", "config_id", cfg.ConfigID, "session_state", q.Get("session_state") != "")
	return &oidc.CallbackContext{
		Code:           code,
		State:          state,
		SessionState:   q.Get("session_state"),
		IsRenewProcess: false,
	}, nil
}

// CodeRequest exchanges the context's authorization code for tokens.  The
// stored anti-forgery value must equal the context's state and the token
// endpoint must already be cached, or the exchange fails without a network
// call.  Transport failures caused by a connectivity loss are retried on the
// configuration's refresh retry delay until the network returns or ctx is
// cancelled; every other failure surfaces immediately as a
// *oidc.TokenExchangeError.
//
// On success the state and session_state are stamped onto the raw result,
// the context's AuthResult is set and the same context is returned.
func (c *CodeFlow) CodeRequest(ctx context.Context, cbctx *oidc.CallbackContext, cfg *oidc.Config) (*oidc.CallbackContext, error) {
	const op = "callback.CodeFlow.CodeRequest"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}
	if cbctx == nil {
		return nil, fmt.Errorf("%s: callback context is nil: %w", op, oidc.ErrNilParameter)
	}
	if cbctx.Code == "" || cbctx.State == "" {
		return nil, fmt.Errorf("%s: callback context has an empty code or state: %w", op, oidc.ErrInvalidParameter)
	}

	control, err := c.storage.AuthStateControl(ctx, cfg.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read stored state control: %w", op, err)
	}
	if control != cbctx.State {
		c.logger.Error("returned state does not match stored control", "config_id", cfg.ConfigID, "authority", cfg.Authority)
		return nil, fmt.Errorf("%s: returned state does not equal the stored control value: %w", op, oidc.ErrStateMismatch)
	}

	md, err := c.metadata.Metadata(ctx, cfg.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read provider metadata: %w", op, err)
	}
	if md == nil || md.TokenEndpoint == "" {
		c.logger.Error("no token endpoint cached", "config_id", cfg.ConfigID, "authority", cfg.Authority)
		return nil, fmt.Errorf("%s: no token endpoint cached for %q: %w", op, cfg.ConfigID, oidc.ErrMissingTokenEndpoint)
	}

	body := url.Values{}
	body.Set("grant_type", "authorization_code")
	body.Set("client_id", cfg.ClientID)
	body.Set("code", cbctx.Code)
	if cfg.RedirectURL != "" {
		body.Set("redirect_uri", cfg.RedirectURL)
	}
	for k, v := range cfg.CustomTokenParams {
		body.Set(k, v)
	}

	for {
		result, err := c.poster.PostForm(ctx, md.TokenEndpoint, body, cfg.ConfigID, nil)
		if err == nil {
			result.State = cbctx.State
			result.SessionState = cbctx.SessionState
			cbctx.AuthResult = result
			return cbctx, nil
		}
		if !oidc.IsConnectivityError(err) {
			exchangeErr := &oidc.TokenExchangeError{Authority: cfg.Authority, Err: err}
			c.logger.Error("code exchange failed", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", exchangeErr)
			return nil, fmt.Errorf("%s: %w", op, exchangeErr)
		}

		// the device will regain connectivity at some point; keep waiting
		c.logger.Warn("no connectivity during code exchange, retrying", "config_id", cfg.ConfigID, "retry_in", cfg.RefreshRetryDelay)
		timer := time.NewTimer(cfg.RefreshRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: code exchange abandoned: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}
