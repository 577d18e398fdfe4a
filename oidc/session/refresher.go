package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/spa-auth/oidcflow/oidc"
)

// maxRetryAttempts bounds how many timed-out hidden-frame renewals are
// retried before the failure surfaces.
const maxRetryAttempts = 3

// Refresher orchestrates session renewal for every configured provider.  It
// chooses between a refresh-token grant and a hidden-frame silent renewal,
// serializes renewals per configuration through a RenewalGuard, races
// hidden-frame renewals against the configuration's silent renew timeout and
// retries timed-out attempts with a linear backoff.
type Refresher struct {
	guard     *oidc.RenewalGuard
	storage   oidc.Storage
	metadata  oidc.MetadataStore
	session   oidc.SessionReader
	exchanger oidc.RefreshTokenExchanger
	renewer   oidc.SilentRenewer
	logger    hclog.Logger

	// backoffUnit scales the linear retry backoff (attempt * backoffUnit)
	backoffUnit time.Duration
}

// NewRefresher creates a session refresher.  The guard must be the same
// instance shared with the implicit-flow callback orchestrator, so its
// failure cleanup can unblock renewals.
//
// Supported options: WithLogger
func NewRefresher(guard *oidc.RenewalGuard, storage oidc.Storage, metadata oidc.MetadataStore, session oidc.SessionReader, exchanger oidc.RefreshTokenExchanger, renewer oidc.SilentRenewer, opt ...Option) (*Refresher, error) {
	const op = "session.NewRefresher"
	var errs *multierror.Error
	if guard == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: renewal guard is nil: %w", op, oidc.ErrNilParameter))
	}
	if storage == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: storage is nil: %w", op, oidc.ErrNilParameter))
	}
	if metadata == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: metadata store is nil: %w", op, oidc.ErrNilParameter))
	}
	if session == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: session reader is nil: %w", op, oidc.ErrNilParameter))
	}
	if exchanger == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: refresh token exchanger is nil: %w", op, oidc.ErrNilParameter))
	}
	if renewer == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: silent renewer is nil: %w", op, oidc.ErrNilParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	opts := getSessionOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Refresher{
		guard:       guard,
		storage:     storage,
		metadata:    metadata,
		session:     session,
		exchanger:   exchanger,
		renewer:     renewer,
		logger:      logger.Named("refresher"),
		backoffUnit: time.Second,
	}, nil
}

// UserForceRefresh persists the caller's extra parameters into the
// appropriate request slot (refresh-specific when the configuration uses
// refresh tokens, otherwise the auth-request slot) and then forces a
// session refresh.
func (r *Refresher) UserForceRefresh(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.LoginResponse, error) {
	const op = "session.Refresher.UserForceRefresh"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}
	if len(extraParams) > 0 {
		slot := oidc.SlotAuthRequest
		if cfg.Flow.UsesRefreshTokens() {
			slot = oidc.SlotRefresh
		}
		if err := r.storage.SetCustomRequestParams(ctx, cfg.ConfigID, slot, extraParams); err != nil {
			return nil, fmt.Errorf("%s: unable to persist extra parameters: %w", op, err)
		}
	}
	return r.ForceRefresh(ctx, cfg, extraParams)
}

// ForceRefresh renews the session for the configuration.  A nil response
// with a nil error is a legitimate "did not renew" outcome (a renewal was
// already running, the configuration cannot renew, or the renewed tokens
// were not valid); a non-nil error is always a terminal, surfaced failure.
func (r *Refresher) ForceRefresh(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.LoginResponse, error) {
	const op = "session.Refresher.ForceRefresh"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}
	if cfg.Flow.UsesRefreshTokens() {
		return r.refreshWithRefreshTokens(ctx, cfg, extraParams)
	}
	return r.refreshWithFrame(ctx, cfg, extraParams)
}

// refreshWithRefreshTokens performs the single refresh-token grant and then
// inspects the stored session.  The grant's own connectivity retry is the
// only resilience layer on this path; no timeout or bounded retry applies.
func (r *Refresher) refreshWithRefreshTokens(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.LoginResponse, error) {
	const op = "session.Refresher.refreshWithRefreshTokens"
	_, started, err := r.Start(ctx, cfg, extraParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !started {
		return nil, nil
	}
	defer r.guard.Release(cfg.ConfigID)

	snap, err := r.session.Snapshot(ctx, cfg.ConfigID)
	if err != nil {
		r.logger.Error("unable to read session after refresh", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
		return nil, fmt.Errorf("%s: unable to read session state: %w", op, err)
	}
	if !snap.Valid {
		r.logger.Debug("stored tokens invalid after refresh token grant", "config_id", cfg.ConfigID)
		return nil, nil
	}
	return &oidc.LoginResponse{
		IDToken:         snap.IDToken,
		AccessToken:     snap.AccessToken,
		UserData:        snap.UserData,
		IsAuthenticated: true,
		ConfigID:        cfg.ConfigID,
	}, nil
}

// refreshWithFrame renews through the hidden-frame collaborator, bounded by
// the configuration's silent renew timeout.  Timed-out attempts are retried
// up to maxRetryAttempts times with a linear backoff (attempt number times
// one second); any other failure, or a timeout past the bound, surfaces.
func (r *Refresher) refreshWithFrame(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.LoginResponse, error) {
	const op = "session.Refresher.refreshWithFrame"
	for attempt := 1; ; attempt++ {
		resp, err := r.renewOnce(ctx, cfg, extraParams)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, oidc.ErrRenewalTimeout):
			if attempt > maxRetryAttempts {
				r.logger.Error("silent renew retries exhausted", "config_id", cfg.ConfigID, "authority", cfg.Authority, "attempts", attempt)
				return nil, fmt.Errorf("%s: renewal timed out %d times: %w", op, attempt, oidc.ErrRetryExhausted)
			}
			delay := time.Duration(attempt) * r.backoffUnit
			r.logger.Warn("silent renew timed out, retrying", "config_id", cfg.ConfigID, "attempt", attempt, "retry_in", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%s: renewal abandoned: %w", op, ctx.Err())
			case <-timer.C:
			}
		default:
			r.logger.Error("silent renew failed", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
}

// renewOnce runs one hidden-frame renewal attempt: it subscribes to the
// frame's completion signal, starts the renewal concurrently and waits for
// both under the configuration's deadline.  The login response is built from
// the signal's result, not from the start call's return.  Whatever the
// outcome, the renewal guard is not left acquired.
func (r *Refresher) renewOnce(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.LoginResponse, error) {
	const op = "session.Refresher.renewOnce"
	raceCtx, cancel := context.WithTimeout(ctx, cfg.SilentRenewTimeout)
	defer cancel()

	// subscribe before starting so a fast completion cannot be missed
	completed := r.renewer.Completed(raceCtx, cfg.ConfigID)

	type startResult struct {
		started bool
		err     error
	}
	startCh := make(chan startResult, 1)
	go func() {
		_, started, err := r.Start(raceCtx, cfg, extraParams)
		startCh <- startResult{started: started, err: err}
	}()

	var cbctx *oidc.CallbackContext
	var started, gotSignal, gotStart bool
	for !gotSignal || !gotStart {
		select {
		case c, ok := <-completed:
			if !ok || c == nil {
				// a renewer may close its signal channel when the
				// subscription's ctx ends; that is not a completion
				completed = nil
				continue
			}
			cbctx = c
			gotSignal = true
		case res := <-startCh:
			gotStart = true
			if res.err != nil {
				// Start released the guard before surfacing
				return nil, res.err
			}
			if !res.started {
				return nil, nil
			}
			started = res.started
		case <-raceCtx.Done():
			// raceCtx's cancellation unblocks a Start still in flight, so
			// collecting its result here is bounded; the guard must not be
			// left acquired past this attempt.
			if !gotStart {
				if res := <-startCh; res.err == nil {
					started = res.started
				}
			}
			if started {
				r.guard.Release(cfg.ConfigID)
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%s: renewal abandoned: %w", op, err)
			}
			return nil, fmt.Errorf("%s: no completion within %s for %q: %w", op, cfg.SilentRenewTimeout, cfg.ConfigID, oidc.ErrRenewalTimeout)
		}
	}
	r.guard.Release(cfg.ConfigID)

	snap, err := r.session.Snapshot(ctx, cfg.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read session state: %w", op, err)
	}
	resp := &oidc.LoginResponse{
		UserData:        snap.UserData,
		IsAuthenticated: snap.Valid,
		ConfigID:        cfg.ConfigID,
	}
	if cbctx != nil && cbctx.AuthResult != nil {
		resp.IDToken = cbctx.AuthResult.IDToken
		resp.AccessToken = cbctx.AuthResult.AccessToken
	}
	return resp, nil
}

// Start begins one renewal for the configuration.  It returns (nil, false,
// nil) as a no-op when a renewal is already running or when the
// configuration has no well-known endpoint; (ctx, true, nil) after a
// completed refresh-token grant; and (nil, true, nil) once a hidden-frame
// renewal has been dispatched (completion then arrives through the
// renewer's signal).
//
// The renewal guard is acquired before the first suspension point and is
// released here on every error path.  On success the caller owns the
// release: ForceRefresh releases after inspecting the session, and the
// hidden-frame race releases when the signal or the timeout wins.
func (r *Refresher) Start(ctx context.Context, cfg *oidc.Config, extraParams map[string]string) (*oidc.CallbackContext, bool, error) {
	const op = "session.Refresher.Start"
	if cfg == nil {
		return nil, false, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}
	if !r.guard.TryAcquire(cfg.ConfigID) {
		r.logger.Debug("renewal already in progress", "config_id", cfg.ConfigID)
		return nil, false, nil
	}
	if cfg.WellKnownEndpoint == "" {
		r.guard.Release(cfg.ConfigID)
		r.logger.Error("no well-known endpoint configured, cannot renew", "config_id", cfg.ConfigID, "authority", cfg.Authority)
		return nil, false, nil
	}

	md, err := r.metadata.Metadata(ctx, cfg.ConfigID)
	if err == nil && md == nil {
		md, err = r.metadata.Fetch(ctx, cfg.ConfigID, cfg.WellKnownEndpoint)
	}
	if err != nil {
		r.guard.Release(cfg.ConfigID)
		r.logger.Error("unable to load provider metadata", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
		return nil, false, fmt.Errorf("%s: unable to load provider metadata: %w", op, err)
	}

	if cfg.Flow.UsesRefreshTokens() {
		cbctx, err := r.exchanger.ExchangeRefreshToken(ctx, cfg.ConfigID, extraParams)
		if err != nil {
			r.guard.Release(cfg.ConfigID)
			r.logger.Error("refresh token grant failed", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
			return nil, false, fmt.Errorf("%s: refresh token grant failed: %w", op, err)
		}
		return cbctx, true, nil
	}

	if err := r.renewer.Renew(ctx, cfg.ConfigID, extraParams); err != nil {
		r.guard.Release(cfg.ConfigID)
		r.logger.Error("unable to start hidden-frame renewal", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
		return nil, false, fmt.Errorf("%s: unable to start hidden-frame renewal: %w", op, err)
	}
	return nil, true, nil
}
