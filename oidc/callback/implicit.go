package callback

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/spa-auth/oidcflow/oidc"
)

// Implicit orchestrates an implicit-flow callback: it delegates the actual
// extraction/validation/token handling to a CallbackProcessor and owns what
// happens around it, routing the application on the outcome and cleaning up
// renewal state on failure.
type Implicit struct {
	processor oidc.CallbackProcessor
	guard     *oidc.RenewalGuard
	interval  oidc.IntervalCheck
	nav       oidc.Navigator
	logger    hclog.Logger
}

// NewImplicit creates an implicit-flow callback orchestrator.
//
// Supported options: WithLogger
func NewImplicit(processor oidc.CallbackProcessor, guard *oidc.RenewalGuard, interval oidc.IntervalCheck, nav oidc.Navigator, opt ...Option) (*Implicit, error) {
	const op = "callback.NewImplicit"
	var errs *multierror.Error
	if processor == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: callback processor is nil: %w", op, oidc.ErrNilParameter))
	}
	if guard == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: renewal guard is nil: %w", op, oidc.ErrNilParameter))
	}
	if interval == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: interval check is nil: %w", op, oidc.ErrNilParameter))
	}
	if nav == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: navigator is nil: %w", op, oidc.ErrNilParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	opts := getCallbackOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Implicit{
		processor: processor,
		guard:     guard,
		interval:  interval,
		nav:       nav,
		logger:    logger.Named("implicit"),
	}, nil
}

// AuthenticatedCallback completes an implicit-flow callback for the given
// configuration.  On success it navigates to the post-login route, unless
// the configuration delivers events instead or the callback belongs to a
// silent renewal (which runs in a hidden context and must never navigate).
//
// On failure the silent-renewal guard is released and the periodic expiry
// check is stopped unconditionally; a renewal that fails may never produce a
// context flagged as a renewal, so the flag captured before delegation is
// the only reliable signal for routing the failure.
func (o *Implicit) AuthenticatedCallback(ctx context.Context, cfg *oidc.Config, allConfigs []*oidc.Config, hash string) (*oidc.CallbackContext, error) {
	const op = "callback.Implicit.AuthenticatedCallback"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, oidc.ErrNilParameter)
	}

	// read before delegating; see the failure path below
	wasRenewing := o.guard.InProgress(cfg.ConfigID)

	cbctx, err := o.processor.ProcessCallback(ctx, cfg, allConfigs, hash)
	if err != nil {
		o.guard.Release(cfg.ConfigID)
		o.interval.Stop(cfg.ConfigID)
		o.logger.Error("implicit callback failed", "config_id", cfg.ConfigID, "authority", cfg.Authority, "err", err)
		if !cfg.EventDelivery && !wasRenewing {
			o.nav.Navigate(cfg.UnauthorizedRoute)
		}
		return nil, fmt.Errorf("%s: implicit callback failed: %w", op, err)
	}

	if !cfg.EventDelivery && !cbctx.IsRenewProcess {
		o.nav.Navigate(cfg.PostLoginRoute)
	}
	return cbctx, nil
}
