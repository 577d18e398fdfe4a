package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spa-auth/oidcflow/oidc"
)

type fakeStorage struct {
	mu       sync.Mutex
	setSlots map[oidc.ParamsSlot]map[string]string
}

func (f *fakeStorage) AuthStateControl(ctx context.Context, configID string) (string, error) {
	return "", nil
}

func (f *fakeStorage) SetAuthStateControl(ctx context.Context, configID string, state string) error {
	return nil
}

func (f *fakeStorage) CustomRequestParams(ctx context.Context, configID string, slot oidc.ParamsSlot) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setSlots[slot], nil
}

func (f *fakeStorage) SetCustomRequestParams(ctx context.Context, configID string, slot oidc.ParamsSlot, params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setSlots == nil {
		f.setSlots = map[oidc.ParamsSlot]map[string]string{}
	}
	f.setSlots[slot] = params
	return nil
}

type fakeMetadata struct {
	cached       *oidc.ProviderMetadata
	fetchResult  *oidc.ProviderMetadata
	fetchErr     error
	fetchDelay   time.Duration
	fetches      int32
	fetchStarted chan struct{}
	startedOnce  sync.Once
}

func (f *fakeMetadata) Metadata(ctx context.Context, configID string) (*oidc.ProviderMetadata, error) {
	return f.cached, nil
}

func (f *fakeMetadata) Fetch(ctx context.Context, configID string, wellKnownURL string) (*oidc.ProviderMetadata, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.fetchStarted != nil {
		f.startedOnce.Do(func() { close(f.fetchStarted) })
	}
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchResult, nil
}

type fakeSessionReader struct {
	snap *oidc.SessionSnapshot
	err  error
}

func (f *fakeSessionReader) Snapshot(ctx context.Context, configID string) (*oidc.SessionSnapshot, error) {
	return f.snap, f.err
}

type fakeExchanger struct {
	calls  int32
	result *oidc.CallbackContext
	err    error
}

func (f *fakeExchanger) ExchangeRefreshToken(ctx context.Context, configID string, customParams map[string]string) (*oidc.CallbackContext, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

// fakeRenewer delivers its result on the n-th subscription after
// timeoutSubs initial subscriptions that never complete.  With closeOnDone
// set it instead closes each subscription's channel when its ctx ends,
// without ever delivering a result.
type fakeRenewer struct {
	renewErr    error
	result      *oidc.CallbackContext
	timeoutSubs int32
	closeOnDone bool
	renewCalls  int32
	subs        int32
}

func (f *fakeRenewer) Renew(ctx context.Context, configID string, customParams map[string]string) error {
	atomic.AddInt32(&f.renewCalls, 1)
	return f.renewErr
}

func (f *fakeRenewer) Completed(ctx context.Context, configID string) <-chan *oidc.CallbackContext {
	n := atomic.AddInt32(&f.subs, 1)
	ch := make(chan *oidc.CallbackContext, 1)
	if f.closeOnDone {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	if f.result != nil && n > f.timeoutSubs {
		go func() {
			select {
			case ch <- f.result:
			case <-ctx.Done():
			}
		}()
	}
	return ch
}

type refresherParts struct {
	guard     *oidc.RenewalGuard
	storage   *fakeStorage
	metadata  *fakeMetadata
	session   *fakeSessionReader
	exchanger *fakeExchanger
	renewer   *fakeRenewer
}

func testRefresher(t *testing.T, parts *refresherParts) *Refresher {
	t.Helper()
	if parts.guard == nil {
		parts.guard = oidc.NewRenewalGuard()
	}
	if parts.storage == nil {
		parts.storage = &fakeStorage{}
	}
	if parts.metadata == nil {
		parts.metadata = &fakeMetadata{fetchResult: oidc.TestProviderMetadata(t, "https://idp.example.com")}
	}
	if parts.session == nil {
		parts.session = &fakeSessionReader{snap: &oidc.SessionSnapshot{Valid: true}}
	}
	if parts.exchanger == nil {
		parts.exchanger = &fakeExchanger{result: &oidc.CallbackContext{}}
	}
	if parts.renewer == nil {
		parts.renewer = &fakeRenewer{}
	}
	r, err := NewRefresher(parts.guard, parts.storage, parts.metadata, parts.session, parts.exchanger, parts.renewer)
	require.NoError(t, err)
	r.backoffUnit = 2 * time.Millisecond
	return r
}

func testConfig(t *testing.T, flow oidc.Flow) *oidc.Config {
	t.Helper()
	cfg, err := oidc.NewConfig("c1", "https://idp.example.com", "client-id", flow,
		oidc.WithSilentRenewTimeout(25*time.Millisecond))
	require.NoError(t, err)
	return cfg
}

func TestNewRefresher(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := testRefresher(t, &refresherParts{})
		require.NotNil(t, r)
	})
	t.Run("nil-collaborators", func(t *testing.T) {
		_, err := NewRefresher(nil, nil, nil, nil, nil, nil)
		require.ErrorIs(t, err, oidc.ErrNilParameter)
	})
}

func TestRefresher_ForceRefresh_RefreshTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("valid-tokens-build-login-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			session: &fakeSessionReader{snap: &oidc.SessionSnapshot{
				IDToken:     "stored-idt",
				AccessToken: "stored-at",
				UserData:    map[string]interface{}{"sub": "alice"},
				Valid:       true,
			}},
			renewer: &fakeRenewer{},
		}
		r := testRefresher(t, parts)

		got, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal(oidc.IDToken("stored-idt"), got.IDToken)
		assert.Equal("stored-at", got.AccessToken)
		assert.Equal(map[string]interface{}{"sub": "alice"}, got.UserData)
		assert.True(got.IsAuthenticated)
		assert.Equal("c1", got.ConfigID)

		assert.Equal(int32(1), atomic.LoadInt32(&parts.exchanger.calls))
		assert.Zero(atomic.LoadInt32(&parts.renewer.subs), "refresh token path must not wait on the frame signal")
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("invalid-tokens-yield-nil", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			session: &fakeSessionReader{snap: &oidc.SessionSnapshot{Valid: false}},
		}
		r := testRefresher(t, parts)

		got, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.NoError(err)
		assert.Nil(got)
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("grant-failure-surfaces-and-releases-guard", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cause := errors.New("grant failed")
		parts := &refresherParts{exchanger: &fakeExchanger{err: cause}}
		r := testRefresher(t, parts)

		_, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.Error(err)
		assert.ErrorIs(err, cause)
		assert.False(parts.guard.InProgress("c1"))
	})
}

func TestRefresher_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("already-in-progress-is-a-noop", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{guard: oidc.NewRenewalGuard()}
		r := testRefresher(t, parts)
		require.True(parts.guard.TryAcquire("c1"))

		cbctx, started, err := r.Start(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.NoError(err)
		assert.Nil(cbctx)
		assert.False(started)
		assert.Zero(atomic.LoadInt32(&parts.metadata.fetches), "a no-op must not fetch metadata")
		assert.Zero(atomic.LoadInt32(&parts.exchanger.calls))
	})

	t.Run("missing-well-known-endpoint-is-a-noop", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{}
		r := testRefresher(t, parts)
		cfg := testConfig(t, oidc.FlowImplicit)
		cfg.WellKnownEndpoint = ""

		cbctx, started, err := r.Start(ctx, cfg, nil)
		require.NoError(err)
		assert.Nil(cbctx)
		assert.False(started)
		assert.Zero(atomic.LoadInt32(&parts.metadata.fetches))
		assert.Zero(atomic.LoadInt32(&parts.renewer.renewCalls))
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("cached-metadata-skips-the-fetch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			metadata: &fakeMetadata{cached: oidc.TestProviderMetadata(t, "https://idp.example.com")},
		}
		r := testRefresher(t, parts)

		_, started, err := r.Start(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.NoError(err)
		assert.True(started)
		assert.Zero(atomic.LoadInt32(&parts.metadata.fetches))
		parts.guard.Release("c1")
	})

	t.Run("metadata-failure-releases-guard", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cause := errors.New("discovery down")
		parts := &refresherParts{metadata: &fakeMetadata{fetchErr: cause}}
		r := testRefresher(t, parts)

		_, started, err := r.Start(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.Error(err)
		assert.ErrorIs(err, cause)
		assert.False(started)
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("concurrent-starts-yield-one-renewal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			metadata: &fakeMetadata{
				fetchResult:  oidc.TestProviderMetadata(t, "https://idp.example.com"),
				fetchDelay:   20 * time.Millisecond,
				fetchStarted: make(chan struct{}),
			},
		}
		r := testRefresher(t, parts)
		cfg := testConfig(t, oidc.FlowCodeWithRefreshTokens)

		first := make(chan error, 1)
		go func() {
			_, _, err := r.Start(ctx, cfg, nil)
			first <- err
		}()

		// wait until the first renewal is inside the metadata fetch
		<-parts.metadata.fetchStarted
		cbctx, started, err := r.Start(ctx, cfg, nil)
		require.NoError(err)
		assert.Nil(cbctx)
		assert.False(started, "second concurrent start must be a no-op")

		require.NoError(<-first)
		assert.Equal(int32(1), atomic.LoadInt32(&parts.metadata.fetches))
		assert.Equal(int32(1), atomic.LoadInt32(&parts.exchanger.calls))
		parts.guard.Release("c1")
	})
}

func TestRefresher_ForceRefresh_Frame(t *testing.T) {
	ctx := context.Background()

	t.Run("login-response-comes-from-the-frame-signal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			session: &fakeSessionReader{snap: &oidc.SessionSnapshot{
				IDToken:     "stored-idt",
				AccessToken: "stored-at",
				UserData:    "alice",
				Valid:       true,
			}},
			renewer: &fakeRenewer{result: &oidc.CallbackContext{
				IsRenewProcess: true,
				AuthResult:     &oidc.AuthResult{IDToken: "signal-idt", AccessToken: "signal-at"},
			}},
		}
		r := testRefresher(t, parts)

		got, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowImplicit), nil)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal(oidc.IDToken("signal-idt"), got.IDToken, "tokens must come from the signal, not storage")
		assert.Equal("signal-at", got.AccessToken)
		assert.Equal("alice", got.UserData)
		assert.True(got.IsAuthenticated)
		assert.Equal(int32(1), atomic.LoadInt32(&parts.renewer.renewCalls))
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("timeouts-retry-with-backoff-until-success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			renewer: &fakeRenewer{
				timeoutSubs: 2,
				result:      &oidc.CallbackContext{AuthResult: &oidc.AuthResult{IDToken: "idt", AccessToken: "at"}},
			},
		}
		r := testRefresher(t, parts)

		start := time.Now()
		got, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowImplicit), nil)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal(int32(3), atomic.LoadInt32(&parts.renewer.subs))
		assert.Equal(int32(3), atomic.LoadInt32(&parts.renewer.renewCalls))
		// attempts 1 and 2 time out, with linear backoff in between
		assert.GreaterOrEqual(time.Since(start), 2*(25*time.Millisecond)+3*r.backoffUnit)
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("retries-exhaust-after-the-bound", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{renewer: &fakeRenewer{}} // never completes
		r := testRefresher(t, parts)

		_, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowImplicit), nil)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrRetryExhausted)
		// the initial attempt plus maxRetryAttempts retries
		assert.Equal(int32(4), atomic.LoadInt32(&parts.renewer.subs))
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("closed-signal-channel-is-not-a-completion", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{renewer: &fakeRenewer{closeOnDone: true}}
		r := testRefresher(t, parts)

		resp, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowImplicit), nil)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrRetryExhausted)
		assert.Nil(resp, "a closed channel must never yield a token-less success")
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("non-timeout-failure-is-terminal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cause := errors.New("frame could not be created")
		parts := &refresherParts{renewer: &fakeRenewer{renewErr: cause}}
		r := testRefresher(t, parts)

		_, err := r.ForceRefresh(ctx, testConfig(t, oidc.FlowImplicit), nil)
		require.Error(err)
		assert.ErrorIs(err, cause)
		assert.NotErrorIs(err, oidc.ErrRetryExhausted)
		assert.Equal(int32(1), atomic.LoadInt32(&parts.renewer.subs), "non-timeout failures must not retry")
		assert.False(parts.guard.InProgress("c1"))
	})

	t.Run("caller-cancellation-stops-the-retry-loop", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{renewer: &fakeRenewer{}}
		r := testRefresher(t, parts)

		shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := r.ForceRefresh(shortCtx, testConfig(t, oidc.FlowImplicit), nil)
		require.Error(err)
		assert.ErrorIs(err, context.DeadlineExceeded)
		assert.False(parts.guard.InProgress("c1"))
	})
}

func TestRefresher_UserForceRefresh(t *testing.T) {
	ctx := context.Background()
	extra := map[string]string{"prompt": "none"}

	t.Run("refresh-token-flow-persists-to-refresh-slot", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{storage: &fakeStorage{}}
		r := testRefresher(t, parts)

		_, err := r.UserForceRefresh(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), extra)
		require.NoError(err)
		assert.Equal(extra, parts.storage.setSlots[oidc.SlotRefresh])
		assert.NotContains(parts.storage.setSlots, oidc.SlotAuthRequest)
	})

	t.Run("frame-flow-persists-to-auth-request-slot", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{
			storage: &fakeStorage{},
			renewer: &fakeRenewer{result: &oidc.CallbackContext{AuthResult: &oidc.AuthResult{}}},
		}
		r := testRefresher(t, parts)

		_, err := r.UserForceRefresh(ctx, testConfig(t, oidc.FlowCode), extra)
		require.NoError(err)
		assert.Equal(extra, parts.storage.setSlots[oidc.SlotAuthRequest])
		assert.NotContains(parts.storage.setSlots, oidc.SlotRefresh)
	})

	t.Run("no-extra-params-skips-storage", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		parts := &refresherParts{storage: &fakeStorage{}}
		r := testRefresher(t, parts)

		_, err := r.UserForceRefresh(ctx, testConfig(t, oidc.FlowCodeWithRefreshTokens), nil)
		require.NoError(err)
		assert.Empty(parts.storage.setSlots)
	})

	t.Run("nil-config", func(t *testing.T) {
		r := testRefresher(t, &refresherParts{})
		_, err := r.UserForceRefresh(ctx, nil, nil)
		require.ErrorIs(t, err, oidc.ErrNilParameter)
	})
}
