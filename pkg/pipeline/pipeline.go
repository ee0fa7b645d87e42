package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mcauth/pkg/accounts"
	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/minecraft"
	"github.com/telekom/mcauth/pkg/msa"
	"github.com/telekom/mcauth/pkg/system"
	"github.com/telekom/mcauth/pkg/utils"
	"github.com/telekom/mcauth/pkg/xbox"
)

type DeviceCodeFlow interface {
	StartDeviceFlow(ctx context.Context) (*msa.DeviceCodeSession, error)
	PollOnce(ctx context.Context, session *msa.DeviceCodeSession) (msa.PollResult, error)
}

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*msa.TokenSet, error)
}

type XboxLiveAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*xbox.FederatedToken, error)
}

type XstsAuthorizer interface {
	Authorize(ctx context.Context, xbl *xbox.FederatedToken) (*xbox.FederatedToken, error)
}

type GameIdentityExchanger interface {
	ExchangeIdentity(ctx context.Context, xsts *xbox.FederatedToken) (*minecraft.Bearer, error)
	FetchProfile(ctx context.Context, bearer string) (*minecraft.Profile, error)
	VerifyEntitlement(ctx context.Context, bearer string) (bool, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Components are the hop clients the pipeline drives. The msa client
// satisfies both Device and Refresher; the xbox client both XBL and XSTS.
type Components struct {
	Device    DeviceCodeFlow
	Refresher TokenRefresher
	XBL       XboxLiveAuthenticator
	XSTS      XstsAuthorizer
	Game      GameIdentityExchanger
}

type Pipeline struct {
	Components
	retry       utils.RetryConfig
	sleep       Sleeper
	now         func() time.Time
	log         *zap.SugaredLogger
	eventBuffer int
}

type Option func(*Pipeline)

func WithRetry(cfg utils.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithSleeper replaces the poll-interval wait. It also paces retries unless
// the retry config brings its own Sleep.
func WithSleeper(s Sleeper) Option {
	return func(p *Pipeline) { p.sleep = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithEventBuffer(n int) Option {
	return func(p *Pipeline) { p.eventBuffer = n }
}

const defaultEventBuffer = 32

func New(c Components, opts ...Option) (*Pipeline, error) {
	if c.Device == nil || c.Refresher == nil || c.XBL == nil || c.XSTS == nil || c.Game == nil {
		return nil, errors.New("pipeline: all hop components are required")
	}
	p := &Pipeline{
		Components:  c,
		retry:       utils.DefaultRetryConfig(),
		sleep:       utils.SleepContext,
		now:         time.Now,
		eventBuffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.Sleep == nil {
		p.retry.Sleep = p.sleep
	}
	if p.eventBuffer < 0 {
		p.eventBuffer = 0
	}
	p.log = system.OrNop(p.log)
	return p, nil
}

// Renew re-derives a game bearer for a stored account: refresh the Microsoft
// token, then run every federated hop again. The returned account carries the
// rotated refresh token; the caller persists it. When a hop after the refresh
// fails, the error is an *accounts.RotatedError carrying the new refresh token.
func (p *Pipeline) Renew(ctx context.Context, refreshToken string) (*accounts.MicrosoftAccount, error) {
	tokens, err := withRetry(ctx, p, func(ctx context.Context) (*msa.TokenSet, error) {
		return p.Refresher.Refresh(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	final := p.drive(ctx, TokenAcquired{Tokens: tokens}, nil)
	switch st := final.(type) {
	case Completed:
		return st.Account, nil
	case Failure:
		return nil, rotated(tokens, refreshToken, st.Err())
	default:
		return nil, rotated(tokens, refreshToken, autherr.Protocol("pipeline.renew", "", errors.New("flow ended in non-terminal state "+final.Name())))
	}
}

func rotated(tokens *msa.TokenSet, old string, err error) error {
	if tokens.RefreshToken == "" || tokens.RefreshToken == old {
		return err
	}
	return &accounts.RotatedError{RefreshToken: tokens.RefreshToken, Err: err}
}

// drive advances from st until a terminal state, reporting each state to emit.
func (p *Pipeline) drive(ctx context.Context, st State, emit func(State)) State {
	for !st.Terminal() {
		st = p.step(ctx, st)
		p.log.Debugw("Sign-in state changed", "state", st.Name())
		if emit != nil {
			emit(st)
		}
	}
	return st
}

// step performs the single transition out of st.
func (p *Pipeline) step(ctx context.Context, st State) State {
	if err := ctx.Err(); err != nil {
		return Cancelled{failure{err}}
	}
	switch s := st.(type) {
	case DeviceCodeRequested:
		return PollingForAuthorization{Session: s.Session}
	case PollingForAuthorization:
		return p.poll(ctx, s)
	case TokenAcquired:
		xbl, err := withRetry(ctx, p, func(ctx context.Context) (*xbox.FederatedToken, error) {
			return p.XBL.Authenticate(ctx, s.Tokens.AccessToken)
		})
		if err != nil {
			return failureState(err, ctx.Err())
		}
		return XblAuthenticated{Tokens: s.Tokens, XBL: xbl}
	case XblAuthenticated:
		xsts, err := withRetry(ctx, p, func(ctx context.Context) (*xbox.FederatedToken, error) {
			return p.XSTS.Authorize(ctx, s.XBL)
		})
		if err != nil {
			return failureState(err, ctx.Err())
		}
		return XstsAuthorized{Tokens: s.Tokens, XSTS: xsts}
	case XstsAuthorized:
		bearer, err := withRetry(ctx, p, func(ctx context.Context) (*minecraft.Bearer, error) {
			return p.Game.ExchangeIdentity(ctx, s.XSTS)
		})
		if err != nil {
			return failureState(err, ctx.Err())
		}
		return IdentityExchanged{Tokens: s.Tokens, Bearer: bearer}
	case IdentityExchanged:
		profile, err := withRetry(ctx, p, func(ctx context.Context) (*minecraft.Profile, error) {
			return p.Game.FetchProfile(ctx, s.Bearer.Token)
		})
		if err != nil {
			return failureState(err, ctx.Err())
		}
		return ProfileVerified{Tokens: s.Tokens, Bearer: s.Bearer, Profile: profile}
	case ProfileVerified:
		owned, err := withRetry(ctx, p, func(ctx context.Context) (bool, error) {
			return p.Game.VerifyEntitlement(ctx, s.Bearer.Token)
		})
		if err != nil {
			return failureState(err, ctx.Err())
		}
		if !owned {
			return EntitlementMissing{
				failure: failure{autherr.New(autherr.KindEntitlementMissing, "minecraft.entitlements", nil)},
				Profile: s.Profile,
			}
		}
		return Completed{Account: p.account(s), Profile: s.Profile}
	default:
		return ProtocolFailed{failure{errors.New("no transition out of state " + st.Name())}}
	}
}

// poll waits one interval and asks the token endpoint once.
func (p *Pipeline) poll(ctx context.Context, s PollingForAuthorization) State {
	if err := p.sleep(ctx, s.Session.Interval); err != nil {
		return Cancelled{failure{err}}
	}
	result, err := withRetry(ctx, p, func(ctx context.Context) (msa.PollResult, error) {
		return p.Device.PollOnce(ctx, s.Session)
	})
	if err != nil {
		return failureState(err, ctx.Err())
	}
	switch result.Status {
	case msa.PollPending:
		return PollingForAuthorization{Session: s.Session, Polls: s.Polls + 1}
	case msa.PollSlowDown:
		interval := s.Session.ApplySlowDown(result.SuggestedInterval)
		p.log.Infow("Token endpoint asked to slow down", "interval", interval.String())
		return PollingForAuthorization{Session: s.Session, Polls: s.Polls + 1}
	case msa.PollAuthorized:
		return TokenAcquired{Tokens: result.Tokens}
	case msa.PollExpired:
		return Expired{failure{autherr.New(autherr.KindExpired, "msa.poll", nil)}}
	case msa.PollDenied:
		return Denied{failure{autherr.New(autherr.KindDenied, "msa.poll", nil)}}
	default:
		return ProtocolFailed{failure{autherr.Protocol("msa.poll", "", errors.New("unknown poll status "+result.Status.String()))}}
	}
}

func (p *Pipeline) account(s ProfileVerified) *accounts.MicrosoftAccount {
	return &accounts.MicrosoftAccount{
		Name:            s.Profile.Name,
		UUID:            s.Profile.ID,
		AccessToken:     s.Bearer.Token,
		RefreshToken:    s.Tokens.RefreshToken,
		LastRefreshTime: p.now().UTC(),
		Email:           s.Tokens.Email(),
		ExpiresAt:       s.Bearer.ExpiresAt.UTC(),
	}
}

func withRetry[T any](ctx context.Context, p *Pipeline, fn func(ctx context.Context) (T, error)) (T, error) {
	return utils.Retry(ctx, p.retry, autherr.IsRetryable, fn)
}
