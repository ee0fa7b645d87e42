package pipeline

import (
	"context"
	"errors"

	"github.com/telekom/mcauth/pkg/accounts"
	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/minecraft"
	"github.com/telekom/mcauth/pkg/msa"
	"github.com/telekom/mcauth/pkg/xbox"
)

// State is one step of the sign-in flow. The set is closed.
type State interface {
	Name() string
	Terminal() bool
	state()
}

// Failure is implemented by every terminal state except Completed.
type Failure interface {
	State
	Err() error
}

type progress struct{}

func (progress) Terminal() bool { return false }
func (progress) state()         {}

type Idle struct{ progress }

type DeviceCodeRequested struct {
	progress
	Session *msa.DeviceCodeSession
}

type PollingForAuthorization struct {
	progress
	Session *msa.DeviceCodeSession
	Polls   int
}

type TokenAcquired struct {
	progress
	Tokens *msa.TokenSet
}

type XblAuthenticated struct {
	progress
	Tokens *msa.TokenSet
	XBL    *xbox.FederatedToken
}

type XstsAuthorized struct {
	progress
	Tokens *msa.TokenSet
	XSTS   *xbox.FederatedToken
}

type IdentityExchanged struct {
	progress
	Tokens *msa.TokenSet
	Bearer *minecraft.Bearer
}

type ProfileVerified struct {
	progress
	Tokens  *msa.TokenSet
	Bearer  *minecraft.Bearer
	Profile *minecraft.Profile
}

type Completed struct {
	Account *accounts.MicrosoftAccount
	Profile *minecraft.Profile
}

func (Completed) Terminal() bool { return true }
func (Completed) state()         {}

type failure struct{ err error }

func (failure) Terminal() bool { return true }
func (failure) state()         {}
func (f failure) Err() error   { return f.err }

type Expired struct{ failure }
type Denied struct{ failure }
type XblRejected struct{ failure }

type XstsRejected struct {
	failure
	Reason autherr.XstsReason
	XErr   uint32
}

type MinecraftAuthFailed struct{ failure }
type ProfileNotFound struct{ failure }

// EntitlementMissing keeps the profile so callers can name the account.
type EntitlementMissing struct {
	failure
	Profile *minecraft.Profile
}

type NetworkFailed struct{ failure }
type ProtocolFailed struct{ failure }
type Cancelled struct{ failure }

func (Idle) Name() string                    { return "Idle" }
func (DeviceCodeRequested) Name() string     { return "DeviceCodeRequested" }
func (PollingForAuthorization) Name() string { return "PollingForAuthorization" }
func (TokenAcquired) Name() string           { return "TokenAcquired" }
func (XblAuthenticated) Name() string        { return "XblAuthenticated" }
func (XstsAuthorized) Name() string          { return "XstsAuthorized" }
func (IdentityExchanged) Name() string       { return "IdentityExchanged" }
func (ProfileVerified) Name() string         { return "ProfileVerified" }
func (Completed) Name() string               { return "Completed" }
func (Expired) Name() string                 { return "Expired" }
func (Denied) Name() string                  { return "Denied" }
func (XblRejected) Name() string             { return "XblRejected" }
func (XstsRejected) Name() string            { return "XstsRejected" }
func (MinecraftAuthFailed) Name() string     { return "MinecraftAuthFailed" }
func (ProfileNotFound) Name() string         { return "ProfileNotFound" }
func (EntitlementMissing) Name() string      { return "EntitlementMissing" }
func (NetworkFailed) Name() string           { return "NetworkFailed" }
func (ProtocolFailed) Name() string          { return "ProtocolFailed" }
func (Cancelled) Name() string               { return "Cancelled" }

// failureState maps a hop error to its terminal state. ctxErr is the flow
// context's error; a cancelled flow is Cancelled whatever the hop reported.
func failureState(err, ctxErr error) Failure {
	if ctxErr != nil {
		return Cancelled{failure{ctxErr}}
	}
	var aerr *autherr.Error
	if !errors.As(err, &aerr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Cancelled{failure{err}}
		}
		return ProtocolFailed{failure{err}}
	}
	f := failure{err}
	switch aerr.Kind {
	case autherr.KindNetwork:
		return NetworkFailed{f}
	case autherr.KindExpired:
		return Expired{f}
	case autherr.KindDenied:
		return Denied{f}
	case autherr.KindXblRejected:
		return XblRejected{f}
	case autherr.KindXstsRejected:
		return XstsRejected{failure: f, Reason: aerr.Reason, XErr: aerr.XErr}
	case autherr.KindMinecraftAuthFailed:
		return MinecraftAuthFailed{f}
	case autherr.KindProfileNotFound:
		return ProfileNotFound{f}
	case autherr.KindEntitlementMissing:
		return EntitlementMissing{failure: f}
	default:
		return ProtocolFailed{f}
	}
}
