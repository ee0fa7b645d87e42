// Package autherr defines the error taxonomy shared by every hop of the
// federated sign-in chain and by the account store.
package autherr

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind classifies an error into one of the failure categories callers branch on.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork is a transient transport failure. It is retried locally.
	KindNetwork
	// KindProtocol is a response the client could not make sense of.
	KindProtocol
	KindExpired
	KindDenied
	KindXblRejected
	KindXstsRejected
	KindMinecraftAuthFailed
	KindProfileNotFound
	KindEntitlementMissing
	// KindRefreshInvalid means the stored refresh token was rejected and the
	// account needs a fresh device login.
	KindRefreshInvalid
	KindAccountNotFound
	// KindStorage is a persistence failure. It is never retried.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindProtocol:
		return "ProtocolError"
	case KindExpired:
		return "Expired"
	case KindDenied:
		return "Denied"
	case KindXblRejected:
		return "XblRejected"
	case KindXstsRejected:
		return "XstsRejected"
	case KindMinecraftAuthFailed:
		return "MinecraftAuthFailed"
	case KindProfileNotFound:
		return "ProfileNotFound"
	case KindEntitlementMissing:
		return "EntitlementMissing"
	case KindRefreshInvalid:
		return "RefreshInvalid"
	case KindAccountNotFound:
		return "AccountNotFound"
	case KindStorage:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// XstsReason is the mapped outcome of an XSTS rejection.
type XstsReason string

const (
	NoXboxAccount           XstsReason = "NoXboxAccount"
	RegionBlocked           XstsReason = "RegionBlocked"
	AgeVerificationRequired XstsReason = "AgeVerificationRequired"
	ChildAccountRestricted  XstsReason = "ChildAccountRestricted"
	XstsUnknownError        XstsReason = "XstsUnknownError"
)

// Error is the concrete error type returned by every package in this module.
type Error struct {
	Kind Kind
	// Op names the hop or store operation, e.g. "xsts.authorize".
	Op string
	// Reason is only set for KindXstsRejected.
	Reason XstsReason
	// XErr is the raw numeric XSTS code, zero when absent.
	XErr uint32
	// StatusCode is the HTTP status of the failing response, zero when none.
	StatusCode int
	// Raw holds the provider's diagnostic payload verbatim.
	Raw string
	Err error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.XErr != 0 {
		msg += " XErr=" + strconv.FormatUint(uint64(e.XErr), 10)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Raw != "" {
		msg += ": " + e.Raw
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors of the same Kind, and for XSTS rejections the
// same Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrProtocol            = &Error{Kind: KindProtocol}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrDenied              = &Error{Kind: KindDenied}
	ErrXblRejected         = &Error{Kind: KindXblRejected}
	ErrXstsRejected        = &Error{Kind: KindXstsRejected}
	ErrMinecraftAuthFailed = &Error{Kind: KindMinecraftAuthFailed}
	ErrProfileNotFound     = &Error{Kind: KindProfileNotFound}
	ErrEntitlementMissing  = &Error{Kind: KindEntitlementMissing}
	ErrRefreshInvalid      = &Error{Kind: KindRefreshInvalid}
	ErrAccountNotFound     = &Error{Kind: KindAccountNotFound}
	ErrStorage             = &Error{Kind: KindStorage}
)

// New builds an error of the given kind for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network wraps a transport failure.
func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Protocol reports an unexpected response shape along with the raw payload.
func Protocol(op string, raw string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Raw: raw, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a transient network failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// UserMessage returns a short actionable message for display.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if err == nil {
			return ""
		}
		return "Sign-in failed: " + err.Error()
	}
	switch e.Kind {
	case KindNetwork:
		return "Could not reach the sign-in service. Check your connection and try again."
	case KindProtocol:
		return "The sign-in service returned an unexpected response. Try again later."
	case KindExpired:
		return "The sign-in code expired before it was used. Start the login again."
	case KindDenied:
		return "Sign-in was declined in the browser."
	case KindXblRejected:
		return "Xbox Live rejected this Microsoft account: " + e.Raw
	case KindXstsRejected:
		return xstsMessage(e)
	case KindMinecraftAuthFailed:
		return "Minecraft services refused the Xbox identity. Try again later."
	case KindProfileNotFound:
		return "This Microsoft account has no Minecraft profile. Buy the game or create a profile first."
	case KindEntitlementMissing:
		return "This Microsoft account does not own Minecraft."
	case KindRefreshInvalid:
		return "The saved sign-in for this account is no longer valid. Log in again."
	case KindAccountNotFound:
		return "No saved account with that id."
	case KindStorage:
		return "Could not save account data: " + e.Error()
	default:
		return "Sign-in failed: " + e.Error()
	}
}

func xstsMessage(e *Error) string {
	switch e.Reason {
	case NoXboxAccount:
		return "This Microsoft account has no Xbox profile. Create one at xbox.com and try again."
	case RegionBlocked:
		return "Xbox Live is not available in this account's country or region."
	case AgeVerificationRequired:
		return "This account needs adult verification on the Xbox page before it can play."
	case ChildAccountRestricted:
		return "This is a child account. An adult must add it to a Microsoft family first."
	default:
		return fmt.Sprintf("Xbox authorization failed with code %d.", e.XErr)
	}
}
