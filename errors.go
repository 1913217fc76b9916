package portalauth

import (
	"errors"

	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
)

var (
	// ErrDuplicateEmail is returned when registering an address already in use.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrWeakPassword is returned before any hashing when a password fails policy.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified is returned by Login for unverified accounts.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrTwoFactorRequired is returned by Login when a code must be supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrInvalidTwoFactor is the single failure for every two-factor mismatch.
	ErrInvalidTwoFactor = errors.New("invalid two-factor code")
	// ErrTwoFactorAlreadyEnabled is returned by setup when 2FA is already on.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotEnabled is returned by disable when 2FA is off.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrInvalidCode is returned for a mismatched verification code or token.
	ErrInvalidCode = errors.New("invalid code")
	// ErrExpired is returned for a verification code, reset token or invitation
	// past its expiry.
	ErrExpired = errors.New("expired")
	// ErrAlreadyVerified is returned when verifying an already verified email.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrNotFound is returned for unknown users, invitations and sessions.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized is returned when the actor lacks authority.
	ErrNotAuthorized = permission.ErrNotAuthorized
	// ErrInvalidTarget is returned when the subject of a group operation is
	// not eligible.
	ErrInvalidTarget = permission.ErrInvalidTarget
	// ErrAlreadyAccepted is returned when an invitation was already consumed.
	ErrAlreadyAccepted = errors.New("invitation already accepted")
	// ErrDeliveryFailed is returned when the email collaborator reports failure.
	ErrDeliveryFailed = errors.New("email delivery failed")
	// ErrLoginRateLimited is returned once failed logins exceed the budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrVerificationRateLimited is returned once wrong verification codes
	// exceed the budget for an address.
	ErrVerificationRateLimited = errors.New("email verification rate limited")
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable wraps storage failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSessionBackend wraps session store failures.
	ErrSessionBackend = errors.New("session backend unavailable")
	// ErrEngineNotReady is returned when the engine was not built.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind names an expected, recoverable outcome. Errors without a kind are
// infrastructure failures.
type ErrorKind string

const (
	KindDuplicateEmail     ErrorKind = "DuplicateEmail"
	KindWeakPassword       ErrorKind = "WeakPassword"
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindEmailNotVerified   ErrorKind = "EmailNotVerified"
	KindTwoFactorRequired  ErrorKind = "TwoFactorRequired"
	KindInvalidTwoFactor   ErrorKind = "InvalidTwoFactor"
	KindAlreadyEnabled     ErrorKind = "AlreadyEnabled"
	KindInvalidCode        ErrorKind = "InvalidCode"
	KindExpired            ErrorKind = "Expired"
	KindAlreadyVerified    ErrorKind = "AlreadyVerified"
	KindNotFound           ErrorKind = "NotFound"
	KindNotAuthorized      ErrorKind = "NotAuthorized"
	KindInvalidTarget      ErrorKind = "InvalidTarget"
	KindAlreadyAccepted    ErrorKind = "AlreadyAccepted"
	KindDeliveryFailed     ErrorKind = "DeliveryFailed"
	KindRateLimited        ErrorKind = "RateLimited"
	KindInvalidInput       ErrorKind = "InvalidInput"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrDuplicateEmail, KindDuplicateEmail},
	{ErrWeakPassword, KindWeakPassword},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrEmailNotVerified, KindEmailNotVerified},
	{ErrTwoFactorRequired, KindTwoFactorRequired},
	{ErrInvalidTwoFactor, KindInvalidTwoFactor},
	{ErrTwoFactorNotEnabled, KindInvalidTwoFactor},
	{ErrTwoFactorAlreadyEnabled, KindAlreadyEnabled},
	{ErrInvalidCode, KindInvalidCode},
	{ErrExpired, KindExpired},
	{ErrAlreadyVerified, KindAlreadyVerified},
	{ErrNotFound, KindNotFound},
	{ErrNotAuthorized, KindNotAuthorized},
	{ErrInvalidTarget, KindInvalidTarget},
	{ErrAlreadyAccepted, KindAlreadyAccepted},
	{ErrDeliveryFailed, KindDeliveryFailed},
	{ErrLoginRateLimited, KindRateLimited},
	{ErrVerificationRateLimited, KindRateLimited},
	{ErrInvalidInput, KindInvalidInput},
}

// KindOf maps err to its expected-outcome kind. The second result is false for
// nil and for infrastructure failures.
func KindOf(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind, true
		}
	}
	return "", false
}
