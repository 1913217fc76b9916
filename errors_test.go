package portalauth

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfCoversEveryExpectedOutcome(t *testing.T) {
	cases := map[error]ErrorKind{
		ErrDuplicateEmail:          KindDuplicateEmail,
		ErrWeakPassword:            KindWeakPassword,
		ErrInvalidCredentials:      KindInvalidCredentials,
		ErrEmailNotVerified:        KindEmailNotVerified,
		ErrTwoFactorRequired:       KindTwoFactorRequired,
		ErrInvalidTwoFactor:        KindInvalidTwoFactor,
		ErrTwoFactorNotEnabled:     KindInvalidTwoFactor,
		ErrTwoFactorAlreadyEnabled: KindAlreadyEnabled,
		ErrInvalidCode:             KindInvalidCode,
		ErrExpired:                 KindExpired,
		ErrAlreadyVerified:         KindAlreadyVerified,
		ErrNotFound:                KindNotFound,
		ErrNotAuthorized:           KindNotAuthorized,
		ErrInvalidTarget:           KindInvalidTarget,
		ErrAlreadyAccepted:         KindAlreadyAccepted,
		ErrDeliveryFailed:          KindDeliveryFailed,
		ErrLoginRateLimited:        KindRateLimited,
		ErrVerificationRateLimited: KindRateLimited,
		ErrInvalidInput:            KindInvalidInput,
	}
	for err, want := range cases {
		got, ok := KindOf(fmt.Errorf("wrapped: %w", err))
		if !ok || got != want {
			t.Fatalf("KindOf(%v) = %q, %v; want %q", err, got, ok, want)
		}
	}
}

func TestKindOfInfrastructureFailures(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("boom"),
		fmt.Errorf("%w: dial tcp", ErrStoreUnavailable),
		fmt.Errorf("%w: i/o timeout", ErrSessionBackend),
		ErrEngineNotReady,
	} {
		if kind, ok := KindOf(err); ok {
			t.Fatalf("KindOf(%v) = %q; want no kind", err, kind)
		}
	}
}

func TestAuditErrorCode(t *testing.T) {
	if got := auditErrorCode(ErrInvalidCredentials); got != "invalid_credentials" {
		t.Fatalf("unexpected code %q", got)
	}
	if got := auditErrorCode(errors.New("boom")); got != "internal_error" {
		t.Fatalf("unexpected code %q", got)
	}
}
