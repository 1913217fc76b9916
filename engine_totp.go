package portalauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/portalauth/totp"
)

// BeginTwoFactorSetup proposes a fresh secret for userID and returns it with
// its provisioning URI and QR payload. Nothing is persisted: the secret binds
// to the user only when VerifyAndEnableTwoFactor succeeds.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e.totp == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.storeFailure(ctx, "two-factor setup lookup", err)
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		e.logger.ErrorContext(ctx, "totp secret generation failed", "error", err)
		return nil, err
	}
	uri := e.totp.ProvisionURI(secret, user.Email)
	qr, err := totp.QRDataURL(uri)
	if err != nil {
		e.logger.ErrorContext(ctx, "totp qr rendering failed", "error", err)
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, user.ID, user.CompanyID, nil, nil)

	return &TwoFactorSetup{
		Secret:     secret,
		URI:        uri,
		QRCodeData: qr,
	}, nil
}

// VerifyAndEnableTwoFactor commits a proposed secret once code proves the
// authenticator holds it. Secret and flag are written in one store call; on
// failure nothing changes. Other sessions of the user are revoked.
func (e *Engine) VerifyAndEnableTwoFactor(ctx context.Context, userID, secret, code string) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return e.storeFailure(ctx, "two-factor enable lookup", err)
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}

	counter, ok := e.matchTwoFactorCode(secret, code)
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, user.ID, user.CompanyID, ErrInvalidTwoFactor, nil)
		return ErrInvalidTwoFactor
	}

	sealed, err := e.sealer.Seal(user.ID, secret)
	if err != nil {
		e.logger.ErrorContext(ctx, "totp seal failed", "error", err)
		return err
	}
	if err := e.store.SetTwoFactor(ctx, user.ID, sealed, true, counter); err != nil {
		return e.storeFailure(ctx, "two-factor enable", err)
	}

	e.revokeOtherSessions(ctx, user.ID)
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, user.ID, user.CompanyID, nil, nil)
	return nil
}

// VerifyTwoFactorCode is the stateless check used at login, enable and
// disable. Every failure, including an undecodable secret, is a plain false.
func (e *Engine) VerifyTwoFactorCode(secret, code string) bool {
	_, ok := e.matchTwoFactorCode(secret, code)
	return ok
}

// matchTwoFactorCode returns the time step code matched.
func (e *Engine) matchTwoFactorCode(secret, code string) (int64, bool) {
	if e.totp == nil || secret == "" {
		return 0, false
	}
	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil || !ok {
		return 0, false
	}
	return counter, true
}

// DisableTwoFactor clears the secret and flag together after checking a
// current code. Other sessions of the user are revoked.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return e.storeFailure(ctx, "two-factor disable lookup", err)
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	valid, err := e.checkUserTwoFactor(ctx, user, code)
	if err != nil {
		return err
	}
	if !valid {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, user.ID, user.CompanyID, ErrInvalidTwoFactor, nil)
		return ErrInvalidTwoFactor
	}

	if err := e.store.SetTwoFactor(ctx, user.ID, "", false, 0); err != nil {
		return e.storeFailure(ctx, "two-factor disable", err)
	}

	e.revokeOtherSessions(ctx, user.ID)
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, user.ID, user.CompanyID, nil, nil)
	return nil
}

// checkUserTwoFactor opens the user's sealed secret and verifies code. A code
// is accepted once: its time step must be newer than the last accepted one,
// and the store records it conditionally so two racing requests cannot both
// use it. An unopenable secret is an infrastructure failure, not a wrong code.
func (e *Engine) checkUserTwoFactor(ctx context.Context, user *User, code string) (bool, error) {
	secret, err := e.sealer.Open(user.ID, user.TwoFactorSecret)
	if err != nil {
		e.logger.ErrorContext(ctx, "totp secret unseal failed", "user_id", user.ID, "error", err)
		return false, err
	}
	counter, ok := e.matchTwoFactorCode(secret, code)
	if !ok {
		return false, nil
	}
	if counter <= user.TwoFactorLastCounter {
		e.logger.InfoContext(ctx, "totp code replayed", "user_id", user.ID)
		return false, nil
	}
	advanced, err := e.store.AdvanceTwoFactorCounter(ctx, user.ID, counter)
	if err != nil {
		return false, e.storeFailure(ctx, "two-factor counter", err)
	}
	if !advanced {
		e.logger.InfoContext(ctx, "totp code replayed", "user_id", user.ID)
	}
	return advanced, nil
}
