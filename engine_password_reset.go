package portalauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/password"
)

// RequestPasswordReset issues a reset token and emails it when email belongs
// to an active account. Unknown and inactive addresses get the same nil
// result, so callers must answer with one generic acknowledgement.
//
// Reissuing overwrites any earlier token. A delivery failure is reported as
// ErrDeliveryFailed.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrNotFound, nil)
			return nil
		}
		return e.storeFailure(ctx, "reset lookup", err)
	}
	if !user.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, user.CompanyID, ErrNotFound, nil)
		return nil
	}

	token, err := internal.IssueOpaqueToken(e.config.PasswordReset.TokenTTL, e.now())
	if err != nil {
		return err
	}
	hash := internal.HashToken(token.Value)
	if err := e.store.UpdateUser(ctx, user.ID, UserPatch{
		ResetTokenHash: &hash,
		ResetExpiresAt: &token.ExpiresAt,
	}); err != nil {
		return e.storeFailure(ctx, "reset token store", err)
	}

	if err := e.mailer.SendPasswordReset(ctx, user.Email, token.Value); err != nil {
		return e.deliveryFailed(ctx, "password_reset", user, err)
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, user.CompanyID, nil, nil)
	return nil
}

// VerifyResetToken reports whether token is the live reset token for email,
// without consuming it.
func (e *Engine) VerifyResetToken(ctx context.Context, email, token string) error {
	_, err := e.checkResetToken(ctx, email, token)
	return err
}

// ResetPassword sets a new password. The token is re-checked and consumed at
// this step: it must still be the stored token, it must not be expired, and it
// cannot be used twice. All sessions of the user are revoked.
func (e *Engine) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := password.CheckPolicy(newPassword); err != nil {
		return ErrWeakPassword
	}

	user, err := e.checkResetToken(ctx, email, token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	consumed, err := e.store.ConsumeResetToken(ctx, user.ID, user.ResetTokenHash, hash, e.now())
	if err != nil {
		return e.storeFailure(ctx, "reset consume", err)
	}
	if !consumed {
		e.metricInc(MetricPasswordResetFailure)
		return ErrInvalidCode
	}

	if n, err := e.sessions.DestroyAllForUser(ctx, user.ID, ""); err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed", "user_id", user.ID, "error", err)
	} else {
		for i := 0; i < n; i++ {
			e.metricInc(MetricSessionInvalidated)
		}
	}
	if err := e.limiter.Reset(ctx, user.Email); err != nil {
		e.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordReset, true, user.ID, user.CompanyID, nil, nil)
	return nil
}

func (e *Engine) checkResetToken(ctx context.Context, email, token string) (*User, error) {
	user, err := e.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, e.storeFailure(ctx, "reset token lookup", err)
	}
	if !user.Active || !internal.MatchToken(strings.TrimSpace(token), user.ResetTokenHash) {
		return nil, ErrInvalidCode
	}
	if !e.now().Before(user.ResetExpiresAt) {
		return nil, ErrExpired
	}
	return user, nil
}
