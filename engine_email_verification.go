package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/google/uuid"
)

// Register creates an unverified account and emails a numeric verification
// code. The password policy is enforced before any hashing.
//
// Role defaults to company_admin; only owner roles may self-register and each
// registrant owns a fresh group. When delivery fails the error wraps
// ErrDeliveryFailed and the account stays unusable until a resend succeeds.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email, err := parseEmail(in.Email)
	if err != nil {
		return nil, err
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = permission.RoleCompanyAdmin
	}
	if !role.IsOwner() {
		return nil, fmt.Errorf("%w: role %q cannot self-register", ErrInvalidInput, role)
	}
	if err := password.CheckPolicy(in.Password); err != nil {
		return nil, ErrWeakPassword
	}

	if _, err := e.store.GetUserByEmail(ctx, email); err == nil {
		return nil, e.duplicateRegistration(ctx)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, e.storeFailure(ctx, "registration lookup", err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := e.now()
	code, err := internal.IssueNumericCode(e.config.EmailVerification.CodeLength, e.config.EmailVerification.CodeTTL, now)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:                    uuid.NewString(),
		Email:                 email,
		PasswordHash:          hash,
		FirstName:             first,
		LastName:              last,
		Role:                  role,
		CompanyID:             uuid.NewString(),
		Active:                true,
		VerificationCodeHash:  internal.HashToken(code.Value),
		VerificationExpiresAt: code.ExpiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, e.duplicateRegistration(ctx)
		}
		return nil, e.storeFailure(ctx, "registration create", err)
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistration, true, user.ID, user.CompanyID, nil, nil)

	if err := e.mailer.SendEmailVerification(ctx, user.Email, displayName(user), code.Value); err != nil {
		return nil, e.deliveryFailed(ctx, "verification", user, err)
	}
	e.metricInc(MetricEmailVerificationRequest)

	return user, nil
}

func (e *Engine) duplicateRegistration(ctx context.Context) error {
	e.metricInc(MetricRegistrationDuplicate)
	e.emitAudit(ctx, auditEventRegistration, false, "", "", ErrDuplicateEmail, nil)
	return ErrDuplicateEmail
}

// VerifyEmail checks code for email. On success the user is marked verified,
// the code is cleared and, when configured, a first session is issued.
//
// Outcomes: ErrNotFound (no such user), ErrAlreadyVerified, ErrInvalidCode
// (mismatch, nothing mutated), ErrExpired.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (*VerifyEmailResult, error) {
	normalized := normalizeEmail(email)
	if err := e.verifyLimiter.Check(ctx, normalized, ""); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditEventEmailVerified, false, "", "", ErrVerificationRateLimited, nil)
			return nil, ErrVerificationRateLimited
		}
		e.logger.ErrorContext(ctx, "verification throttle check failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	user, err := e.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.storeFailure(ctx, "verification lookup", err)
	}
	if !user.Active {
		return nil, ErrNotFound
	}
	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}
	if !internal.MatchToken(strings.TrimSpace(code), user.VerificationCodeHash) {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerified, false, user.ID, user.CompanyID, ErrInvalidCode, nil)
		if err := e.verifyLimiter.Fail(ctx, normalized, ""); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			e.logger.WarnContext(ctx, "verification throttle update failed", "error", err)
		}
		return nil, ErrInvalidCode
	}
	now := e.now()
	if !now.Before(user.VerificationExpiresAt) {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerified, false, user.ID, user.CompanyID, ErrExpired, nil)
		return nil, ErrExpired
	}

	won, err := e.store.MarkEmailVerified(ctx, user.ID, now)
	if err != nil {
		return nil, e.storeFailure(ctx, "mark verified", err)
	}
	if !won {
		return nil, ErrAlreadyVerified
	}
	if err := e.verifyLimiter.Reset(ctx, normalized); err != nil {
		e.logger.WarnContext(ctx, "verification throttle reset failed", "error", err)
	}

	verifiedAt := now
	user.EmailVerified = true
	user.EmailVerifiedAt = &verifiedAt
	user.VerificationCodeHash = ""

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerified, true, user.ID, user.CompanyID, nil, nil)

	result := &VerifyEmailResult{User: user}
	if e.config.EmailVerification.AutoLogin {
		if err := e.issueFirstLoginSession(ctx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// issueFirstLoginSession treats the first successful verification as the
// first login. It is the only place a session is issued without a password.
func (e *Engine) issueFirstLoginSession(ctx context.Context, result *VerifyEmailResult) error {
	sess, err := e.issueSession(ctx, result.User)
	if err != nil {
		return err
	}
	result.SessionID = sess.ID
	result.ExpiresAt = sess.ExpiresAt

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, result.User.ID, result.User.CompanyID, nil, func() map[string]string {
		return map[string]string{"via": "email_verification"}
	})
	return nil
}

// ResendVerification replaces the pending code with a fresh one and emails
// it. The previous code stops working immediately.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	user, err := e.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return e.storeFailure(ctx, "resend lookup", err)
	}
	if !user.Active {
		return ErrNotFound
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	code, err := internal.IssueNumericCode(e.config.EmailVerification.CodeLength, e.config.EmailVerification.CodeTTL, e.now())
	if err != nil {
		return err
	}
	hash := internal.HashToken(code.Value)
	if err := e.store.UpdateUser(ctx, user.ID, UserPatch{
		VerificationCodeHash:  &hash,
		VerificationExpiresAt: &code.ExpiresAt,
	}); err != nil {
		return e.storeFailure(ctx, "resend update", err)
	}

	if err := e.mailer.SendEmailVerification(ctx, user.Email, displayName(user), code.Value); err != nil {
		return e.deliveryFailed(ctx, "verification", user, err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, user.CompanyID, nil, nil)
	return nil
}

func (e *Engine) deliveryFailed(ctx context.Context, kind string, user *User, cause error) error {
	e.metricInc(MetricDeliveryFailure)
	e.logger.ErrorContext(ctx, "email delivery failed", "kind", kind, "user_id", user.ID, "error", cause)
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, cause)
}
