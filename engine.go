package portalauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/session"
	"github.com/MrEthical07/portalauth/totp"
)

// Engine is the identity service. It is safe for concurrent use; all shared
// state lives in the store and in Redis.
type Engine struct {
	config    Config
	store     Store
	mailer    Mailer
	sessions  *session.Store
	limiter   *rate.Limiter
	hasher    *password.Hasher
	dummyHash string
	totp      *totp.Manager
	sealer    *totp.Sealer
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time

	// verifyLimiter counts wrong email verification codes per address.
	verifyLimiter *rate.Limiter
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// SessionLifetime is the fixed lifetime of every issued session.
func (e *Engine) SessionLifetime() time.Duration {
	return e.config.Session.Lifetime
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates email and password, and the two-factor code when the
// account requires one. It returns ErrTwoFactorRequired when a code is needed
// but was not supplied.
func (e *Engine) Login(ctx context.Context, email, pw, code string) (*LoginResult, error) {
	result, err := e.LoginWithResult(ctx, email, pw, code)
	if err != nil {
		return nil, err
	}
	if result.TwoFactorRequired {
		return nil, ErrTwoFactorRequired
	}
	return result, nil
}

// LoginWithResult is Login for two-phase clients: when the account has 2FA
// enabled and code is empty it returns a result with TwoFactorRequired set, no
// session and no user details.
//
// Unknown email, wrong password and inactive account are indistinguishable
// (ErrInvalidCredentials) and cost the same KDF work.
func (e *Engine) LoginWithResult(ctx context.Context, email, pw, code string) (*LoginResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)
	normalized := normalizeEmail(email)

	if err := e.limiter.Check(ctx, normalized, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
		e.logger.ErrorContext(ctx, "login throttle check failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	user, err := e.store.GetUserByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, e.storeFailure(ctx, "login lookup", err)
	}

	hash := e.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(pw, hash)
	if verr != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable", "error", verr)
		ok = false
	}
	if user == nil || !ok || !user.Active {
		return nil, e.loginFailed(ctx, normalized, ip, user, ErrInvalidCredentials)
	}

	if !user.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.CompanyID, ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	if user.TwoFactorEnabled {
		if strings.TrimSpace(code) == "" {
			e.metricInc(MetricTwoFactorRequired)
			e.emitAudit(ctx, auditEventTwoFactorRequired, true, user.ID, user.CompanyID, nil, nil)
			return &LoginResult{TwoFactorRequired: true}, nil
		}
		valid, err := e.checkUserTwoFactor(ctx, user, code)
		if err != nil {
			return nil, err
		}
		if !valid {
			e.metricInc(MetricTwoFactorFailure)
			return nil, e.loginFailed(ctx, normalized, ip, user, ErrInvalidTwoFactor)
		}
		e.metricInc(MetricTwoFactorSuccess)
	}

	e.upgradePasswordHash(ctx, user, pw)

	if err := e.limiter.Reset(ctx, normalized); err != nil {
		e.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
	}

	sess, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, user.CompanyID, nil, nil)

	return &LoginResult{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
		User:      user,
	}, nil
}

// upgradePasswordHash rehashes pw under the current cost when the stored hash
// was made with weaker parameters. Failures are logged and the login proceeds.
func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, pw string) {
	stale, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.store.UpdateUser(ctx, user.ID, UserPatch{PasswordHash: &hash}); err != nil {
		e.logger.WarnContext(ctx, "password rehash not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	e.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID)
}

func (e *Engine) loginFailed(ctx context.Context, email, ip string, user *User, cause error) error {
	e.metricInc(MetricLoginFailure)
	userID, groupID := "", ""
	if user != nil {
		userID, groupID = user.ID, user.CompanyID
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, groupID, cause, nil)

	if err := e.limiter.Fail(ctx, email, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.WarnContext(ctx, "login throttle update failed", "error", err)
	}
	return cause
}

// Logout destroys the session. Unknown sessions are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.sessions.Destroy(ctx, sessionID); err != nil {
		e.logger.ErrorContext(ctx, "session destroy failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// Authenticate resolves a session identifier to its user. Unknown, expired and
// destroyed sessions, and sessions of users who are no longer active and
// verified, all return ErrNotFound.
func (e *Engine) Authenticate(ctx context.Context, sessionID string) (*User, error) {
	sess, err := e.sessions.Resolve(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		e.logger.ErrorContext(ctx, "session resolve failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	user, err := e.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = e.sessions.Destroy(ctx, sessionID)
			return nil, ErrNotFound
		}
		return nil, e.storeFailure(ctx, "session user lookup", err)
	}
	if !user.Active || !user.EmailVerified {
		_ = e.sessions.Destroy(ctx, sessionID)
		return nil, ErrNotFound
	}
	return user, nil
}

// CurrentUser is Authenticate under the name the HTTP contract uses.
func (e *Engine) CurrentUser(ctx context.Context, sessionID string) (*User, error) {
	return e.Authenticate(ctx, sessionID)
}

// UpdateProfile changes the user's name fields. Both are required and trimmed.
// Role, level and company are outside this operation.
func (e *Engine) UpdateProfile(ctx context.Context, userID, firstName, lastName string) (*User, error) {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}

	if err := e.store.UpdateUser(ctx, userID, UserPatch{FirstName: &first, LastName: &last}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.storeFailure(ctx, "profile update", err)
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, e.storeFailure(ctx, "profile reload", err)
	}
	e.emitAudit(ctx, auditEventProfileUpdated, true, user.ID, user.CompanyID, nil, nil)
	return user, nil
}

// DeactivateUser soft-deletes target: the active flag is cleared and every
// session destroyed. The actor must be a system admin, or a member of the
// same group holding delete authority and outranking the target.
func (e *Engine) DeactivateUser(ctx context.Context, actorID, targetID string) error {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	target, err := e.store.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidTarget
		}
		return e.storeFailure(ctx, "deactivate lookup", err)
	}
	if !target.Active {
		return nil
	}

	if err := permission.CheckRemoval(actor.Member(), target.Member()); err != nil {
		e.emitAudit(ctx, auditEventUserDeactivated, false, actor.ID, actor.CompanyID, err, func() map[string]string {
			return map[string]string{"target_id": target.ID}
		})
		return err
	}

	inactive := false
	if err := e.store.UpdateUser(ctx, target.ID, UserPatch{Active: &inactive}); err != nil {
		return e.storeFailure(ctx, "deactivate", err)
	}
	if _, err := e.sessions.DestroyAllForUser(ctx, target.ID, ""); err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed", "user_id", target.ID, "error", err)
	}

	e.metricInc(MetricUserDeactivated)
	e.emitAudit(ctx, auditEventUserDeactivated, true, actor.ID, actor.CompanyID, nil, func() map[string]string {
		return map[string]string{"target_id": target.ID}
	})
	return nil
}

func (e *Engine) issueSession(ctx context.Context, user *User) (*session.Session, error) {
	sess, err := e.sessions.Create(ctx, user.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "session create failed", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	e.metricInc(MetricSessionCreated)
	return sess, nil
}

// revokeOtherSessions destroys the user's sessions except the one presented
// on ctx, when configured to.
func (e *Engine) revokeOtherSessions(ctx context.Context, userID string) {
	if !e.config.Security.RevokeSessionsOnCredentialChange {
		return
	}
	n, err := e.sessions.DestroyAllForUser(ctx, userID, SessionIDFromContext(ctx))
	if err != nil {
		e.logger.ErrorContext(ctx, "session revocation failed", "user_id", userID, "error", err)
		return
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
}

// loadActor re-reads the acting user so authority decisions never use a stale
// role.
func (e *Engine) loadActor(ctx context.Context, actorID string) (*User, error) {
	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, e.storeFailure(ctx, "actor lookup", err)
	}
	if !actor.Active {
		return nil, ErrNotAuthorized
	}
	return actor, nil
}

func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	e.logger.ErrorContext(ctx, "store failure", "op", op, "error", err)
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// parseEmail normalizes and validates a bare address.
func parseEmail(email string) (string, error) {
	normalized := normalizeEmail(email)
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
	}
	return normalized, nil
}

func displayName(u *User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
