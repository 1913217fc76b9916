package portalauth

import (
	"context"
	"strings"
	"time"
)

const (
	auditEventRegistration             = "registration"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerified            = "email_verified"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventTwoFactorRequired        = "two_factor_required"
	auditEventLogout                   = "logout"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordReset            = "password_reset"
	auditEventProfileUpdated           = "profile_updated"
	auditEventTwoFactorSetup           = "two_factor_setup_requested"
	auditEventTwoFactorEnabled         = "two_factor_enabled"
	auditEventTwoFactorDisabled        = "two_factor_disabled"
	auditEventInvitationSent           = "invitation_sent"
	auditEventInvitationAccepted       = "invitation_accepted"
	auditEventOwnershipTransferred     = "ownership_transferred"
	auditEventPermissionChanged        = "permission_changed"
	auditEventUserDeactivated          = "user_deactivated"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	groupID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		GroupID:   groupID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = auditErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode records the kind, never the raw error text, so infrastructure
// details stay out of the audit trail.
func auditErrorCode(err error) string {
	if kind, ok := KindOf(err); ok {
		return toSnake(string(kind))
	}
	return "internal_error"
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
