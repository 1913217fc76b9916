package internaldefs

import (
	"github.com/MrEthical07/portalauth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const (
	AuditDroppedName = "portal_auth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: portalauth.MetricLoginSuccess, Name: "portal_auth_login_success_total", Help: "Successful logins."},
	{ID: portalauth.MetricLoginFailure, Name: "portal_auth_login_failure_total", Help: "Failed login attempts."},
	{ID: portalauth.MetricLoginRateLimited, Name: "portal_auth_login_rate_limited_total", Help: "Login attempts rejected by throttling."},
	{ID: portalauth.MetricTwoFactorRequired, Name: "portal_auth_two_factor_required_total", Help: "Logins that stopped for a second factor."},
	{ID: portalauth.MetricTwoFactorSuccess, Name: "portal_auth_two_factor_success_total", Help: "Accepted TOTP codes."},
	{ID: portalauth.MetricTwoFactorFailure, Name: "portal_auth_two_factor_failure_total", Help: "Rejected TOTP codes."},
	{ID: portalauth.MetricTwoFactorEnabled, Name: "portal_auth_two_factor_enabled_total", Help: "Two-factor enrolments."},
	{ID: portalauth.MetricTwoFactorDisabled, Name: "portal_auth_two_factor_disabled_total", Help: "Two-factor removals."},
	{ID: portalauth.MetricSessionCreated, Name: "portal_auth_session_created_total", Help: "Created sessions."},
	{ID: portalauth.MetricSessionInvalidated, Name: "portal_auth_session_invalidated_total", Help: "Sessions destroyed by revocation."},
	{ID: portalauth.MetricLogout, Name: "portal_auth_logout_total", Help: "Logouts."},
	{ID: portalauth.MetricRegistrationSuccess, Name: "portal_auth_registration_success_total", Help: "Successful registrations."},
	{ID: portalauth.MetricRegistrationDuplicate, Name: "portal_auth_registration_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: portalauth.MetricEmailVerificationRequest, Name: "portal_auth_email_verification_request_total", Help: "Verification codes issued."},
	{ID: portalauth.MetricEmailVerificationSuccess, Name: "portal_auth_email_verification_success_total", Help: "Verified email addresses."},
	{ID: portalauth.MetricEmailVerificationFailure, Name: "portal_auth_email_verification_failure_total", Help: "Rejected verification codes."},
	{ID: portalauth.MetricPasswordResetRequest, Name: "portal_auth_password_reset_request_total", Help: "Password reset requests."},
	{ID: portalauth.MetricPasswordResetSuccess, Name: "portal_auth_password_reset_success_total", Help: "Completed password resets."},
	{ID: portalauth.MetricPasswordResetFailure, Name: "portal_auth_password_reset_failure_total", Help: "Rejected password reset attempts."},
	{ID: portalauth.MetricInvitationSent, Name: "portal_auth_invitation_sent_total", Help: "Invitations sent."},
	{ID: portalauth.MetricInvitationAccepted, Name: "portal_auth_invitation_accepted_total", Help: "Invitations accepted."},
	{ID: portalauth.MetricOwnershipTransferred, Name: "portal_auth_ownership_transferred_total", Help: "Ownership transfers."},
	{ID: portalauth.MetricPermissionChanged, Name: "portal_auth_permission_changed_total", Help: "Permission level changes."},
	{ID: portalauth.MetricUserDeactivated, Name: "portal_auth_user_deactivated_total", Help: "Deactivated users."},
	{ID: portalauth.MetricDeliveryFailure, Name: "portal_auth_delivery_failure_total", Help: "Emails that could not be handed to the mailer."},
}
