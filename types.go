package portalauth

import (
	"context"
	"time"

	"github.com/MrEthical07/portalauth/permission"
)

// User is the identity record. Secrets are stored only in derived form:
// PasswordHash is a scrypt encoding, the code and token fields hold SHA-256
// digests, and TwoFactorSecret is sealed.
//
// TwoFactorEnabled implies a non-empty TwoFactorSecret. A non-empty Level
// implies a level-bearing role.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         permission.Role
	Level        permission.Level
	CompanyID    string

	Active          bool
	EmailVerified   bool
	EmailVerifiedAt *time.Time

	VerificationCodeHash  string
	VerificationExpiresAt time.Time
	ResetTokenHash        string
	ResetExpiresAt        time.Time

	TwoFactorSecret  string
	TwoFactorEnabled bool

	// TwoFactorLastCounter is the last TOTP time step accepted for this user.
	// A code whose step is not greater is refused.
	TwoFactorLastCounter int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal returns the (role, level) pair used for authority decisions.
func (u *User) Principal() permission.Principal {
	return permission.Principal{Role: u.Role, Level: u.Level}
}

// Member returns the authorization view of u.
func (u *User) Member() permission.Member {
	return permission.Member{
		ID:      u.ID,
		Role:    u.Role,
		Level:   u.Level,
		GroupID: u.CompanyID,
		Active:  u.Active,
	}
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.EmailVerifiedAt != nil {
		at := *u.EmailVerifiedAt
		out.EmailVerifiedAt = &at
	}
	return &out
}

// PublicUser is the projection of a User safe to return to clients.
type PublicUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Role             string     `json:"role"`
	PermissionLevel  *string    `json:"permissionLevel"`
	CompanyID        *string    `json:"companyId"`
	EmailVerified    bool       `json:"emailVerified"`
	EmailVerifiedAt  *time.Time `json:"emailVerifiedAt,omitempty"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	// Permissions lists the actions the user may perform, by name.
	Permissions []string `json:"permissions"`
}

// Public projects u for clients.
func (u *User) Public() PublicUser {
	p := PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Role:             string(u.Role),
		EmailVerified:    u.EmailVerified,
		EmailVerifiedAt:  u.EmailVerifiedAt,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
	if u.Level != permission.LevelNone {
		level := string(u.Level)
		p.PermissionLevel = &level
	}
	if u.CompanyID != "" {
		company := u.CompanyID
		p.CompanyID = &company
	}
	actions := permission.Authority(u.Principal()).Actions()
	p.Permissions = make([]string, len(actions))
	for i, a := range actions {
		p.Permissions[i] = a.String()
	}
	return p
}

// InvitationStatus is the lifecycle state of an Invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a pending grant of a role and level in the inviter's group.
type Invitation struct {
	ID         string
	Email      string
	Role       permission.Role
	Level      permission.Level
	CompanyID  string
	InvitedBy  string
	TokenHash  string
	Status     InvitationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	AcceptedAt *time.Time
}

// UserStore is the storage collaborator for users. Implementations return
// ErrNotFound for unknown ids and emails, and ErrDuplicateEmail when a create
// collides on the case-insensitive email.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateUser applies the non-nil fields of patch. Last write wins per
	// field.
	UpdateUser(ctx context.Context, id string, patch UserPatch) error
	// MarkEmailVerified sets the verified flag and clears the code only if the
	// user is still unverified. It returns false if another caller won.
	MarkEmailVerified(ctx context.Context, id string, at time.Time) (bool, error)
	// ConsumeResetToken replaces the password hash and clears the reset token
	// only if tokenHash still matches. It returns false otherwise.
	ConsumeResetToken(ctx context.Context, id, tokenHash, passwordHash string, at time.Time) (bool, error)
	// SetTwoFactor writes the sealed secret, enabled flag and last accepted
	// time step together. An empty secret with enabled=false disables.
	SetTwoFactor(ctx context.Context, id, sealedSecret string, enabled bool, lastCounter int64) error
	// AdvanceTwoFactorCounter records counter as the last accepted time step,
	// only if 2FA is enabled and counter is greater than the stored step. It
	// returns false otherwise.
	AdvanceTwoFactorCounter(ctx context.Context, id string, counter int64) (bool, error)
	// TransferOwnership persists both members of plan in one atomic update.
	// It returns ErrNotAuthorized when the former owner no longer holds
	// plan.OwnerRole in the group, and ErrInvalidTarget when the target is no
	// longer an active plan.TargetRole member of it. Either leaves both rows
	// unchanged.
	TransferOwnership(ctx context.Context, plan permission.TransferPlan, at time.Time) error
}

// UserPatch names the fields an UpdateUser call writes. Nil fields are left
// unchanged.
type UserPatch struct {
	FirstName             *string
	LastName              *string
	PasswordHash          *string
	Role                  *permission.Role
	Level                 *permission.Level
	CompanyID             *string
	Active                *bool
	VerificationCodeHash  *string
	VerificationExpiresAt *time.Time
	ResetTokenHash        *string
	ResetExpiresAt        *time.Time
}

// Apply writes the patch onto u. Stores without field-level updates use it.
func (p UserPatch) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Level != nil {
		u.Level = *p.Level
	}
	if p.CompanyID != nil {
		u.CompanyID = *p.CompanyID
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	if p.VerificationCodeHash != nil {
		u.VerificationCodeHash = *p.VerificationCodeHash
	}
	if p.VerificationExpiresAt != nil {
		u.VerificationExpiresAt = *p.VerificationExpiresAt
	}
	if p.ResetTokenHash != nil {
		u.ResetTokenHash = *p.ResetTokenHash
	}
	if p.ResetExpiresAt != nil {
		u.ResetExpiresAt = *p.ResetExpiresAt
	}
}

// InvitationStore is the storage collaborator for invitations.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	ExpireInvitation(ctx context.Context, id string) error
	// AcceptInvitation marks the invitation accepted, conditional on it being
	// pending, and upserts u by id in the same atomic unit. It returns
	// ErrAlreadyAccepted when the invitation is no longer pending.
	AcceptInvitation(ctx context.Context, invitationID string, u *User, at time.Time) error
}

// Store combines both collaborators.
type Store interface {
	UserStore
	InvitationStore
}

// Mailer is the email-delivery collaborator. A non-nil error means the message
// was not accepted for delivery.
type Mailer interface {
	SendEmailVerification(ctx context.Context, email, name, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendInvitation(ctx context.Context, email, inviterName, token string, expiresAt time.Time) error
}

// RegisterInput carries registration fields. Role defaults to company_admin
// and must be an owner role.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      permission.Role
}

// LoginResult is returned by Login. When TwoFactorRequired is set no session
// was issued and User is nil.
type LoginResult struct {
	TwoFactorRequired bool
	SessionID         string
	ExpiresAt         time.Time
	User              *User
}

// VerifyEmailResult is returned by VerifyEmail. SessionID is empty when
// auto-login is disabled.
type VerifyEmailResult struct {
	User      *User
	SessionID string
	ExpiresAt time.Time
}

// TwoFactorSetup is the proposal returned by BeginTwoFactorSetup. Nothing is
// persisted until VerifyAndEnableTwoFactor succeeds.
type TwoFactorSetup struct {
	Secret     string
	URI        string
	QRCodeData string
}

// InviteInput describes a new invitation.
type InviteInput struct {
	Email string
	Role  permission.Role
	Level permission.Level
}

// AcceptInvitationInput carries the invitee's details. Password and names are
// required only when no account exists for the invited email.
type AcceptInvitationInput struct {
	Token     string
	Password  string
	FirstName string
	LastName  string
}
