package portalauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/google/uuid"
)

// InviteMember records an invitation into the inviter's group and emails the
// one-time token. The inviter must hold invite authority and cannot grant a
// level above its own; owner roles are never granted by invitation.
//
// Existing owners, system admins and current members of the group cannot be
// invited. When delivery fails the invitation is expired and the error wraps
// ErrDeliveryFailed.
func (e *Engine) InviteMember(ctx context.Context, inviterID string, in InviteInput) (*Invitation, error) {
	inviter, err := e.loadActor(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	email, err := parseEmail(in.Email)
	if err != nil {
		return nil, err
	}

	grant, err := permission.PlanInvitation(inviter.Member(), permission.Grant{Role: in.Role, Level: in.Level})
	if err != nil {
		e.emitAudit(ctx, auditEventInvitationSent, false, inviter.ID, inviter.CompanyID, err, nil)
		return nil, err
	}

	existing, err := e.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !canJoinByInvitation(existing) || existing.CompanyID == inviter.CompanyID {
			return nil, ErrInvalidTarget
		}
	case !errors.Is(err, ErrNotFound):
		return nil, e.storeFailure(ctx, "invitation target lookup", err)
	}

	now := e.now()
	token, err := internal.IssueOpaqueToken(e.config.Invitation.TokenTTL, now)
	if err != nil {
		return nil, err
	}

	inv := &Invitation{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      grant.Role,
		Level:     grant.Level,
		CompanyID: inviter.CompanyID,
		InvitedBy: inviter.ID,
		TokenHash: internal.HashToken(token.Value),
		Status:    InvitationPending,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: now,
	}
	if err := e.store.CreateInvitation(ctx, inv); err != nil {
		return nil, e.storeFailure(ctx, "invitation create", err)
	}

	if err := e.mailer.SendInvitation(ctx, email, displayName(inviter), token.Value, inv.ExpiresAt); err != nil {
		if expErr := e.store.ExpireInvitation(ctx, inv.ID); expErr != nil {
			e.logger.ErrorContext(ctx, "expire undelivered invitation failed", "invitation_id", inv.ID, "error", expErr)
		}
		return nil, e.deliveryFailed(ctx, "invitation", inviter, err)
	}

	e.metricInc(MetricInvitationSent)
	e.emitAudit(ctx, auditEventInvitationSent, true, inviter.ID, inviter.CompanyID, nil, func() map[string]string {
		return map[string]string{
			"invitation_id": inv.ID,
			"role":          string(inv.Role),
			"level":         string(inv.Level),
		}
	})
	return inv, nil
}

// canJoinByInvitation reports whether an existing account may be moved into a
// group. Owners would orphan their own group.
func canJoinByInvitation(u *User) bool {
	return u.Active && u.Role != permission.RoleSystemAdmin && !u.Role.IsOwner()
}

// AcceptInvitation consumes token exactly once. The invited email's account is
// created (verified, active) or updated to the invitation's role, level and
// group, and the invitation is marked accepted in the same atomic store call.
//
// Outcomes: ErrNotFound (unknown token), ErrAlreadyAccepted, ErrExpired,
// ErrNotAuthorized (the inviter no longer holds authority to admit members),
// ErrInvalidTarget (the account cannot join), ErrWeakPassword and
// ErrInvalidInput for new accounts.
func (e *Engine) AcceptInvitation(ctx context.Context, in AcceptInvitationInput) (*User, error) {
	inv, err := e.store.GetInvitationByTokenHash(ctx, internal.HashToken(strings.TrimSpace(in.Token)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.storeFailure(ctx, "invitation lookup", err)
	}

	now := e.now()
	switch inv.Status {
	case InvitationAccepted:
		return nil, ErrAlreadyAccepted
	case InvitationExpired:
		return nil, ErrExpired
	}
	if !now.Before(inv.ExpiresAt) {
		if err := e.store.ExpireInvitation(ctx, inv.ID); err != nil {
			e.logger.WarnContext(ctx, "mark invitation expired failed", "invitation_id", inv.ID, "error", err)
		}
		return nil, ErrExpired
	}

	inviter, err := e.store.GetUser(ctx, inv.InvitedBy)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, e.storeFailure(ctx, "inviter lookup", err)
	}
	if inviter == nil || !inviter.Active || inviter.CompanyID != inv.CompanyID ||
		!permission.CanAcceptInvitations(inviter.Principal()) {
		return nil, ErrNotAuthorized
	}

	user, err := e.materializeInvitee(ctx, inv, in)
	if err != nil {
		return nil, err
	}

	if err := e.store.AcceptInvitation(ctx, inv.ID, user, now); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyAccepted), errors.Is(err, ErrDuplicateEmail):
			return nil, ErrAlreadyAccepted
		default:
			return nil, e.storeFailure(ctx, "invitation accept", err)
		}
	}

	e.metricInc(MetricInvitationAccepted)
	e.emitAudit(ctx, auditEventInvitationAccepted, true, user.ID, user.CompanyID, nil, func() map[string]string {
		return map[string]string{"invitation_id": inv.ID}
	})
	return user, nil
}

func (e *Engine) materializeInvitee(ctx context.Context, inv *Invitation, in AcceptInvitationInput) (*User, error) {
	now := e.now()

	existing, err := e.store.GetUserByEmail(ctx, inv.Email)
	if err == nil {
		if !canJoinByInvitation(existing) {
			return nil, ErrInvalidTarget
		}
		user := existing.Clone()
		user.Role = inv.Role
		user.Level = inv.Level
		user.CompanyID = inv.CompanyID
		if !user.EmailVerified {
			user.EmailVerified = true
			user.EmailVerifiedAt = &now
			user.VerificationCodeHash = ""
		}
		user.UpdatedAt = now
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, e.storeFailure(ctx, "invitee lookup", err)
	}

	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if err := password.CheckPolicy(in.Password); err != nil {
		return nil, ErrWeakPassword
	}
	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:              uuid.NewString(),
		Email:           inv.Email,
		PasswordHash:    hash,
		FirstName:       first,
		LastName:        last,
		Role:            inv.Role,
		Level:           inv.Level,
		CompanyID:       inv.CompanyID,
		Active:          true,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TransferOwnership hands owner authority from ownerID to targetID in one
// atomic update: the owner becomes a manager-level member of the family and
// the target becomes owner. Any failure leaves both accounts unchanged.
func (e *Engine) TransferOwnership(ctx context.Context, ownerID, targetID string) error {
	owner, err := e.loadActor(ctx, ownerID)
	if err != nil {
		return err
	}
	target, err := e.store.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if !owner.Role.IsOwner() {
				return ErrNotAuthorized
			}
			return ErrInvalidTarget
		}
		return e.storeFailure(ctx, "transfer target lookup", err)
	}

	plan, err := permission.PlanOwnershipTransfer(owner.Member(), target.Member())
	if err != nil {
		e.emitAudit(ctx, auditEventOwnershipTransferred, false, owner.ID, owner.CompanyID, err, func() map[string]string {
			return map[string]string{"target_id": target.ID}
		})
		return err
	}

	if err := e.store.TransferOwnership(ctx, plan, e.now()); err != nil {
		switch {
		case errors.Is(err, ErrNotAuthorized):
			return ErrNotAuthorized
		case errors.Is(err, ErrInvalidTarget):
			return ErrInvalidTarget
		default:
			return e.storeFailure(ctx, "ownership transfer", err)
		}
	}

	e.metricInc(MetricOwnershipTransferred)
	e.emitAudit(ctx, auditEventOwnershipTransferred, true, owner.ID, owner.CompanyID, nil, func() map[string]string {
		return map[string]string{"target_id": target.ID}
	})
	return nil
}

// ChangePermissionLevel sets targetID's level. Only owners may do this, never
// on themselves, and only on level-bearing roles in their group.
func (e *Engine) ChangePermissionLevel(ctx context.Context, actorID, targetID string, level permission.Level) (*User, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	target, err := e.store.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if !permission.CanManagePermissions(actor.Principal()) {
				return nil, ErrNotAuthorized
			}
			return nil, ErrInvalidTarget
		}
		return nil, e.storeFailure(ctx, "level change lookup", err)
	}

	next, err := permission.PlanLevelChange(actor.Member(), target.Member(), level)
	if err != nil {
		e.emitAudit(ctx, auditEventPermissionChanged, false, actor.ID, actor.CompanyID, err, func() map[string]string {
			return map[string]string{"target_id": target.ID}
		})
		return nil, err
	}

	if err := e.store.UpdateUser(ctx, target.ID, UserPatch{Level: &next.Level}); err != nil {
		return nil, e.storeFailure(ctx, "level change", err)
	}
	target.Level = next.Level

	e.metricInc(MetricPermissionChanged)
	e.emitAudit(ctx, auditEventPermissionChanged, true, actor.ID, actor.CompanyID, nil, func() map[string]string {
		return map[string]string{"target_id": target.ID, "level": string(next.Level)}
	})
	return target, nil
}

// RemoveMember deactivates a member of the actor's group. It is
// DeactivateUser under the group-management name.
func (e *Engine) RemoveMember(ctx context.Context, actorID, memberID string) error {
	return e.DeactivateUser(ctx, actorID, memberID)
}
