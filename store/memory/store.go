// Package memory is an in-process implementation of the portalauth storage
// collaborator. A single mutex serializes every operation, which gives the
// conditional updates (verify, reset consume, invitation accept, ownership
// transfer) the same atomicity the PostgreSQL store gets from transactions.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
)

// Store holds users and invitations in maps. The zero value is not usable;
// call New.
type Store struct {
	mu          sync.Mutex
	users       map[string]*portalauth.User
	byEmail     map[string]string
	invitations map[string]*portalauth.Invitation
	byToken     map[string]string
}

var _ portalauth.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:       make(map[string]*portalauth.User),
		byEmail:     make(map[string]string),
		invitations: make(map[string]*portalauth.Invitation),
		byToken:     make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) CreateUser(_ context.Context, u *portalauth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(u.Email)
	if _, exists := s.byEmail[key]; exists {
		return portalauth.ErrDuplicateEmail
	}
	s.users[u.ID] = u.Clone()
	s.byEmail[key] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*portalauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, portalauth.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*portalauth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, portalauth.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, patch portalauth.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return portalauth.ErrNotFound
	}
	patch.Apply(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkEmailVerified(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, portalauth.ErrNotFound
	}
	if u.EmailVerified {
		return false, nil
	}
	verifiedAt := at
	u.EmailVerified = true
	u.EmailVerifiedAt = &verifiedAt
	u.VerificationCodeHash = ""
	u.VerificationExpiresAt = time.Time{}
	u.UpdatedAt = at
	return true, nil
}

func (s *Store) ConsumeResetToken(_ context.Context, id, tokenHash, passwordHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, portalauth.ErrNotFound
	}
	if tokenHash == "" || u.ResetTokenHash != tokenHash {
		return false, nil
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetExpiresAt = time.Time{}
	u.UpdatedAt = at
	return true, nil
}

func (s *Store) SetTwoFactor(_ context.Context, id, sealedSecret string, enabled bool, lastCounter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return portalauth.ErrNotFound
	}
	if !enabled {
		sealedSecret = ""
		lastCounter = 0
	}
	u.TwoFactorSecret = sealedSecret
	u.TwoFactorEnabled = enabled
	u.TwoFactorLastCounter = lastCounter
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AdvanceTwoFactorCounter(_ context.Context, id string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, portalauth.ErrNotFound
	}
	if !u.TwoFactorEnabled || counter <= u.TwoFactorLastCounter {
		return false, nil
	}
	u.TwoFactorLastCounter = counter
	u.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) TransferOwnership(_ context.Context, plan permission.TransferPlan, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	former, next := plan.FormerOwner, plan.NewOwner
	from, ok := s.users[former.ID]
	if !ok {
		return portalauth.ErrNotFound
	}
	to, ok := s.users[next.ID]
	if !ok {
		return portalauth.ErrNotFound
	}
	if from.Role != plan.OwnerRole || !from.Active || from.CompanyID != next.GroupID {
		return portalauth.ErrNotAuthorized
	}
	if to.Role != plan.TargetRole || !to.Active || to.CompanyID != next.GroupID {
		return portalauth.ErrInvalidTarget
	}

	from.Role, from.Level, from.UpdatedAt = former.Role, former.Level, at
	to.Role, to.Level, to.UpdatedAt = next.Role, next.Level, at
	return nil
}

func (s *Store) CreateInvitation(_ context.Context, inv *portalauth.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inv
	s.invitations[inv.ID] = &cp
	s.byToken[inv.TokenHash] = inv.ID
	return nil
}

func (s *Store) GetInvitationByTokenHash(_ context.Context, tokenHash string) (*portalauth.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[tokenHash]
	if !ok {
		return nil, portalauth.ErrNotFound
	}
	cp := *s.invitations[id]
	return &cp, nil
}

func (s *Store) ExpireInvitation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return portalauth.ErrNotFound
	}
	if inv.Status == portalauth.InvitationPending {
		inv.Status = portalauth.InvitationExpired
	}
	return nil
}

func (s *Store) AcceptInvitation(_ context.Context, invitationID string, u *portalauth.User, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[invitationID]
	if !ok {
		return portalauth.ErrNotFound
	}
	if inv.Status != portalauth.InvitationPending {
		return portalauth.ErrAlreadyAccepted
	}

	key := emailKey(u.Email)
	if ownerID, taken := s.byEmail[key]; taken && ownerID != u.ID {
		return portalauth.ErrDuplicateEmail
	}

	acceptedAt := at
	inv.Status = portalauth.InvitationAccepted
	inv.AcceptedAt = &acceptedAt

	existing, ok := s.users[u.ID]
	if !ok {
		s.users[u.ID] = u.Clone()
		s.byEmail[key] = u.ID
		return nil
	}

	// An existing account only takes the membership fields; credentials and
	// 2FA state written since u was read are kept.
	existing.Role = u.Role
	existing.Level = u.Level
	existing.CompanyID = u.CompanyID
	existing.Active = u.Active
	existing.EmailVerified = u.EmailVerified
	if u.EmailVerifiedAt != nil {
		verifiedAt := *u.EmailVerifiedAt
		existing.EmailVerifiedAt = &verifiedAt
	} else {
		existing.EmailVerifiedAt = nil
	}
	existing.VerificationCodeHash = u.VerificationCodeHash
	existing.VerificationExpiresAt = u.VerificationExpiresAt
	existing.UpdatedAt = u.UpdatedAt
	return nil
}
