package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
)

func seedUser(t *testing.T, s *Store, id, email string, role permission.Role, level permission.Level, company string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &portalauth.User{
		ID:        id,
		Email:     email,
		Role:      role,
		Level:     level,
		CompanyID: company,
		Active:    true,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestCreateUserRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "alice@x.com", permission.RoleCompanyAdmin, "", "g1")

	err := s.CreateUser(context.Background(), &portalauth.User{ID: "u2", Email: "ALICE@x.com"})
	if !errors.Is(err, portalauth.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	u, err := s.GetUserByEmail(context.Background(), " Alice@X.com ")
	if err != nil || u.ID != "u1" {
		t.Fatalf("lookup by email: %+v %v", u, err)
	}
}

func TestGetUserReturnsCopy(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com", permission.RoleCompanyAdmin, "", "g1")

	u, _ := s.GetUser(context.Background(), "u1")
	u.FirstName = "mutated"

	again, _ := s.GetUser(context.Background(), "u1")
	if again.FirstName == "mutated" {
		t.Fatal("store leaked internal pointer")
	}
	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, portalauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkEmailVerifiedOnlyOnce(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com", permission.RoleCompanyAdmin, "", "g1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkEmailVerified(context.Background(), "u1", time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestConsumeResetTokenIsSingleUse(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com", permission.RoleCompanyAdmin, "", "g1")
	hash := "abc"
	_ = s.UpdateUser(context.Background(), "u1", portalauth.UserPatch{ResetTokenHash: &hash})

	ok, err := s.ConsumeResetToken(context.Background(), "u1", "abc", "newhash", time.Now())
	if err != nil || !ok {
		t.Fatalf("first consume: %v %v", ok, err)
	}
	ok, err = s.ConsumeResetToken(context.Background(), "u1", "abc", "other", time.Now())
	if err != nil || ok {
		t.Fatalf("second consume should fail: %v %v", ok, err)
	}
	u, _ := s.GetUser(context.Background(), "u1")
	if u.PasswordHash != "newhash" {
		t.Fatalf("unexpected password hash %q", u.PasswordHash)
	}
}

func TestSetTwoFactorDisableClearsSecret(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com", permission.RoleCompanyAdmin, "", "g1")

	_ = s.SetTwoFactor(context.Background(), "u1", "sealed", true, 42)
	_ = s.SetTwoFactor(context.Background(), "u1", "ignored", false, 99)

	u, _ := s.GetUser(context.Background(), "u1")
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" || u.TwoFactorLastCounter != 0 {
		t.Fatalf("partial disable observed: %+v", u)
	}
}

func TestAdvanceTwoFactorCounterOnlyMovesForward(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "u1", "a@x.com", permission.RoleCompanyAdmin, "", "g1")

	if ok, err := s.AdvanceTwoFactorCounter(ctx, "u1", 10); err != nil || ok {
		t.Fatalf("advance without 2FA = %v, %v; want false, nil", ok, err)
	}
	_ = s.SetTwoFactor(ctx, "u1", "sealed", true, 10)

	if ok, _ := s.AdvanceTwoFactorCounter(ctx, "u1", 10); ok {
		t.Fatal("same step must not advance")
	}
	if ok, _ := s.AdvanceTwoFactorCounter(ctx, "u1", 9); ok {
		t.Fatal("older step must not advance")
	}
	if ok, err := s.AdvanceTwoFactorCounter(ctx, "u1", 11); err != nil || !ok {
		t.Fatalf("newer step = %v, %v; want true, nil", ok, err)
	}
	if u, _ := s.GetUser(ctx, "u1"); u.TwoFactorLastCounter != 11 {
		t.Fatalf("last counter = %d, want 11", u.TwoFactorLastCounter)
	}
	if _, err := s.AdvanceTwoFactorCounter(ctx, "ghost", 1); !errors.Is(err, portalauth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func companyTransferPlan() permission.TransferPlan {
	return permission.TransferPlan{
		FormerOwner: permission.Member{ID: "bob", Role: permission.RoleTeamMember, Level: permission.LevelManager, GroupID: "g1", Active: true},
		NewOwner:    permission.Member{ID: "carol", Role: permission.RoleCompanyAdmin, GroupID: "g1", Active: true},
		OwnerRole:   permission.RoleCompanyAdmin,
		TargetRole:  permission.RoleTeamMember,
	}
}

func TestTransferOwnershipConditional(t *testing.T) {
	s := New()
	seedUser(t, s, "bob", "bob@x.com", permission.RoleCompanyAdmin, "", "g1")
	seedUser(t, s, "carol", "carol@x.com", permission.RoleTeamMember, permission.LevelManager, "g1")

	plan := companyTransferPlan()
	if err := s.TransferOwnership(context.Background(), plan, time.Now()); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// A second identical transfer must fail: bob no longer holds the role.
	err := s.TransferOwnership(context.Background(), plan, time.Now())
	if !errors.Is(err, portalauth.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	bob, _ := s.GetUser(context.Background(), "bob")
	carol, _ := s.GetUser(context.Background(), "carol")
	if bob.Role != permission.RoleTeamMember || carol.Role != permission.RoleCompanyAdmin {
		t.Fatalf("unexpected roles bob=%s carol=%s", bob.Role, carol.Role)
	}
}

func TestTransferOwnershipRechecksTarget(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(u *portalauth.User)
	}{
		{"deactivated", func(u *portalauth.User) { u.Active = false }},
		{"moved group", func(u *portalauth.User) { u.CompanyID = "g2" }},
		{"role changed", func(u *portalauth.User) { u.Role = permission.RoleCompanyAdmin }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New()
			seedUser(t, s, "bob", "bob@x.com", permission.RoleCompanyAdmin, "", "g1")
			seedUser(t, s, "carol", "carol@x.com", permission.RoleTeamMember, permission.LevelManager, "g1")
			tc.mutate(s.users["carol"])

			err := s.TransferOwnership(context.Background(), companyTransferPlan(), time.Now())
			if !errors.Is(err, portalauth.ErrInvalidTarget) {
				t.Fatalf("expected ErrInvalidTarget, got %v", err)
			}
			if bob, _ := s.GetUser(context.Background(), "bob"); bob.Role != permission.RoleCompanyAdmin {
				t.Fatalf("former owner changed on failed transfer: %s", bob.Role)
			}
		})
	}
}

func TestAcceptInvitationOnce(t *testing.T) {
	s := New()
	inv := &portalauth.Invitation{
		ID:        "inv1",
		Email:     "carol@x.com",
		TokenHash: "tok",
		Status:    portalauth.InvitationPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	user := &portalauth.User{ID: "carol", Email: "carol@x.com", Active: true}
	if err := s.AcceptInvitation(context.Background(), "inv1", user, time.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	err := s.AcceptInvitation(context.Background(), "inv1", user, time.Now())
	if !errors.Is(err, portalauth.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}

	got, err := s.GetInvitationByTokenHash(context.Background(), "tok")
	if err != nil || got.Status != portalauth.InvitationAccepted || got.AcceptedAt == nil {
		t.Fatalf("unexpected invitation %+v (%v)", got, err)
	}
	if _, err := s.GetUserByEmail(context.Background(), "carol@x.com"); err != nil {
		t.Fatalf("invitee not created: %v", err)
	}
}

func TestExpireInvitationLeavesAcceptedAlone(t *testing.T) {
	s := New()
	_ = s.CreateInvitation(context.Background(), &portalauth.Invitation{ID: "inv1", TokenHash: "t", Status: portalauth.InvitationAccepted})

	if err := s.ExpireInvitation(context.Background(), "inv1"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _ := s.GetInvitationByTokenHash(context.Background(), "t")
	if got.Status != portalauth.InvitationAccepted {
		t.Fatalf("accepted invitation was expired: %s", got.Status)
	}
}

func TestAcceptInvitationKeepsExistingCredentials(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s, "dan", "dan@x.com", permission.RoleTeamMember, permission.LevelViewer, "g0")
	_ = s.CreateInvitation(ctx, &portalauth.Invitation{ID: "inv1", TokenHash: "tok", Status: portalauth.InvitationPending})

	stale, _ := s.GetUser(ctx, "dan")
	stale.Role = permission.RoleTeamMember
	stale.Level = permission.LevelEditor
	stale.CompanyID = "g1"

	// Written after the engine read dan and before the accept commits.
	newHash := "scrypt$fresh"
	_ = s.UpdateUser(ctx, "dan", portalauth.UserPatch{PasswordHash: &newHash})
	_ = s.SetTwoFactor(ctx, "dan", "sealed", true, 7)

	if err := s.AcceptInvitation(ctx, "inv1", stale, time.Now()); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, _ := s.GetUser(ctx, "dan")
	if got.CompanyID != "g1" || got.Level != permission.LevelEditor {
		t.Fatalf("membership not applied: %+v", got)
	}
	if got.PasswordHash != newHash || !got.TwoFactorEnabled || got.TwoFactorSecret != "sealed" || got.TwoFactorLastCounter != 7 {
		t.Fatalf("accept overwrote credentials: %+v", got)
	}
}
