package portalauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/store/memory"
)

func TestTwoFactorSetupPersistsNothing(t *testing.T) {
	h := newHarness(t)
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	setup, err := h.engine.BeginTwoFactorSetup(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected setup %+v", setup)
	}
	if !strings.HasPrefix(setup.QRCodeData, "data:image/png;base64,") {
		t.Fatalf("unexpected QR payload prefix %.30q", setup.QRCodeData)
	}

	u := h.user(t, alice.ID)
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" {
		t.Fatalf("setup must not persist anything: %+v", u)
	}
}

func TestTwoFactorEnableRejectsWrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	setup, err := h.engine.BeginTwoFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	stale := h.totpCode(t, setup.Secret, h.clock.Now().Add(-2*time.Minute))
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, alice.ID, setup.Secret, stale); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("expected ErrInvalidTwoFactor, got %v", err)
	}
	if u := h.user(t, alice.ID); u.TwoFactorEnabled || u.TwoFactorSecret != "" {
		t.Fatalf("failed enable must leave no trace: %+v", u)
	}
}

func TestTwoFactorSecretSealedAtRest(t *testing.T) {
	h := newHarness(t)
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	secret := h.enableTwoFactor(t, alice.ID)

	u := h.user(t, alice.ID)
	if !u.TwoFactorEnabled || u.TwoFactorSecret == "" {
		t.Fatalf("expected enabled with secret: %+v", u)
	}
	if strings.Contains(u.TwoFactorSecret, secret) {
		t.Fatal("stored secret must not contain the plaintext")
	}
	if _, err := h.engine.BeginTwoFactorSetup(context.Background(), alice.ID); !errors.Is(err, portalauth.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestTwoFactorWindowTolerance(t *testing.T) {
	h := newHarness(t)
	secret, err := h.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	now := h.clock.Now()

	if !h.engine.VerifyTwoFactorCode(secret, h.totpCode(t, secret, now)) {
		t.Fatal("current step should verify")
	}
	if !h.engine.VerifyTwoFactorCode(secret, h.totpCode(t, secret, now.Add(-30*time.Second))) {
		t.Fatal("previous step should verify")
	}
	if !h.engine.VerifyTwoFactorCode(secret, h.totpCode(t, secret, now.Add(30*time.Second))) {
		t.Fatal("next step should verify")
	}
	if h.engine.VerifyTwoFactorCode(secret, h.totpCode(t, secret, now.Add(-60*time.Second))) {
		t.Fatal("two steps back must fail")
	}
	if h.engine.VerifyTwoFactorCode(secret, h.totpCode(t, secret, now.Add(60*time.Second))) {
		t.Fatal("two steps ahead must fail")
	}
	if h.engine.VerifyTwoFactorCode("", "123456") || h.engine.VerifyTwoFactorCode("!!!", "123456") {
		t.Fatal("bad secrets must fail closed")
	}
}

func TestTwoFactorLoginRejectsWrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")
	secret := h.enableTwoFactor(t, alice.ID)

	stale := h.totpCode(t, secret, h.clock.Now().Add(-5*time.Minute))
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, stale); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("expected ErrInvalidTwoFactor, got %v", err)
	}
	// The second factor is never consulted before the password.
	if _, err := h.engine.Login(ctx, "alice@x.com", "Wrong1234!", h.totpCode(t, secret, h.clock.Now())); !errors.Is(err, portalauth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestTwoFactorLoginRejectsReusedCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")
	secret := h.enableTwoFactor(t, alice.ID)

	code := h.totpCode(t, secret, h.clock.Now())
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, code); err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, code); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("replayed code: expected ErrInvalidTwoFactor, got %v", err)
	}
	// An older step inside the skew window is spent too.
	previous := h.totpCode(t, secret, h.clock.Now().Add(-30*time.Second))
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, previous); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("earlier step: expected ErrInvalidTwoFactor, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, alice.ID, code); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("disable with spent code: expected ErrInvalidTwoFactor, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, h.totpCode(t, secret, h.clock.Now())); err != nil {
		t.Fatalf("fresh step should log in: %v", err)
	}
}

func TestTwoFactorEnableCodeCannotLogIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	setup, err := h.engine.BeginTwoFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	code := h.totpCode(t, setup.Secret, h.clock.Now())
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, alice.ID, setup.Secret, code); err != nil {
		t.Fatalf("VerifyAndEnableTwoFactor failed: %v", err)
	}
	if got := h.user(t, alice.ID).TwoFactorLastCounter; got != h.clock.Now().Unix()/30 {
		t.Fatalf("enable should record its step, got %d", got)
	}
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, code); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("expected ErrInvalidTwoFactor, got %v", err)
	}
}

func TestTwoFactorEnableRevokesOtherSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	current, err := h.engine.Login(ctx, "alice@x.com", strongPassword, "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	other, err := h.engine.Login(ctx, "alice@x.com", strongPassword, "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	setup, err := h.engine.BeginTwoFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	reqCtx := portalauth.WithSessionID(ctx, current.SessionID)
	if err := h.engine.VerifyAndEnableTwoFactor(reqCtx, alice.ID, setup.Secret, h.totpCode(t, setup.Secret, h.clock.Now())); err != nil {
		t.Fatalf("VerifyAndEnableTwoFactor failed: %v", err)
	}

	if _, err := h.engine.Authenticate(ctx, current.SessionID); err != nil {
		t.Fatalf("presenting session should survive: %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, other.SessionID); !errors.Is(err, portalauth.ErrNotFound) {
		t.Fatalf("other session should be revoked, got %v", err)
	}
}

func TestTwoFactorDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	if err := h.engine.DisableTwoFactor(ctx, alice.ID, "123456"); !errors.Is(err, portalauth.ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}

	secret := h.enableTwoFactor(t, alice.ID)
	stale := h.totpCode(t, secret, h.clock.Now().Add(-5*time.Minute))
	if err := h.engine.DisableTwoFactor(ctx, alice.ID, stale); !errors.Is(err, portalauth.ErrInvalidTwoFactor) {
		t.Fatalf("expected ErrInvalidTwoFactor, got %v", err)
	}
	if !h.user(t, alice.ID).TwoFactorEnabled {
		t.Fatal("failed disable must keep 2FA on")
	}

	if err := h.engine.DisableTwoFactor(ctx, alice.ID, h.totpCode(t, secret, h.clock.Now())); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	u := h.user(t, alice.ID)
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" {
		t.Fatalf("disable must clear flag and secret together: %+v", u)
	}
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, ""); err != nil {
		t.Fatalf("login without code after disable failed: %v", err)
	}
}

// failingTwoFactorStore fails the single write that commits 2FA state.
type failingTwoFactorStore struct {
	*memory.Store
}

func (s failingTwoFactorStore) SetTwoFactor(context.Context, string, string, bool, int64) error {
	return errors.New("connection reset by peer")
}

func TestTwoFactorEnableIsAtomicOnStoreFailure(t *testing.T) {
	h := newHarness(t, withStore(func(m *memory.Store) portalauth.Store {
		return failingTwoFactorStore{Store: m}
	}))
	ctx := context.Background()
	alice := h.registerVerified(t, "alice@x.com", "Alice", "")

	setup, err := h.engine.BeginTwoFactorSetup(ctx, alice.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	err = h.engine.VerifyAndEnableTwoFactor(ctx, alice.ID, setup.Secret, h.totpCode(t, setup.Secret, h.clock.Now()))
	if !errors.Is(err, portalauth.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	u := h.user(t, alice.ID)
	if u.TwoFactorEnabled != (u.TwoFactorSecret != "") {
		t.Fatalf("flag and secret diverged: %+v", u)
	}
	if _, err := h.engine.Login(ctx, "alice@x.com", strongPassword, ""); err != nil {
		t.Fatalf("login should not require a code: %v", err)
	}
}
