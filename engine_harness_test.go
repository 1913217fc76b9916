package portalauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/store/memory"
	"github.com/MrEthical07/portalauth/totp"
)

const strongPassword = "Abcd1234!"

var errMailDown = errors.New("smtp relay unavailable")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	Kind  string
	Email string
	Value string
}

// captureMailer records every message and fails on demand.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *captureMailer) record(kind, email, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMailDown
	}
	m.sent = append(m.sent, sentMail{Kind: kind, Email: email, Value: value})
	return nil
}

func (m *captureMailer) SendEmailVerification(_ context.Context, email, _, code string) error {
	return m.record("verification", email, code)
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, token string) error {
	return m.record("reset", email, token)
}

func (m *captureMailer) SendInvitation(_ context.Context, email, _, token string, _ time.Time) error {
	return m.record("invitation", email, token)
}

func (m *captureMailer) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *captureMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// last returns the most recent value of kind sent to email.
func (m *captureMailer) last(t *testing.T, kind, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind && m.sent[i].Email == email {
			return m.sent[i].Value
		}
	}
	t.Fatalf("no %s mail sent to %s", kind, email)
	return ""
}

type harness struct {
	engine *portalauth.Engine
	store  portalauth.Store
	mem    *memory.Store
	mail   *captureMailer
	redis  *miniredis.Miniredis
	clock  *testClock
	audit  *auditRecorder
	totp   *totp.Manager
}

func testConfig() portalauth.Config {
	cfg := portalauth.DefaultConfig()
	cfg.Password.LogN = 10
	cfg.Password.BlockSize = 8
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 32
	cfg.TwoFactor.SealKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

type harnessOption func(*harnessOptions)

type harnessOptions struct {
	configure func(*portalauth.Config)
	store     func(*memory.Store) portalauth.Store
}

func withConfig(fn func(*portalauth.Config)) harnessOption {
	return func(o *harnessOptions) { o.configure = fn }
}

func withStore(fn func(*memory.Store) portalauth.Store) harnessOption {
	return func(o *harnessOptions) { o.store = fn }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var o harnessOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := testConfig()
	if o.configure != nil {
		o.configure(&cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := memory.New()
	var store portalauth.Store = mem
	if o.store != nil {
		store = o.store(mem)
	}

	h := &harness{
		store: store,
		mem:   mem,
		mail:  &captureMailer{},
		redis: mr,
		clock: newTestClock(),
		audit: &auditRecorder{},
		totp: totp.New(totp.Config{
			Issuer: cfg.TwoFactor.Issuer,
			Digits: cfg.TwoFactor.Digits,
			Period: cfg.TwoFactor.Period,
			Skew:   cfg.TwoFactor.Skew,
		}),
	}

	engine, err := portalauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(store).
		WithMailer(h.mail).
		WithAuditSink(h.audit).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// auditRecorder is a synchronous-safe sink for assertions after Close.
type auditRecorder struct {
	mu     sync.Mutex
	events []portalauth.AuditEvent
}

func (r *auditRecorder) Emit(_ context.Context, e portalauth.AuditEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *auditRecorder) Events() []portalauth.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]portalauth.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// registerVerified registers email and verifies it with the mailed code.
func (h *harness) registerVerified(t *testing.T, email, first string, role permission.Role) *portalauth.User {
	t.Helper()
	ctx := context.Background()

	if _, err := h.engine.Register(ctx, portalauth.RegisterInput{
		Email:     email,
		Password:  strongPassword,
		FirstName: first,
		LastName:  "Tester",
		Role:      role,
	}); err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	res, err := h.engine.VerifyEmail(ctx, email, h.mail.last(t, "verification", email))
	if err != nil {
		t.Fatalf("VerifyEmail(%s) failed: %v", email, err)
	}
	return res.User
}

// seedMember creates an active, verified member directly in the store.
func (h *harness) seedMember(t *testing.T, id, email string, role permission.Role, level permission.Level, group string) *portalauth.User {
	t.Helper()
	u := &portalauth.User{
		ID:            id,
		Email:         email,
		FirstName:     "Seed",
		LastName:      "Member",
		Role:          role,
		Level:         level,
		CompanyID:     group,
		Active:        true,
		EmailVerified: true,
	}
	if err := h.mem.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return u
}

func (h *harness) user(t *testing.T, id string) *portalauth.User {
	t.Helper()
	u, err := h.mem.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", id, err)
	}
	return u
}

func (h *harness) totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := h.totp.Code(secret, at)
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

// enableTwoFactor runs setup and commit for userID, moves the clock one
// step forward and returns the secret.
func (h *harness) enableTwoFactor(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()
	setup, err := h.engine.BeginTwoFactorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup: %v", err)
	}
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, userID, setup.Secret, h.totpCode(t, setup.Secret, h.clock.Now())); err != nil {
		t.Fatalf("VerifyAndEnableTwoFactor: %v", err)
	}
	// The enabling step is spent; later codes come from the next one.
	h.clock.Advance(30 * time.Second)
	return setup.Secret
}
