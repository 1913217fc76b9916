package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/MrEthical07/portalauth/store/memory"
)

const strongPassword = "Abcd1234!"

type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (m *mailbox) put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("relay down")
	}
	m.codes[key] = value
	return nil
}

func (m *mailbox) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[key]
}

func (m *mailbox) SendEmailVerification(_ context.Context, email, _, code string) error {
	return m.put("verify:"+email, code)
}

func (m *mailbox) SendPasswordReset(_ context.Context, email, token string) error {
	return m.put("reset:"+email, token)
}

func (m *mailbox) SendInvitation(_ context.Context, email, _, token string, _ time.Time) error {
	return m.put("invite:"+email, token)
}

type testServer struct {
	handler http.Handler
	mail    *mailbox
	redis   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, configure func(*portalauth.Config, *Config)) *testServer {
	t.Helper()

	cfg := portalauth.DefaultConfig()
	cfg.Password.LogN = 10
	cfg.Password.BlockSize = 8
	cfg.Password.Parallelism = 1
	cfg.TwoFactor.SealKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = false

	apiCfg := Config{DevelopmentMode: true}
	if configure != nil {
		configure(&cfg, &apiCfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mail := &mailbox{codes: map[string]string{}}
	engine, err := portalauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(memory.New()).
		WithMailer(mail).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := New(engine, nil, apiCfg)
	return &testServer{handler: srv.Handler(), mail: mail, redis: mr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response (status %d)", rr.Code)
	return nil
}

func errorKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Kind
}

// signUp registers and verifies email and returns the auto-login cookie.
func (ts *testServer) signUp(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email: email, Password: strongPassword, FirstName: "Test", LastName: "User",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/verify-code", emailCodeRequest{
		Email: email, Code: ts.mail.get("verify:" + email),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rr.Code, rr.Body.String())
	}
	return sessionCookie(t, rr)
}

func TestRegisterVerifyAndCurrentUser(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.signUp(t, "alice@x.com")

	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.Secure {
		t.Fatal("development mode cookie must not be Secure")
	}

	rr := ts.do(t, http.MethodGet, "/api/auth/user", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("current user: %d %s", rr.Code, rr.Body.String())
	}
	var body struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User["email"] != "alice@x.com" || body.User["emailVerified"] != true {
		t.Fatalf("unexpected user %v", body.User)
	}
	perms, _ := body.User["permissions"].([]any)
	if len(perms) == 0 || perms[0] != "view_members" {
		t.Fatalf("unexpected permissions %v", body.User["permissions"])
	}
	if _, leaked := body.User["passwordHash"]; leaked {
		t.Fatal("password hash must never be serialized")
	}
}

func TestSecureCookieOutsideDevelopment(t *testing.T) {
	s := &Server{cfg: Config{}}
	rr := httptest.NewRecorder()
	s.setSessionCookie(rr, "sid", time.Now().Add(time.Hour))
	c := rr.Result().Cookies()[0]
	if !c.Secure || !c.HttpOnly || c.Name != "portal_sid" {
		t.Fatalf("unexpected cookie %+v", c)
	}
}

func TestDuplicateRegistrationConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "alice@x.com")

	rr := ts.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email: "ALICE@x.com", Password: strongPassword, FirstName: "A", LastName: "B",
	}, nil)
	if rr.Code != http.StatusConflict || errorKind(t, rr) != "DuplicateEmail" {
		t.Fatalf("expected 409 DuplicateEmail, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLoginAndLogout(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "alice@x.com")

	rr := ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "alice@x.com", Password: "Wrong123!"}, nil)
	if rr.Code != http.StatusUnauthorized || errorKind(t, rr) != "InvalidCredentials" {
		t.Fatalf("expected 401 InvalidCredentials, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "nobody@x.com", Password: "Wrong123!"}, nil)
	if rr.Code != http.StatusUnauthorized || errorKind(t, rr) != "InvalidCredentials" {
		t.Fatalf("unknown email must look like a wrong password, got %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "alice@x.com", Password: strongPassword}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	cookie := sessionCookie(t, rr)

	rr = ts.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rr.Code)
	}
	rr = ts.do(t, http.MethodGet, "/api/auth/user", nil, cookie)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestRequestResetIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "alice@x.com")

	known := ts.do(t, http.MethodPost, "/api/auth/request-reset", emailRequest{Email: "alice@x.com"}, nil)
	unknown := ts.do(t, http.MethodPost, "/api/auth/request-reset", emailRequest{Email: "nobody@x.com"}, nil)
	ts.mail.mu.Lock()
	ts.mail.fail = true
	ts.mail.mu.Unlock()
	failed := ts.do(t, http.MethodPost, "/api/auth/request-reset", emailRequest{Email: "alice@x.com"}, nil)

	for _, rr := range []*httptest.ResponseRecorder{known, unknown, failed} {
		if rr.Code != http.StatusOK || rr.Body.String() != known.Body.String() {
			t.Fatalf("responses must be identical: %d %s vs %s", rr.Code, rr.Body.String(), known.Body.String())
		}
	}
}

func TestResetPasswordFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "alice@x.com")

	ts.do(t, http.MethodPost, "/api/auth/request-reset", emailRequest{Email: "alice@x.com"}, nil)
	token := ts.mail.get("reset:alice@x.com")

	rr := ts.do(t, http.MethodPost, "/api/auth/verify-reset-token", resetTokenRequest{Email: "alice@x.com", Token: token}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify-reset-token: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/reset-password", resetPasswordRequest{
		Email: "alice@x.com", Token: token, NewPassword: "Newpass9$",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset-password: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/reset-password", resetPasswordRequest{
		Email: "alice@x.com", Token: token, NewPassword: "Another9$",
	}, nil)
	if rr.Code == http.StatusOK {
		t.Fatal("reset token must be single use")
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "alice@x.com", Password: "Newpass9$"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password: %d %s", rr.Code, rr.Body.String())
	}
}

func TestTwoFactorSetupRequiresSession(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/api/auth/2fa/setup", nil, nil)
	if rr.Code != http.StatusUnauthorized || errorKind(t, rr) != "Unauthenticated" {
		t.Fatalf("expected 401 Unauthenticated, got %d %s", rr.Code, rr.Body.String())
	}

	cookie := ts.signUp(t, "alice@x.com")
	rr = ts.do(t, http.MethodPost, "/api/auth/2fa/setup", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("2fa setup: %d %s", rr.Code, rr.Body.String())
	}
	var setup twoFactorSetupResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &setup); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.URI, "otpauth://") || !strings.HasPrefix(setup.QRCodeData, "data:image/png;base64,") {
		t.Fatalf("unexpected setup %+v", setup)
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/2fa/verify", twoFactorVerifyRequest{Secret: setup.Secret, Code: "000000x"}, cookie)
	if rr.Code != http.StatusUnauthorized || errorKind(t, rr) != "InvalidTwoFactor" {
		t.Fatalf("expected 401 InvalidTwoFactor, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestTeamInviteAcceptAndAuthority(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signUp(t, "bob@x.com")

	rr := ts.do(t, http.MethodPost, "/api/team/invitations", inviteRequest{
		Email: "carol@x.com", Role: "team_member", Level: "viewer",
	}, owner)
	if rr.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", rr.Code, rr.Body.String())
	}

	token := ts.mail.get("invite:carol@x.com")
	accept := acceptInvitationRequest{Token: token, Password: strongPassword, FirstName: "Carol", LastName: "Chen"}
	rr = ts.do(t, http.MethodPost, "/api/team/invitations/accept", accept, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/team/invitations/accept", accept, nil)
	if rr.Code != http.StatusConflict || errorKind(t, rr) != "AlreadyAccepted" {
		t.Fatalf("expected 409 AlreadyAccepted, got %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "carol@x.com", Password: strongPassword}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("invitee login: %d %s", rr.Code, rr.Body.String())
	}
	viewer := sessionCookie(t, rr)

	rr = ts.do(t, http.MethodPost, "/api/team/invitations", inviteRequest{
		Email: "dave@x.com", Role: "team_member", Level: "viewer",
	}, viewer)
	if rr.Code != http.StatusForbidden || errorKind(t, rr) != "NotAuthorized" {
		t.Fatalf("viewer invite should be 403, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, http.MethodPost, "/api/team/transfer-ownership", transferRequest{TargetUserID: "someone"}, viewer)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer transfer should be 403, got %d", rr.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":`))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || errorKind(t, rr) != "InvalidInput" {
		t.Fatalf("expected 400 InvalidInput, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestInfrastructureFailureIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t, "alice@x.com")
	ts.redis.Close()

	rr := ts.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "alice@x.com", Password: strongPassword}, nil)
	if rr.Code != http.StatusInternalServerError || errorKind(t, rr) != kindInternal {
		t.Fatalf("expected generic 500, got %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "redis") || strings.Contains(rr.Body.String(), "dial") {
		t.Fatalf("infrastructure detail leaked: %s", rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 health, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health %d %s", rr.Code, rr.Body.String())
	}
}

func TestForwardedForIgnoredUnlessTrusted(t *testing.T) {
	login := func(ts *testServer, i int) *httptest.ResponseRecorder {
		body, _ := json.Marshal(loginRequest{Email: fmt.Sprintf("u%d@x.com", i), Password: "Wrong123!"})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, req)
		return rr
	}
	throttle := func(trust bool) func(*portalauth.Config, *Config) {
		return func(cfg *portalauth.Config, api *Config) {
			cfg.Security.EnableIPThrottle = true
			cfg.Security.MaxLoginAttempts = 3
			api.TrustProxyHeaders = trust
		}
	}

	direct := newTestServerWith(t, throttle(false))
	for i := 0; i < 3; i++ {
		if rr := login(direct, i); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d %s", i, rr.Code, rr.Body.String())
		}
	}
	if rr := login(direct, 3); rr.Code != http.StatusTooManyRequests || errorKind(t, rr) != "RateLimited" {
		t.Fatalf("rotating X-Forwarded-For must not escape the peer throttle, got %d %s", rr.Code, rr.Body.String())
	}

	proxied := newTestServerWith(t, throttle(true))
	for i := 0; i < 4; i++ {
		if rr := login(proxied, i); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d behind trusted proxy: expected 401, got %d %s", i, rr.Code, rr.Body.String())
		}
	}
}

func TestMetricsMountedWhenConfigured(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics should be absent by default, got %d", rr.Code)
	}

	s := New(nil, nil, Config{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("portal_auth_login_success_total 1\n"))
	})})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "login_success") {
		t.Fatalf("unexpected metrics response %d %s", rec.Code, rec.Body.String())
	}
}
