package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/MrEthical07/portalauth/permission"
)

// Config controls transport details the engine does not know about.
type Config struct {
	// DevelopmentMode drops the Secure flag from the session cookie so it
	// works over plain HTTP.
	DevelopmentMode bool
	// MaxBodyBytes caps request bodies. Zero means 64 KiB.
	MaxBodyBytes int64
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP and True-Client-IP. Leave it off unless a reverse proxy
	// strips those headers from inbound requests, otherwise callers can pick
	// the address the login throttle counts against.
	TrustProxyHeaders bool
}

// Server serves the portal auth API.
type Server struct {
	engine *portalauth.Engine
	logger *slog.Logger
	cfg    Config
}

// New returns a Server. A nil logger uses slog.Default.
func New(engine *portalauth.Engine, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Server{engine: engine, logger: logger.With("component", "http"), cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.ClientIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	session := middleware.RequireSession(s.engine, s.writeAuthError)
	require := func(a permission.Action) func(http.Handler) http.Handler {
		return middleware.RequireAction(a, s.writeAuthError)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/verify-code", s.handleVerifyCode)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/request-reset", s.handleRequestReset)
		r.Post("/verify-reset-token", s.handleVerifyResetToken)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(session)
			r.Get("/user", s.handleCurrentUser)
			r.Patch("/profile", s.handleUpdateProfile)
			r.Post("/2fa/setup", s.handleTwoFactorSetup)
			r.Post("/2fa/verify", s.handleTwoFactorVerify)
			r.Post("/2fa/disable", s.handleTwoFactorDisable)
		})
	})

	r.Route("/api/team", func(r chi.Router) {
		r.Post("/invitations/accept", s.handleAcceptInvitation)

		r.Group(func(r chi.Router) {
			r.Use(session)
			r.With(require(permission.ActionInviteMembers)).Post("/invitations", s.handleInvite)
			r.With(require(permission.ActionTransferOwnership)).Post("/transfer-ownership", s.handleTransferOwnership)
			r.With(require(permission.ActionEditPermissions)).Patch("/members/{id}/permission", s.handleChangePermission)
			r.With(require(permission.ActionDeleteMembers)).Delete("/members/{id}", s.handleRemoveMember)
		})
	})

	return r
}

type healthResponse struct {
	Status         string `json:"status"`
	Redis          bool   `json:"redis"`
	Store          bool   `json:"store"`
	RedisLatencyMS int64  `json:"redisLatencyMs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	resp := healthResponse{
		Status:         "ok",
		Redis:          h.RedisAvailable,
		Store:          h.StoreAvailable,
		RedisLatencyMS: h.RedisLatency.Milliseconds(),
	}
	if !h.Healthy() {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v. It writes the 400 itself and reports
// whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeKind(w, http.StatusRequestEntityTooLarge, string(portalauth.KindInvalidInput), "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	if dec.More() {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic recovered in HTTP handler",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeKind(w, http.StatusInternalServerError, kindInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
