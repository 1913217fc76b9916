package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
)

// SessionCookie is the cookie carrying the opaque session identifier.
const SessionCookie = "portal_sid"

// Authenticator resolves a session identifier to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*portalauth.User, error)
}

// ErrorWriter renders a rejection. err is portalauth.ErrNotFound for missing
// or dead sessions and portalauth.ErrNotAuthorized for insufficient authority.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

func defaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, portalauth.ErrNotAuthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, portalauth.ErrNotFound):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// RequireSession rejects requests without a live session. A nil onError
// writes plain-text responses.
func RequireSession(auth Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = defaultErrorWriter
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onError(w, r, portalauth.ErrNotFound)
				return
			}

			sessionID, ok := SessionID(r)
			if !ok {
				onError(w, r, portalauth.ErrNotFound)
				return
			}

			user, err := auth.Authenticate(r.Context(), sessionID)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := portalauth.WithSessionID(r.Context(), sessionID)
			ctx = portalauth.WithUser(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAction rejects users whose authority lacks action. It must run after
// RequireSession.
func RequireAction(action permission.Action, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = defaultErrorWriter
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := portalauth.UserFromContext(r.Context())
			if !ok {
				onError(w, r, portalauth.ErrNotFound)
				return
			}
			if !permission.Can(user.Principal(), action) {
				onError(w, r, portalauth.ErrNotAuthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP attaches the request's remote host to the context. Run it after a
// proxy-header rewriter such as chi's RealIP when behind a load balancer.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if ip != "" {
			r = r.WithContext(portalauth.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

// SessionID returns the session cookie value.
func SessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
