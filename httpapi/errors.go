package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/portalauth"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const kindInternal = "Internal"

var kindStatus = map[portalauth.ErrorKind]int{
	portalauth.KindDuplicateEmail:     http.StatusConflict,
	portalauth.KindWeakPassword:       http.StatusBadRequest,
	portalauth.KindInvalidCredentials: http.StatusUnauthorized,
	portalauth.KindEmailNotVerified:   http.StatusForbidden,
	portalauth.KindTwoFactorRequired:  http.StatusUnauthorized,
	portalauth.KindInvalidTwoFactor:   http.StatusUnauthorized,
	portalauth.KindAlreadyEnabled:     http.StatusConflict,
	portalauth.KindInvalidCode:        http.StatusBadRequest,
	portalauth.KindExpired:            http.StatusGone,
	portalauth.KindAlreadyVerified:    http.StatusConflict,
	portalauth.KindNotFound:           http.StatusNotFound,
	portalauth.KindNotAuthorized:      http.StatusForbidden,
	portalauth.KindInvalidTarget:      http.StatusBadRequest,
	portalauth.KindAlreadyAccepted:    http.StatusConflict,
	portalauth.KindDeliveryFailed:     http.StatusBadGateway,
	portalauth.KindRateLimited:        http.StatusTooManyRequests,
	portalauth.KindInvalidInput:       http.StatusBadRequest,
}

var kindMessage = map[portalauth.ErrorKind]string{
	portalauth.KindDuplicateEmail:     "an account with this email already exists",
	portalauth.KindWeakPassword:       "password must be 8 to 64 characters with upper and lower case letters, a digit and a symbol",
	portalauth.KindInvalidCredentials: "invalid email or password",
	portalauth.KindEmailNotVerified:   "email address has not been verified",
	portalauth.KindTwoFactorRequired:  "two-factor code required",
	portalauth.KindInvalidTwoFactor:   "invalid two-factor code",
	portalauth.KindAlreadyEnabled:     "two-factor authentication is already enabled",
	portalauth.KindInvalidCode:        "invalid or expired code",
	portalauth.KindExpired:            "this link or code has expired",
	portalauth.KindAlreadyVerified:    "email address is already verified",
	portalauth.KindNotFound:           "not found",
	portalauth.KindNotAuthorized:      "not authorized",
	portalauth.KindInvalidTarget:      "the target of this operation is not eligible",
	portalauth.KindAlreadyAccepted:    "this invitation has already been used",
	portalauth.KindDeliveryFailed:     "email could not be sent, please try again",
	portalauth.KindRateLimited:        "too many attempts, please try again later",
	portalauth.KindInvalidInput:       "invalid request",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeError renders err. Errors without a kind are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := portalauth.KindOf(err)
	if !ok {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeKind(w, http.StatusInternalServerError, kindInternal, "internal server error")
		return
	}
	writeKind(w, kindStatus[kind], string(kind), kindMessage[kind])
}

// writeAuthError renders rejections from the session middleware. A missing
// session is 401 rather than the 404 NotFound carries elsewhere.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, portalauth.ErrNotFound) {
		writeKind(w, http.StatusUnauthorized, "Unauthenticated", "authentication required")
		return
	}
	s.writeError(w, r, err)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeKind(w, http.StatusBadRequest, string(portalauth.KindInvalidInput), message)
}
