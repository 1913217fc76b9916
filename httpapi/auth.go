package httpapi

import (
	"net/http"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/MrEthical07/portalauth/permission"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role,omitempty"`
}

type emailCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"twoFactorCode,omitempty"`
}

type resetTokenRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type twoFactorVerifyRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type userResponse struct {
	User portalauth.PublicUser `json:"user"`
}

type loginResponse struct {
	RequiresTwoFactor bool                   `json:"requiresTwoFactor,omitempty"`
	User              *portalauth.PublicUser `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type twoFactorSetupResponse struct {
	Secret     string `json:"secret"`
	URI        string `json:"otpauthUrl"`
	QRCodeData string `json:"qrCode"`
}

const resetRequestedMessage = "if an account exists for this email, a reset link has been sent"

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.engine.Register(r.Context(), portalauth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      permission.Role(req.Role),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: user.Public()})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req emailCodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.SessionID != "" {
		s.setSessionCookie(w, res.SessionID, res.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, userResponse{User: res.User.Public()})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginWithResult(r.Context(), req.Email, req.Password, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusOK, loginResponse{RequiresTwoFactor: true})
		return
	}
	s.setSessionCookie(w, res.SessionID, res.ExpiresAt)
	pub := res.User.Public()
	writeJSON(w, http.StatusOK, loginResponse{User: &pub})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := middleware.SessionID(r); ok {
		if err := s.engine.Logout(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleRequestReset answers the same way whether or not the account exists.
// Delivery failures are logged, not reported.
func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.logger.WarnContext(r.Context(), "password reset request failed", "error", err)
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: resetRequestedMessage})
}

func (s *Server) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req resetTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.VerifyResetToken(r.Context(), req.Email, req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, _ := portalauth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	user, err := s.engine.UpdateProfile(r.Context(), actor.ID, req.FirstName, req.LastName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	actor, _ := portalauth.UserFromContext(r.Context())
	setup, err := s.engine.BeginTwoFactorSetup(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, twoFactorSetupResponse{
		Secret:     setup.Secret,
		URI:        setup.URI,
		QRCodeData: setup.QRCodeData,
	})
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorVerifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	if err := s.engine.VerifyAndEnableTwoFactor(r.Context(), actor.ID, req.Secret, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"twoFactorEnabled": true})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	if err := s.engine.DisableTwoFactor(r.Context(), actor.ID, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"twoFactorEnabled": false})
}
