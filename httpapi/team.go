package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/permission"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Level string `json:"permissionLevel,omitempty"`
}

type acceptInvitationRequest struct {
	Token     string `json:"token"`
	Password  string `json:"password,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type transferRequest struct {
	TargetUserID string `json:"targetUserId"`
}

type permissionRequest struct {
	Level string `json:"permissionLevel"`
}

type invitationResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Level     string    `json:"permissionLevel,omitempty"`
	CompanyID string    `json:"companyId"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	inv, err := s.engine.InviteMember(r.Context(), actor.ID, portalauth.InviteInput{
		Email: req.Email,
		Role:  permission.Role(req.Role),
		Level: permission.Level(req.Level),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitationResponse{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      string(inv.Role),
		Level:     string(inv.Level),
		CompanyID: inv.CompanyID,
		Status:    string(inv.Status),
		ExpiresAt: inv.ExpiresAt,
	})
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.engine.AcceptInvitation(r.Context(), portalauth.AcceptInvitationInput{
		Token:     req.Token,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	if err := s.engine.TransferOwnership(r.Context(), actor.ID, req.TargetUserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "ownership transferred"})
}

func (s *Server) handleChangePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, _ := portalauth.UserFromContext(r.Context())
	user, err := s.engine.ChangePermissionLevel(r.Context(), actor.ID, chi.URLParam(r, "id"), permission.Level(req.Level))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user.Public()})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, _ := portalauth.UserFromContext(r.Context())
	if err := s.engine.RemoveMember(r.Context(), actor.ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
