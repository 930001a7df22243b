package handler

import (
	"net/http"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
	"github.com/edvin/fleet/internal/model"
)

// Auth handles operator sign-up, sign-in and sessions.
type Auth struct {
	svc           *core.OperatorService
	secureCookies bool
}

func NewAuth(svc *core.OperatorService, secureCookies bool) *Auth {
	return &Auth{svc: svc, secureCookies: secureCookies}
}

type operatorResponse struct {
	Operator *model.Operator `json:"operator"`
}

// Register creates an account and signs it in.
func (h *Auth) Register(w http.ResponseWriter, r *http.Request) {
	var req request.Register
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	sess, err := h.svc.OpenSession(r.Context(), op)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	setSessionCookie(w, sess, h.secureCookies)
	response.WriteJSON(w, http.StatusCreated, operatorResponse{Operator: op})
}

func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, sess, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	setSessionCookie(w, sess, h.secureCookies)
	response.WriteJSON(w, http.StatusOK, operatorResponse{Operator: op})
}

// Logout revokes the current session and clears the cookie.
func (h *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	p := mw.GetPrincipal(r.Context())
	if p == nil || p.SessionID == "" {
		response.WriteError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	if err := h.svc.Logout(r.Context(), p.SessionID); err != nil {
		response.WriteServiceError(w, r, err)
		return
	}
	clearSessionCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func (h *Auth) Me(w http.ResponseWriter, r *http.Request) {
	p := mw.GetPrincipal(r.Context())
	if p == nil {
		response.WriteError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	response.WriteJSON(w, http.StatusOK, meResponse{ID: p.ID, Username: p.Name, IsAdmin: p.Admin})
}
