package handler

import (
	"net/http"
	"time"

	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/core"
)

// successResponse is the acknowledgement body for agent-facing endpoints.
type successResponse struct {
	Success bool `json:"success"`
}

// setSessionCookie stores the session token in the HttpOnly session cookie.
func setSessionCookie(w http.ResponseWriter, sess *core.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
