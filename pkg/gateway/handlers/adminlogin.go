package handlers

import (
	"log/slog"
	"net/http"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/mw"
)

// AdminLoginHandler exchanges the shared admin secret for a session token.
type AdminLoginHandler struct {
	Config config.Config
	Tokens *mw.TokenStore
	Logger *slog.Logger
}

type adminLoginRequest struct {
	Secret string `json:"secret"`
}

// Login verifies the shared secret and issues a session token, returned both
// in the body and as a cookie so browser clients get it for free.
func (h AdminLoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Config.AdminAuthMode == config.AdminAuthDisabled {
		writeError(w, r, apierror.Conflict("admin auth is disabled"))
		return
	}
	var req adminLoginRequest
	if err := decodeBody(w, r, 4<<10, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !mw.VerifySecret(h.Config, req.Secret) {
		if h.Logger != nil {
			h.Logger.Warn("admin login rejected", "remote", r.RemoteAddr)
		}
		writeError(w, r, &apierror.Error{
			Type:    apierror.TypeAuthentication,
			Message: "invalid admin secret",
		})
		return
	}

	token := h.Tokens.Issue()
	http.SetCookie(w, &http.Cookie{
		Name:     mw.AdminSessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.Tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// Logout revokes the presented session token and clears the cookie.
func (h AdminLoginHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if tok := mw.AdminToken(r); tok != "" && h.Tokens != nil {
		h.Tokens.Revoke(tok)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     mw.AdminSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
