package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/mw"
)

func loginHandler() AdminLoginHandler {
	return AdminLoginHandler{
		Config: config.Config{AdminAuthMode: config.AdminAuthRequired, AdminSecret: "topsecret"},
		Tokens: mw.NewTokenStore(time.Hour),
	}
}

func TestAdminLoginIssuesTokenAndCookie(t *testing.T) {
	h := loginHandler()

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/v1/admin/login", map[string]any{"secret": "topsecret"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rec, &body)
	if body.Token == "" {
		t.Fatalf("no token in response")
	}
	if !h.Tokens.Valid(body.Token) {
		t.Fatalf("issued token not valid")
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == mw.AdminSessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("no session cookie set")
	}
	if cookie.Value != body.Token || !cookie.HttpOnly {
		t.Fatalf("cookie = %+v", cookie)
	}
}

func TestAdminLoginWrongSecret(t *testing.T) {
	h := loginHandler()

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/v1/admin/login", map[string]any{"secret": "guess"}))
	wantAPIError(t, rec, http.StatusUnauthorized, apierror.TypeAuthentication)
}

func TestAdminLoginDisabledMode(t *testing.T) {
	h := AdminLoginHandler{
		Config: config.Config{AdminAuthMode: config.AdminAuthDisabled},
		Tokens: mw.NewTokenStore(time.Hour),
	}

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/v1/admin/login", map[string]any{"secret": ""}))
	wantAPIError(t, rec, http.StatusConflict, apierror.TypeConflict)
}

func TestAdminLogoutRevokesToken(t *testing.T) {
	h := loginHandler()
	token := h.Tokens.Issue()

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/logout", nil)
	req.Header.Set("X-Admin-Token", token)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if h.Tokens.Valid(token) {
		t.Fatalf("token still valid after logout")
	}

	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == mw.AdminSessionCookie {
			cleared = c
		}
	}
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", cleared)
	}
}
