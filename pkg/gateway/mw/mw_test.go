package mw

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atelierhq/studio/pkg/gateway/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatalf("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header id %q != context id %q", got, seen)
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req_client" {
		t.Fatalf("id = %q, want req_client", got)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	h := Recover(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{
		"https://atelier.example": {},
	}}
	h := CORS(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://atelier.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://atelier.example" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{
		"https://atelier.example": {},
	}}
	h := CORS(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCORSNonPreflightHeaders(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{
		"https://atelier.example": {},
	}}
	h := CORS(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/site-config", nil)
	req.Header.Set("Origin", "https://atelier.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://atelier.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	// Unlisted origin gets no CORS headers but the request still runs.
	req = httptest.NewRequest(http.MethodGet, "/v1/site-config", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestTokenStoreLifecycle(t *testing.T) {
	store := NewTokenStore(time.Hour)
	tok := store.Issue()
	if !store.Valid(tok) {
		t.Fatalf("freshly issued token invalid")
	}
	if store.Valid("adm_forged") {
		t.Fatalf("forged token accepted")
	}
	store.Revoke(tok)
	if store.Valid(tok) {
		t.Fatalf("revoked token accepted")
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	store := NewTokenStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	tok := store.Issue()
	if !store.Valid(tok) {
		t.Fatalf("token invalid before expiry")
	}
	now = now.Add(2 * time.Minute)
	if store.Valid(tok) {
		t.Fatalf("token valid after expiry")
	}
}

func TestVerifySecret(t *testing.T) {
	cfg := config.Config{AdminSecret: "letmein"}
	if !VerifySecret(cfg, "letmein") {
		t.Fatalf("correct secret rejected")
	}
	if VerifySecret(cfg, "guess") {
		t.Fatalf("wrong secret accepted")
	}
	if VerifySecret(config.Config{}, "") {
		t.Fatalf("empty configured secret must never verify")
	}
}

func TestAdminAuth(t *testing.T) {
	cfg := config.Config{AdminAuthMode: config.AdminAuthRequired, AdminSecret: "letmein"}
	tokens := NewTokenStore(time.Hour)
	tok := tokens.Issue()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := AdminAuth(cfg, tokens, ok)

	t.Run("valid header token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil)
		req.Header.Set("X-Admin-Token", tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("valid session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil)
		req.AddCookie(&http.Cookie{Name: AdminSessionCookie, Value: tok})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("shared secret as bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil)
		req.Header.Set("Authorization", "Bearer letmein")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil)
		req.Header.Set("X-Admin-Token", "adm_wrong")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("disabled mode", func(t *testing.T) {
		off := AdminAuth(config.Config{AdminAuthMode: config.AdminAuthDisabled}, nil, ok)
		rec := httptest.NewRecorder()
		off.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/leads", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
