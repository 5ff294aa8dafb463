package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atelierhq/studio/pkg/gateway/apierror"
	"github.com/atelierhq/studio/pkg/gateway/config"
)

// DefaultAdminSessionTTL is how long an issued admin token stays valid.
const DefaultAdminSessionTTL = 12 * time.Hour

// AdminSessionCookie is the cookie the login handler sets so browser-based
// admin clients don't have to juggle the token themselves.
const AdminSessionCookie = "studio_admin_session"

// TokenStore holds admin session tokens in memory. Tokens are issued by the
// login handler after a shared-secret check and die with the process; this is
// a one-admin back office, not an identity system.
type TokenStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultAdminSessionTTL
	}
	return &TokenStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]time.Time),
	}
}

// TTL reports the configured session lifetime.
func (s *TokenStore) TTL() time.Duration { return s.ttl }

// Issue mints a new session token.
func (s *TokenStore) Issue() string {
	token := "adm_" + randHex(24)
	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return token
}

// Valid reports whether token is a live session, pruning it when expired.
func (s *TokenStore) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// Revoke drops a token; unknown tokens are a no-op.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// VerifySecret compares a presented secret against the configured one in
// constant time.
func VerifySecret(cfg config.Config, presented string) bool {
	if cfg.AdminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.AdminSecret), []byte(presented)) == 1
}

// AdminToken extracts the session token from a request: the X-Admin-Token
// header, a bearer Authorization header, or the session cookie.
func AdminToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get("X-Admin-Token")); tok != "" {
		return tok
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if c, err := r.Cookie(AdminSessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// AdminAuth guards the admin API with a session token check.
func AdminAuth(cfg config.Config, tokens *TokenStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.AdminAuthMode == config.AdminAuthDisabled {
			next.ServeHTTP(w, r)
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		token := AdminToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, &apierror.Error{
				Type:      apierror.TypeAuthentication,
				Message:   "missing admin token",
				Param:     "X-Admin-Token",
				RequestID: reqID,
			})
			return
		}
		// API clients may skip the login flow and present the shared
		// secret directly.
		if VerifySecret(cfg, token) {
			next.ServeHTTP(w, r)
			return
		}
		if tokens == nil || !tokens.Valid(token) {
			writeJSONError(w, http.StatusUnauthorized, &apierror.Error{
				Type:      apierror.TypeAuthentication,
				Message:   "invalid or expired admin token",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
