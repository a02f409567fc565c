package api

import (
	"context"
	"net/http"
	"strings"
)

// AuthUser is the owner of the API key that signed a request.
type AuthUser struct {
	UserID string
	Email  string
	KeyID  string
}

// getUserFromContext returns the authenticated user from the request context, or nil.
func getUserFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return u
}

// requireAuth verifies the Bearer token and injects the key's owner into the
// context. Repeated failures from one IP are rate limited.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.authFailed(w, r, "missing or malformed authorization header")
			return
		}

		ak, user, err := s.store.VerifyAPIKey(token)
		if err != nil {
			logFor(r.Context()).Error("verify api key", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}
		if ak == nil || user == nil {
			s.authFailed(w, r, "invalid or expired api key")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAuthUser, &AuthUser{UserID: user.ID, Email: user.Email, KeyID: ak.ID})
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("uid", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, msg string) {
	ip := clientIP(r)
	if !s.rateLimiter.Allow("auth:"+ip, s.config.RateLimitAuth) {
		s.logRateLimit("", ip, "auth")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many failed authentications")
		return
	}
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

// handleWhoAmI reports the owner of the calling key.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	u := getUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"user_id": u.UserID, "key_id": u.KeyID, "email": u.Email})
}
