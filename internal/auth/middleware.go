package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"incident-api/internal/observability"
)

type principalKey struct{}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID    string
	Username  string
	Role      string
	Token     string
	ExpiresAt time.Time
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticate checks the blacklist first, then the signature and claims.
// A revoked token is refused even while its signature is still valid.
func Authenticate(service *Service, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			revoked, err := service.IsBlacklisted(r.Context(), tokenStr)
			if err != nil {
				logger.Error("blacklist_check_failed", map[string]any{"error": err.Error()})
				observability.CaptureRequestError(r, err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if revoked {
				writeError(w, http.StatusUnauthorized, "token has been revoked")
				return
			}

			claims, err := service.ValidateAccessToken(tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			principal := Principal{
				UserID:   claims.Subject,
				Username: claims.Username,
				Role:     claims.Role,
				Token:    tokenStr,
			}
			if claims.ExpiresAt != nil {
				principal.ExpiresAt = claims.ExpiresAt.Time
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromRequest feeds the audit log.
func UserIDFromRequest(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	tokenStr := strings.TrimSpace(parts[1])
	return tokenStr, tokenStr != ""
}
