package admission

import (
	"context"
	"net/http"
	"strconv"
)

type claimsKey struct{}

// WithClaims attaches verified claims to a request context for downstream
// authorization checks.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok
}

// Middleware gates a handler behind the token admission path. Missing or
// malformed headers answer 401; a token that fails verification answers 403.
func Middleware(policy *Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verdict := policy.EvaluateToken(clientIP(r), r.Header.Get("Authorization"))
		if !verdict.Allow {
			switch verdict.Reason {
			case ReasonBlocked:
				w.Header().Set("Retry-After", strconv.Itoa(int(verdict.RetryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
			case ReasonMissingToken:
				writeError(w, http.StatusUnauthorized, "authentication required")
			case ReasonBadTokenFormat:
				writeError(w, http.StatusUnauthorized, "authentication format invalid")
			default:
				writeError(w, http.StatusForbidden, "invalid or expired token")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), *verdict.Claims)))
	})
}
