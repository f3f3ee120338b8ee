package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HyphaGroup/portcullis/internal/logger"
)

// Middleware creates HTTP middleware for authentication.
// Only Bearer token authentication is supported for HTTP access; socket
// connections authenticate on their greeting line instead.
func Middleware(gateway *Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, http.StatusUnauthorized, -32001, "Authentication required (Bearer token)")
				return
			}

			rawToken := strings.TrimPrefix(header, "Bearer ")
			authCtx, err := gateway.Authenticate(r.Context(), rawToken)
			if err != nil {
				logger.WarnContext(r.Context(), "authentication failed",
					"token", MaskToken(rawToken),
					"error", err)
				switch {
				case errors.Is(err, ErrTokenExpired):
					jsonError(w, http.StatusUnauthorized, -32002, "Token expired or revoked")
				case errors.Is(err, ErrTenantInvalid):
					jsonError(w, http.StatusForbidden, -32003, "Tenant unavailable")
				default:
					jsonError(w, http.StatusUnauthorized, -32001, "Invalid or unknown token")
				}
				return
			}

			ctx := WithContext(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func jsonError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": nil,
	})
}
