package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/stebofarm/gateway/internal/auth"
)

// AdminConfig holds configuration for the admin credential check.
type AdminConfig struct {
	Logger *slog.Logger
	// TokenHash is the argon2id PHC string of the admin token. Empty
	// disables the admin routes.
	TokenHash string
}

// RequireAdmin returns a middleware that admits requests carrying
// "Authorization: Bearer <token>" matching cfg.TokenHash. It guards
// registration, which sits under a signature bypass prefix.
func RequireAdmin(cfg AdminConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "admin")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logFailure := func(reason string) {
				logger.Warn("admin authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
			}

			if cfg.TokenHash == "" {
				logFailure("admin_disabled")
				writeError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED", "Admin API is not configured")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				logFailure("missing_token")
				writeAdminAuthError(w)
				return
			}

			ok, err := auth.VerifyAdminToken(token, cfg.TokenHash)
			if err != nil {
				logger.Error("admin token hash unusable",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAdminAuthError(w)
				return
			}
			if !ok {
				logFailure("invalid_token")
				writeAdminAuthError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAdminAuthError uses the same message for every failure to prevent
// enumeration.
func writeAdminAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing admin token")
}
