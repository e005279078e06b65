package core

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"classbook/internal/types"
)

// AuthMiddleware resolves an optional bearer token to an Actor.
//
// Requests without an Authorization header continue anonymously: schedule
// reads are public and answer "loginToBook" to anonymous viewers. A header
// that is present but malformed, invalid or expired is rejected with 401.
// Routes that need an identity add RequireActor.
//
// A token issued for another tenant is rejected with
// permission_tenant_mismatch unless the actor is a platform admin.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		if tenant, ok := types.GetTenant(r.Context()); ok && !tenant.IsZero() &&
			!actor.IsPlatformAdmin() && actor.TenantID != tenant.ID {
			Error(w, r, types.NewAppError(types.ErrCodePermissionTenantMismatch,
				"token was issued for a different tenant", nil))
			return
		}

		annotateRequestLog(r.Context(), "actor_id", actor.ID)
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header. The
// scheme is matched case-insensitively per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := types.LoggerFromContext(r.Context(), s.Logger)

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			logger.Warn("authentication failed: token expired", slog.String("path", r.URL.Path))
			writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			logger.Warn("authentication failed: token invalid", slog.String("path", r.URL.Path))
			writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	logger.Error("authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// RequireActor rejects anonymous requests with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetActor(r.Context()); !ok {
			writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects actors whose role is not listed. Platform admins always
// pass.
func RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
				return
			}
			if !actor.IsPlatformAdmin() && !slices.Contains(roles, actor.Role) {
				Error(w, r, types.NewAppError(types.ErrCodePermissionRole, "Insufficient role for this operation", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
