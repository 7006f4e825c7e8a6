// Package middleware provides HTTP middleware for the storefront API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/storefront/internal/app/auth"
	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/errors"
	internalhttputil "github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/pkg/logger"
)

// TokenValidator verifies session tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// UserLookup loads the current state of a token's subject.
type UserLookup interface {
	Get(ctx context.Context, id string) (user.User, error)
}

// AuthMiddleware provides JWT authentication. A valid token only admits its
// subject while the account still exists and is active; the stored role
// replaces the role carried in the token.
type AuthMiddleware struct {
	tokens    TokenValidator
	users     UserLookup
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, users UserLookup, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}

	return &AuthMiddleware{
		tokens:    tokens,
		users:     users,
		logger:    log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := extractToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.tokens.Validate(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		u, err := m.users.Get(r.Context(), claims.UserID)
		if err != nil {
			if errors.HasCode(err, errors.CodeNotFound) {
				err = errors.InvalidToken(err)
			}
			m.respondError(w, r, err)
			return
		}
		if !u.Active {
			m.respondError(w, r, errors.InvalidToken(nil))
			return
		}

		ctx := logger.WithUser(r.Context(), u.ID, u.Email, string(u.Role))

		m.logger.WithContext(ctx).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads a bearer token, falling back to the session cookie.
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.Unauthorized("Invalid Authorization header format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookie, err := r.Cookie(auth.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.Unauthorized("Missing Authorization header")
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(r *http.Request) string {
	return logger.GetUserID(r.Context())
}

// GetUserRole extracts user role from context
func GetUserRole(r *http.Request) string {
	return logger.GetRole(r.Context())
}

// RequireRole admits authenticated users holding one of roles. It must run
// after AuthMiddleware.
func RequireRole(log *logger.Logger, roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[string(role)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r) == "" {
				internalhttputil.Unauthorized(w, "")
				return
			}
			if role := GetUserRole(r); !allowed[role] {
				if log != nil {
					log.LogSecurityEvent(r.Context(), "forbidden", map[string]interface{}{
						"path":   r.URL.Path,
						"method": r.Method,
						"role":   role,
					})
				}
				internalhttputil.Forbidden(w, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
