//
//
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// anonymous is granted every scope when authentication is disabled.
var anonymous = &Claims{
	Subject: "anonymous",
	Roles:   []string{RoleOperator},
	Scopes:  []string{ScopeRead, ScopeControl, ScopeTelemetry},
}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier TokenVerifier
	disabled bool
}

// NewMiddleware creates auth middleware verifying tokens with verifier.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// NewDisabledMiddleware accepts every request as an anonymous operator.
func NewDisabledMiddleware() *Middleware {
	klog.Warning("auth: authentication disabled, every request runs as operator")
	return &Middleware{disabled: true}
}

// RequireAuth creates middleware that requires authentication.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health endpoint
		if r.URL.Path == "/api/v1/health" {
			next(w, r)
			return
		}

		if m.disabled {
			next(w, r.WithContext(WithClaims(r.Context(), anonymous)))
			return
		}

		token, err := m.extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Authentication required", nil)
			return
		}

		claims, err := m.verifyToken(token)
		if err != nil {
			klog.V(2).Infof("auth: rejected token from %s: %v", r.RemoteAddr, err)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"Invalid token", nil)
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireScope creates middleware that requires specific scopes.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required", nil)
				return
			}

			if !m.hasRequiredScopes(claims, requiredScopes) {
				writeError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions", map[string]interface{}{"required": requiredScopes})
				return
			}

			next(w, r)
		}
	}
}

// RequireRole creates middleware that requires one of the given roles.
func (m *Middleware) RequireRole(requiredRoles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required", nil)
				return
			}

			if !m.hasRequiredRoles(claims, requiredRoles) {
				writeError(w, http.StatusForbidden, "FORBIDDEN",
					"Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func (m *Middleware) extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	return token, nil
}

func (m *Middleware) verifyToken(token string) (*Claims, error) {
	if m.verifier == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	return m.verifier.VerifyToken(token)
}

// hasRequiredScopes checks if the user has all required scopes.
func (m *Middleware) hasRequiredScopes(claims *Claims, requiredScopes []string) bool {
	if claims == nil {
		return false
	}
	for _, required := range requiredScopes {
		if !slices.Contains(claims.Scopes, required) {
			return false
		}
	}
	return true
}

// hasRequiredRoles checks if the user has any of the required roles.
func (m *Middleware) hasRequiredRoles(claims *Claims, requiredRoles []string) bool {
	if claims == nil {
		return false
	}
	if len(requiredRoles) == 0 {
		return true
	}
	for _, required := range requiredRoles {
		if slices.Contains(claims.Roles, required) {
			return true
		}
	}
	return false
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFrom extracts claims from ctx, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// SubjectFrom returns the token subject of ctx, or the empty string.
// Used as the audit user of management commands.
func SubjectFrom(ctx context.Context) string {
	if claims := ClaimsFrom(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// GetClaimsFromRequest extracts claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	return ClaimsFrom(r.Context())
}

// writeError writes an error response in the API envelope format.
func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	}

	if details != nil {
		response["details"] = details
	}

	_ = json.NewEncoder(w).Encode(response)
}
