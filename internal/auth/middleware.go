package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ErrMissingToken is returned when verification is on and no token was sent.
var ErrMissingToken = errors.New("missing token")

// Claims represents the parsed token claims.
type Claims struct {
	Subject  string   `json:"sub"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles"`
	SystemID string   `json:"systemId,omitempty"`
}

// Label is the human-readable attribution for messages sent by the holder.
func (c *Claims) Label() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

// HasRole reports whether the claims grant role.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Connection roles a token may grant.
const (
	RoleDevice = "device"
	RoleViewer = "viewer"
)

// Middleware authenticates HTTP requests. A nil verifier disables checks.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates a middleware that verifies with v, or allows
// everything when v is nil.
func NewMiddleware(v *Verifier) *Middleware {
	return &Middleware{verifier: v}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m != nil && m.verifier != nil
}

// Authenticate extracts and verifies the request token. It returns nil
// claims and no error when checks are disabled.
func (m *Middleware) Authenticate(r *http.Request) (*Claims, error) {
	if !m.Enabled() {
		return nil, nil
	}
	token := extractToken(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return m.verifier.VerifyToken(token)
}

// RequireAuth rejects requests without a valid token. The health endpoint
// is always allowed through.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || r.URL.Path == "/api/v1/health" {
			next(w, r)
			return
		}

		claims, err := m.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// extractToken reads a bearer token from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query parameter.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// GetClaimsFromRequest extracts claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
