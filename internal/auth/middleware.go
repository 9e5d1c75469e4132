package auth

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Middleware authenticates billing API callers with a bearer JWT and checks
// the role the policy requires for the route.
type Middleware struct {
	Secret []byte
	Policy Policy
}

func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap returns next guarded by the middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, guarded := m.Policy.RequiredRole(r)
		if m.Policy.IsExempt(r) || !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r.Header.Get("Authorization")), m.Secret)
		switch {
		case errors.Is(err, ErrTokenExpired):
			deny(w, http.StatusUnauthorized, "token expired")
			return
		case err != nil:
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			deny(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.TenantID, role, claims.Subject)))
	})
}

func deny(w http.ResponseWriter, status int, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="turpe-billing"`)
	}
	http.Error(w, message, status)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
