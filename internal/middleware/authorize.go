package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/models"
)

// RequireRoles admits callers whose access token carries one of roles. The
// role is read from the token, so a demotion takes effect on the next
// refresh. Must run after Auth.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := slices.Clone(roles)

	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		role := models.UserRole(claims.Role)
		if !role.Valid() || !slices.Contains(allowed, role) {
			abort(c, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
			return
		}
		c.Next()
	}
}
