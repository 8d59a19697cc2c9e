package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/security"
)

const claimsKey = "access_claims"

type AccessVerifier interface {
	VerifyAccess(token string) (*security.Claims, error)
}

// Auth admits requests carrying a valid access token. It checks the token
// only; session and account state are enforced when the token is refreshed.
func Auth(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verifier.VerifyAccess(tokenStr)
		if err != nil {
			abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func CurrentClaims(c *gin.Context) (*security.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*security.Claims)
	return claims, ok && claims != nil
}
