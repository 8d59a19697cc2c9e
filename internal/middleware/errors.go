package middleware

import "github.com/gin-gonic/gin"

// abort ends the request with the same {error, code} body the handlers use.
func abort(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}
