package middleware

import (
	"net/http"

	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
)

const allowedRequestHeaders = "Content-Type, " + HeaderSignature + ", " + HeaderTimestamp + ", " + HeaderEnvironment

// CORSAndMethod answers preflight with 204 and rejects anything that is
// not a POST. Pixels run cross-origin, so the CORS surface is permissive;
// real gating happens in the later stages.
func CORSAndMethod() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowedRequestHeaders)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if c.Request.Method != http.MethodPost {
			ic, _ := FromContext(c)
			production := ic != nil && ic.IsProduction
			response.Error(c, production, apperror.ErrMethodNotAllowed())
			return
		}

		c.Next()
	}
}
