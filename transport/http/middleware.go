package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/garuda/service"
)

const (
	contextSubject    = "subject"
	contextCredential = "credentialToken"
)

// AuthMiddleware creates middleware that validates session credentials
func AuthMiddleware(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")

		credential, err := sessions.Credential(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credential"})
			return
		}

		c.Set(contextSubject, credential.Subject)
		c.Set(contextCredential, token)

		c.Next()
	}
}
