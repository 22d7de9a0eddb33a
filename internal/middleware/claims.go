package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-window-api/internal/models"
)

// CurrentClaims returns the claims stored by JWT, or nil when the request is unauthenticated.
func CurrentClaims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
