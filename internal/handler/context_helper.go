package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-window-api/internal/middleware"
	"github.com/noah-isme/exam-window-api/internal/models"
	appErrors "github.com/noah-isme/exam-window-api/pkg/errors"
	"github.com/noah-isme/exam-window-api/pkg/response"
)

// requireClaims writes a 401 and reports false when the request carries no caller identity.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
