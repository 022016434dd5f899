package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/spire-automator/internal/middleware"
	"github.com/noah-isme/spire-automator/internal/models"
)

func viewerFromContext(c *gin.Context) *models.ViewerClaims {
	value, exists := c.Get(middleware.ContextViewerKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.ViewerClaims)
	if !ok {
		return nil
	}
	return claims
}
