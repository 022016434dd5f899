package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/spire-automator/internal/models"
	appErrors "github.com/noah-isme/spire-automator/pkg/errors"
	"github.com/noah-isme/spire-automator/pkg/response"
)

// ContextViewerKey is the gin context key storing validated viewer claims.
const ContextViewerKey = "currentViewer"

// TokenValidator validates status API bearer tokens.
type TokenValidator interface {
	Enabled() bool
	ValidateToken(token string) (*models.ViewerClaims, error)
}

// JWT requires a valid bearer token when tokens are enabled and passes every
// request through otherwise.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil || !tokens.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextViewerKey, claims)
		c.Next()
	}
}
