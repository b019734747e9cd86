package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qbank-api/internal/models"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/response"
)

// RequireRoles enforces role-based access for routes. Roles are compared after
// normalisation so legacy ROLE_* claims still match.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[models.NormalizeRole(string(r))] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[models.NormalizeRole(string(claims.Role))]; ok {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
