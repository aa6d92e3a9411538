package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	appErrors "github.com/noah-isme/pesantren-billing-api/pkg/errors"
	"github.com/noah-isme/pesantren-billing-api/pkg/response"
)

// Self grants access when the route's :id equals the caller's user ID. Guardian tokens carry
// the ward's student ID, so Self covers both students and guardians.
const Self = "SELF"

// RBAC enforces role-based access control for routes.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.Role]struct{})
	for _, a := range allowed {
		if a == Self {
			allowSelf = true
			continue
		}
		allowedRoles[models.Role(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		if allowSelf && claims.Role != models.RoleAdmin {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
