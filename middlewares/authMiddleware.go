package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/members_backend/utils"
)

// AuthMiddleware accepts JWT bearer tokens for service-to-service callers
// (the scheduler, internal jobs). Browser sessions use the token header and
// SessionMiddleware instead.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.Next()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := c.Request.Context()
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetUsernameInContext(ctx, claim.Subject)
		ctx = context.WithValue(ctx, utils.ContextKeyIsAdmin, claim.Role == "Admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
