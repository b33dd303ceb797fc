package middleware

import (
	"strings"

	"p2prelay/internal/core/services"
	"p2prelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the authenticated token subject.
const SubjectKey = "subject"

// AuthMiddleware requires a valid admin bearer token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, errors.Unauthorized("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			abortWith(c, errors.Unauthorized("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, errors.Unauthorized(err.Error()))
			return
		}
		if claims.Role != services.RoleAdmin {
			abortWith(c, errors.New(errors.CodeForbidden, "admin role required"))
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

func abortWith(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.Status(), appErr.Body())
}
