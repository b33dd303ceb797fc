package http

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"p2prelay/internal/core/services"
	"p2prelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/auth/token", h.IssueToken)
}

type TokenRequest struct {
	Subject  string `json:"subject" binding:"required,max=64"`
	AdminKey string `json:"admin_key" binding:"required,max=256"`
}

// IssueToken exchanges the admin key for a bearer token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.InvalidInput("invalid request format"))
		return
	}

	token, err := h.authService.IssueToken(strings.TrimSpace(req.Subject), req.AdminKey)
	if err != nil {
		if stderrors.Is(err, services.ErrUnauthorized) {
			c.Error(errors.Unauthorized("invalid admin key"))
			return
		}
		c.Error(errors.Wrap(err, errors.CodeInternal, "failed to issue token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
