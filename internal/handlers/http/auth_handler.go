package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/services"
	"voxrelay/pkg/errors"
	"voxrelay/pkg/validation"
)

// AuthHandler exchanges the shared API secret for client tokens. There is no
// user store: callers prove possession of the secret and receive a JWT with
// the role they asked for.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	APISecret string `json:"apiSecret" binding:"required,max=256"`
	Name      string `json:"name" binding:"required,max=64"`
	Role      string `json:"role" binding:"omitempty,oneof=operator consumer"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateStringLength(req.Name, 3, 64, "name"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, expiresAt, err := h.authService.ExchangeSecret(req.APISecret, req.Name, domain.ClientRole(req.Role))
	if err != nil {
		c.Error(errors.NewUnauthorizedError("invalid API secret"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
		"expires_in":   int(time.Until(expiresAt).Seconds()),
	})
}
