package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/services"
)

// Context keys set by the auth middleware.
const (
	ContextKeyClaims   = "auth_claims"
	ContextKeyClientID = "client_id"
)

// AuthMiddleware validates the Bearer token on every request and stores the
// caller's claims in the request context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, authService)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyClientID, string(claims.ClientID))
		c.Next()
	}
}

// OptionalAuthMiddleware attaches claims when a valid token is present but
// lets anonymous requests through. The session gateway uses it so consumers
// can be attributed in logs without requiring every one to authenticate.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := claimsFromHeader(c, authService); err == nil {
			c.Set(ContextKeyClaims, claims)
			c.Set(ContextKeyClientID, string(claims.ClientID))
		}
		c.Next()
	}
}

// WSAuthMiddleware validates the token on WebSocket upgrade requests.
// Browsers cannot set headers on a socket dial, so the token may arrive as a
// ?token= query parameter instead of the Authorization header.
func WSAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, authService)
		if err != nil {
			if token := c.Query("token"); token != "" {
				claims, err = authService.ValidateToken(token)
			}
		}
		if err != nil || claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "valid token required"})
			c.Abort()
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyClientID, string(claims.ClientID))
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated client does not hold at
// least the given role. It must run after AuthMiddleware.
func RequireRole(authService services.AuthService, role domain.ClientRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		if err := authService.RequireRole(claims, role); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by the auth middleware, or nil
// for anonymous requests.
func ClaimsFromContext(c *gin.Context) *services.Claims {
	val, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, ok := val.(*services.Claims)
	if !ok {
		return nil
	}
	return claims
}

func claimsFromHeader(c *gin.Context, authService services.AuthService) (*services.Claims, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, errors.New("authorization header required")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header format")
	}

	return authService.ValidateToken(strings.TrimSpace(parts[1]))
}
