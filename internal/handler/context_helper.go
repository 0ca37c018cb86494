package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/reosmzreo0410-netizen/booking-system/internal/middleware"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// identityFromContext prefers the authenticated user and falls back to the guest fields.
func identityFromContext(c *gin.Context, guestName, guestEmail string) models.Identity {
	if claims := claimsFromContext(c); claims != nil && claims.UserID != "" {
		return models.UserIdentity(claims.UserID)
	}
	return models.GuestIdentity(guestName, guestEmail)
}
