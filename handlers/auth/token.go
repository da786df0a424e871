package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/utils/auth"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/middleware"
	"github.com/sahilchouksey/upsc-prep-api/utils/response"
	"go.uber.org/zap"
)

// TokenHandler serves endpoints about the caller's access token. Tokens are
// issued by the accounts service that shares JWT_SECRET.
type TokenHandler struct {
	revocation *auth.RevocationService
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(revocation *auth.RevocationService) *TokenHandler {
	return &TokenHandler{revocation: revocation}
}

// Me handles GET /api/v1/auth/me
func (h *TokenHandler) Me(c *fiber.Ctx) error {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}
	out := fiber.Map{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
	}
	if claims.ExpiresAt != nil {
		out["expires_at"] = claims.ExpiresAt.Time
	}
	return response.Success(c, out)
}

// Logout handles POST /api/v1/auth/logout
// Revokes the presented token until it would have expired.
func (h *TokenHandler) Logout(c *fiber.Ctx) error {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "Not authenticated")
	}
	if !h.revocation.Enabled() {
		return response.ServiceUnavailable(c, "Logout is unavailable without Redis")
	}
	if claims.ID == "" {
		return response.BadRequest(c, "No token ID found")
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if err := h.revocation.RevokeToken(c.Context(), claims.ID, expiresAt); err != nil {
		logger.Log.Error("failed to revoke token", zap.Uint("user_id", claims.UserID), zap.Error(err))
		return response.InternalServerError(c, "Failed to logout")
	}

	return response.SuccessWithMessage(c, "Successfully logged out", nil)
}
