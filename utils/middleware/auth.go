package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/utils/auth"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/response"
	"go.uber.org/zap"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager *auth.JWTManager
	revocation *auth.RevocationService
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *auth.JWTManager, revocation *auth.RevocationService) *AuthMiddleware {
	if revocation == nil {
		revocation = auth.NewRevocationService(nil)
	}
	return &AuthMiddleware{
		jwtManager: jwtManager,
		revocation: revocation,
	}
}

// Required is middleware that requires a valid JWT token
func (m *AuthMiddleware) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := m.authenticate(c)
		if err != nil {
			return writeAuthError(c, err)
		}
		storeClaims(c, claims)
		return c.Next()
	}
}

// RequireAdmin validates the token inline and requires the admin role
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := m.authenticate(c)
		if err != nil {
			return writeAuthError(c, err)
		}
		if !claims.IsAdmin() {
			return response.Forbidden(c, "Admin access required")
		}
		storeClaims(c, claims)
		return c.Next()
	}
}

// RequireRole is middleware that requires one of the given roles.
// It must run after Required.
func (m *AuthMiddleware) RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := GetUserRole(c)
		if !ok {
			return response.Forbidden(c, "Access denied")
		}
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return response.Forbidden(c, "Insufficient permissions")
	}
}

// authError is a rejected request; status 0 means 401.
type authError struct {
	status  int
	message string
}

func (e *authError) Error() string { return e.message }

func (m *AuthMiddleware) authenticate(c *fiber.Ctx) (*auth.Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, &authError{message: "Missing authorization token"}
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, &authError{message: "Invalid authorization format"}
	}

	claims, err := m.jwtManager.ValidateToken(parts[1])
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, &authError{message: "Token has expired"}
		}
		return nil, &authError{message: "Invalid token"}
	}

	revoked, err := m.revocation.IsTokenRevoked(c.UserContext(), claims.ID)
	if err != nil {
		logger.Log.Warn("token revocation check failed", zap.Error(err))
		return nil, &authError{status: fiber.StatusInternalServerError, message: "Failed to check token status"}
	}
	if revoked {
		return nil, &authError{message: "Token has been revoked"}
	}

	return claims, nil
}

func writeAuthError(c *fiber.Ctx, err error) error {
	var ae *authError
	if errors.As(err, &ae) && ae.status == fiber.StatusInternalServerError {
		return response.InternalServerError(c, ae.message)
	}
	return response.Unauthorized(c, err.Error())
}

func storeClaims(c *fiber.Ctx, claims *auth.Claims) {
	c.Locals("user_id", claims.UserID)
	c.Locals("user_email", claims.Email)
	c.Locals("user_role", claims.Role)
	c.Locals("claims", claims)
	c.Locals("token_jti", claims.ID)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("user_id").(uint)
	return id, ok
}

// GetUserRole extracts user role from context
func GetUserRole(c *fiber.Ctx) (string, bool) {
	r, ok := c.Locals("user_role").(string)
	return r, ok
}

// GetClaims extracts full claims from context
func GetClaims(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals("claims").(*auth.Claims)
	return claims, ok
}
