// Package middleware provides authentication, logging and metrics middleware.
package middleware

import (
	"context"
	"strings"

	"chirp/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// AuthRequired enforces authentication for protected routes. The identity
// provider issues the token; we only verify it and extract the external
// user id from the "sub" claim.
func AuthRequired(c *fiber.Ctx) error {
	externalID, err := externalIDFromHeader(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Locals("externalID", externalID)
	// Sync to UserContext so the context-aware logger picks it up in
	// service layers.
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, externalID))
	return c.Next()
}

// OptionalAuth extracts the external user id when a valid token is present
// but lets unauthenticated requests through.
func OptionalAuth(c *fiber.Ctx) error {
	if externalID, err := externalIDFromHeader(c); err == nil {
		c.Locals("externalID", externalID)
		c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, externalID))
	}
	return c.Next()
}

func externalIDFromHeader(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Authorization header required")
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
	}

	// The subject claim carries the identity provider's opaque user id.
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid token structure - missing subject")
	}

	return sub, nil
}
