package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RevocationKey is the Redis key holding a unix-time cutoff for a user.
// Access tokens issued before the cutoff are rejected. Set on password
// change so stolen tokens die with the old password.
func RevocationKey(userID string) string {
	return "auth_revoked:" + userID
}

// JWTMiddleware validates the bearer token on protected routes and sets
// user context. Only access tokens pass; refresh tokens carry the same
// signature but must not open protected routes. Tokens issued before the
// user's revocation cutoff in Redis are treated as expired.
func JWTMiddleware(secret []byte, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("Authorization")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing authorization"})
		}

		token = strings.TrimPrefix(token, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})

		if err != nil || !parsed.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token claims"})
		}

		if tokenType, _ := claims["token_type"].(string); tokenType != "access" {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token type"})
		}

		// Safely extract user_id claim
		userIDClaim, exists := claims["user_id"]
		if !exists {
			return c.Status(401).JSON(fiber.Map{"error": "Missing user_id claim"})
		}

		userIDStr, ok := userIDClaim.(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id claim type"})
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id format"})
		}

		// A Redis outage must not lock everyone out, so lookup errors
		// (including a missing key) skip the revocation check
		if cutoff, err := rdb.Get(c.Context(), RevocationKey(userIDStr)).Int64(); err == nil {
			iat, _ := claims["iat"].(float64)
			if int64(iat) < cutoff {
				return c.Status(401).JSON(fiber.Map{"error": "Token revoked"})
			}
		}

		// Set user ID in context for subsequent middleware
		c.Locals("user_id", userID)

		return c.Next()
	}
}
