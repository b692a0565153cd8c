package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zipcase/zipcase"
)

// userIDKey is the fiber locals slot the middleware fills for handlers.
const userIDKey = "userID"

// requireAuth validates the bearer token and stashes the subject claim
// as the requesting user id.
func requireAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			return unauthorized(c)
		}

		token, err := jwt.Parse(strings.TrimPrefix(authz, prefix), func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return unauthorized(c)
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return unauthorized(c)
		}
		c.Locals(userIDKey, sub)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: zipcase.MsgUnauthorized})
}

func requestUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(userIDKey).(string)
	return userID
}
