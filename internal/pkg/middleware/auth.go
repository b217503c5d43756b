package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gestaobancar/pixapi/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
)

// RequireAPIToken authenticates caller-facing endpoints against the static
// API_AUTH_TOKEN. The webhook endpoints stay public; the gateway does not
// authenticate its callbacks.
func RequireAPIToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := strings.TrimSpace(env.GetEnv("API_AUTH_TOKEN", ""))
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "msg": "API token is not configured"})
		}

		token := extractTokenFromHeader(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "msg": "Token ausente ou inválido"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"ok": false, "msg": "Token inválido ou expirado"})
		}
		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
