package controllers

import (
	"github.com/gestaobancar/pixapi/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
)

func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true, "service": "pix-api"})
}

// HandleEnvCheck reports which configuration surfaces are present, without
// leaking their values.
func HandleEnvCheck(c *fiber.Ctx) error {
	webhookURL := env.GetEnv("MP_WEBHOOK_URL", "")
	var webhook interface{}
	if webhookURL != "" {
		webhook = webhookURL
	}
	return c.JSON(fiber.Map{
		"mpToken":      env.GetEnv("MERCADO_PAGO_ACCESS_TOKEN", "") != "",
		"dbConfigured": env.GetEnv("DB_USER", "") != "" && env.GetEnv("DB_NAME", "") != "",
		"webhookUrl":   webhook,
	})
}
