package router

import (
	"github.com/gestaobancar/pixapi/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// WebhookRouter installs the public gateway callback endpoints. No auth and
// no rate limiter here: the gateway retries on anything but a fast 200.
type WebhookRouter struct {
	webhooks *controllers.WebhookController
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhook/mercadopago", h.webhooks.HandleMercadoPagoWebhook)
	app.Post("/webhook/pix", h.webhooks.HandlePixWebhook)
}

func NewWebhookRouter(webhooks *controllers.WebhookController) *WebhookRouter {
	return &WebhookRouter{webhooks: webhooks}
}
