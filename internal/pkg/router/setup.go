package router

import (
	"github.com/gestaobancar/pixapi/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries the constructed controllers into the routers; nothing
// here reaches for globals.
type Dependencies struct {
	Charges  *controllers.ChargeController
	Webhooks *controllers.WebhookController
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHTTPRouter(), NewAPIRouter(deps.Charges), NewWebhookRouter(deps.Webhooks))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
