package router

import (
	"github.com/gestaobancar/pixapi/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type HTTPRouter struct {
}

func (h HTTPRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)
	app.Get("/env-check", controllers.HandleEnvCheck)
}

func NewHTTPRouter() *HTTPRouter {
	return &HTTPRouter{}
}
