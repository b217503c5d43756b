package router

import (
	"github.com/gestaobancar/pixapi/app/controllers"
	"github.com/gestaobancar/pixapi/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type APIRouter struct {
	charges *controllers.ChargeController
}

func (h APIRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(), middleware.RequireAPIToken())
	api.Post("/pix", h.charges.HandleCreateCharge)

	app.Get("/pix/status/:paymentId", middleware.RequireAPIToken(), h.charges.HandlePaymentStatus)
}

func NewAPIRouter(charges *controllers.ChargeController) *APIRouter {
	return &APIRouter{charges: charges}
}
