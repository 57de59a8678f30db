// handlers/conversion_routes.go
package handlers

import (
	"sweepstakes-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupConversionRoutes(app *fiber.App, conversionService *services.ConversionService) {
	// 🔓 Everflow postback — intentionally unauthenticated (see middleware.OpenRoutes).
	// The network may call with query params (GET) or a JSON body (POST).
	app.Get("/webhook/conversion", conversionService.HandleConversionWebhook)
	app.Post("/webhook/conversion", conversionService.HandleConversionWebhook)
}
