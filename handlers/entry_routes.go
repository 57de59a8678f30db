// handlers/entry_routes.go
package handlers

import (
	"sweepstakes-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEntryRoutes(app *fiber.App, entryService *services.EntryService) {
	// 🔓 Landing page endpoints
	app.Post("/entries", entryService.CreateEntry)
	app.Get("/entries/lookup", entryService.GetEntryByEmail)
	app.Get("/entries/code/:code", entryService.GetEntryByCode)
}
