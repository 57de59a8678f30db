// handlers/migration_routes.go
package handlers

import (
	"sweepstakes-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupMigrationRoutes registers one route per migration command. The legacy
// tool multiplexed these behind a single endpoint with an `action` string;
// distinct routes make the command set closed and obvious.
func SetupMigrationRoutes(app *fiber.App, migrationService *services.MigrationService) {
	grp := app.Group("/migration")

	grp.Post("/import", migrationService.HandleImport)
	grp.Post("/migrate-batch", migrationService.HandleMigrateBatch)
	grp.Post("/reset-in-progress", migrationService.HandleResetInProgress)
	grp.Post("/reset-failed", migrationService.HandleResetFailed)
	grp.Post("/clear-queue", migrationService.HandleClearQueue)
	grp.Get("/stats", migrationService.HandleStats)
}

func SetupAutomationRoutes(app *fiber.App, automationService *services.AutomationService) {
	grp := app.Group("/automation")

	grp.Get("/heartbeat", automationService.HandleHeartbeat)
	grp.Post("/run", automationService.HandleRunAutomation)
	grp.Post("/continuous", automationService.HandleContinuousAutomation)
	grp.Post("/toggle", automationService.HandleToggleAutomation)
}
