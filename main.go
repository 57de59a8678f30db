package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sweepstakes-system/handlers"
	"sweepstakes-system/middleware"
	"sweepstakes-system/models"
	"sweepstakes-system/services"
	"sweepstakes-system/utils"
	"sweepstakes-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB — bulk import payloads
	})

	// 🔐 Admin/migration routes require the service token; the conversion
	// webhook and entry endpoints are deliberately open (see middleware.OpenRoutes).
	middleware.ValidateOpenRoutes()
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError turns unique-constraint violations into
	// gorm.ErrDuplicatedKey (signup races on the entry email index).
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Entry{},
		&models.ConversionRecord{},
		&models.MigrationSubscriber{},
		&models.AutomationConfig{},
		&models.OperationLog{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	beehiivAPIKey := os.Getenv("BEEHIIV_API_KEY")
	if beehiivAPIKey == "" {
		log.Fatal("BEEHIIV_API_KEY environment variable not set")
	}
	beehiivPublicationID := os.Getenv("BEEHIIV_PUBLICATION_ID")
	if beehiivPublicationID == "" {
		log.Fatal("BEEHIIV_PUBLICATION_ID environment variable not set")
	}
	notificationURL := os.Getenv("NOTIFICATION_API_URL")
	if notificationURL == "" {
		log.Fatal("NOTIFICATION_API_URL environment variable not set")
	}

	beehiivClient := services.NewBeehiivClient(os.Getenv("BEEHIIV_API_URL"), beehiivAPIKey, beehiivPublicationID)
	notificationClient := services.NewNotificationClient(notificationURL, os.Getenv("NOTIFICATION_API_TOKEN"))

	notifier := services.NewNotifierService(db, beehiivClient, notificationClient, services.CampaignTemplate{
		Subject:    os.Getenv("NOTIFY_SUBJECT"),
		TemplateID: os.Getenv("NOTIFY_TEMPLATE_ID"),
	})
	entryService := services.NewEntryService(db, notifier)
	conversionService := services.NewConversionService(db, notifier)
	migrationService := services.NewMigrationService(db, beehiivClient)
	automationService := services.NewAutomationService(db, migrationService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := workers.StartAutomationScheduler(ctx, automationService, migrationService)
	if err != nil {
		log.Fatal("failed to start automation scheduler:", err)
	}

	handlers.SetupEntryRoutes(app, entryService)
	handlers.SetupConversionRoutes(app, conversionService)
	handlers.SetupMigrationRoutes(app, migrationService)
	handlers.SetupAutomationRoutes(app, automationService)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Automation scheduler running (tick every 1m, stall sweep every 10m)")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	_ = app.Shutdown()
}
