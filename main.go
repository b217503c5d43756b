package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gestaobancar/pixapi/app/controllers"
	"github.com/gestaobancar/pixapi/internal/pkg/cache"
	"github.com/gestaobancar/pixapi/internal/pkg/database"
	"github.com/gestaobancar/pixapi/internal/pkg/env"
	"github.com/gestaobancar/pixapi/internal/pkg/gateway"
	"github.com/gestaobancar/pixapi/internal/pkg/reconcile"
	"github.com/gestaobancar/pixapi/internal/pkg/router"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"gorm.io/gorm"
)

func main() {
	app, db, store := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "3000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Printf("cache shutdown: %v", err)
	}
	if err := database.Close(db); err != nil {
		log.Printf("database shutdown: %v", err)
	}
}

// NewApplication wires the whole service: config, store handle, gateway
// client and reconciliation engine are constructed once here and injected,
// never reached for through globals.
func NewApplication() (*fiber.App, *gorm.DB, *cache.Cache) {
	env.SetupEnvFile()

	// Missing credentials are configuration errors: fail before serving.
	if env.GetEnv("MERCADO_PAGO_ACCESS_TOKEN", "") == "" {
		log.Fatal("configuration error: MERCADO_PAGO_ACCESS_TOKEN is required")
	}
	if env.GetEnv("DB_USER", "") == "" || env.GetEnv("DB_NAME", "") == "" {
		log.Fatal("configuration error: DB_USER and DB_NAME are required")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	statusCache := cache.New()

	gw := gateway.NewClientFromEnv()
	engine := reconcile.NewEngine(gw, reconcile.NewStore(db))

	app := fiber.New(fiber.Config{
		AppName: "pix-api",
	})
	app.Use(recover.New(), requestid.New(), logger.New())

	router.InstallRouter(app, router.Dependencies{
		Charges:  controllers.NewChargeController(gw, statusCache),
		Webhooks: controllers.NewWebhookController(engine),
	})

	return app, db, statusCache
}
