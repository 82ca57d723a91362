package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bounty-entry-system/handlers"
	"bounty-entry-system/middleware"
	"bounty-entry-system/models"
	"bounty-entry-system/services"
	"bounty-entry-system/utils"
	"bounty-entry-system/workers"

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

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
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
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-Wallet-Address, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Bounty{},
		&models.BountyEntry{},
		&models.Entitlement{},
		&models.PaymentSession{},
		&models.ConsumedReference{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.WalletMirror{},
		&models.EscapeEvent{},
		&models.EscapePayout{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	entitlementService := services.NewEntitlementService(db)
	bountyService := services.NewBountyService(db, entitlementService)
	referralService := services.NewReferralService(db, entitlementService)
	paymentService := services.NewPaymentService(db, entitlementService, bountyService)
	escapeService := services.NewEscapeService(db)

	if err := bountyService.SeedDefaultBounties(); err != nil {
		log.Fatal("failed to seed bounties:", err)
	}

	// Confirmation strategies: real wallet verification, plus the mock path
	// for test environments (identical state machine, no network calls).
	paymentService.RegisterChecker(models.MethodWallet, services.NewWalletConfirmationChecker())
	paymentService.RegisterChecker(models.MethodMock, services.NewMockConfirmationChecker())

	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		escapeService.ArchiveReports = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	walletSyncClient := workers.NewWalletSyncClient(db)
	go workers.PollWallets(ctx, walletSyncClient, 10*time.Second)

	escapeService.StartEscapeScheduler()

	handlers.SetupBountyRoutes(app, bountyService, escapeService)
	handlers.SetupPaymentRoutes(app, ctx, paymentService)
	handlers.SetupEntitlementRoutes(app, entitlementService, referralService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Wallet polling running (every 10s)")
	log.Println("✅ Escape plan scheduler running (every 1m, 24h idle threshold)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
