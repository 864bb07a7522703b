package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/handlers"
	"github.com/koinonia/backend/internal/middleware"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Payment provider
	paypalClient, err := services.NewPayPalClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize PayPal client: %v", err)
	}

	// Initialize services
	authService := services.NewAuthService(db, cfg)
	userService := services.NewUserService(db)
	auditService := services.NewAuditService(db)
	ledgerService := services.NewLedgerService(db)
	discountService := services.NewDiscountService(db)
	projectionService := services.NewProjectionService(db)
	snapshotService := services.NewSnapshotService(cfg)
	refundService := services.NewRefundService(db, cfg, paypalClient, ledgerService)
	registrationService := services.NewRegistrationService(db, discountService, refundService)
	paymentService := services.NewPaymentService(db, cfg, paypalClient, ledgerService, registrationService, discountService)
	eventService := services.NewEventService(db, refundService, snapshotService, projectionService, auditService)
	qrService := services.NewQRService(cfg)
	exportService := services.NewExportService(db)

	// Periodic projection sweep keeps every publishing blueprint topped up
	go func() {
		projectionService.SweepAll()
		ticker := time.NewTicker(cfg.PublishInterval)
		defer ticker.Stop()
		for range ticker.C {
			projectionService.SweepAll()
		}
	}()

	// Periodic refresh-token cleanup
	go func() {
		for {
			if err := authService.CleanupExpiredTokens(); err != nil {
				log.Printf("Token cleanup error: %v", err)
			}
			time.Sleep(1 * time.Hour)
		}
	}()

	// Create admin user if not exists
	if err := authService.CreateDefaultAdmin(); err != nil {
		log.Printf("Failed to create default admin: %v", err)
	}

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	publicHandler := handlers.NewPublicHandler(eventService)
	registrationHandler := handlers.NewRegistrationHandler(eventService, registrationService, paymentService, ledgerService, qrService)
	adminHandler := handlers.NewAdminHandler(eventService, registrationService, ledgerService, refundService, discountService, userService, exportService, auditService)

	router.GET("/health", publicHandler.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/health", publicHandler.Health)

		// Catch-all OPTIONS handler for CORS preflight requests
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// Public routes
		public := api.Group("/public")
		{
			public.GET("/events", publicHandler.ListEvents)
			public.GET("/events/:id", publicHandler.GetEvent)
		}

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
		}

		// User routes
		user := api.Group("/user")
		user.Use(middleware.Auth(authService))
		{
			user.GET("/profile", userHandler.GetProfile)
			user.PUT("/profile", userHandler.UpdateProfile)
			user.POST("/family", userHandler.AddFamilyMember)
			user.DELETE("/family/:memberId", userHandler.RemoveFamilyMember)

			user.GET("/registrations", registrationHandler.ListMyRegistrations)
			user.GET("/transactions", registrationHandler.ListMyTransactions)
			user.GET("/events/:id/registration", registrationHandler.GetRegistration)
			user.POST("/events/:id/registration", registrationHandler.ChangeRegistration)
			user.POST("/events/:id/registration/capture", registrationHandler.CaptureRegistration)
			user.GET("/events/:id/checkin-qr", registrationHandler.GetCheckinQR)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(authService))
		admin.Use(middleware.AdminOnly())
		{
			admin.GET("/events", adminHandler.ListEvents)
			admin.POST("/events", adminHandler.CreateEvent)
			admin.GET("/events/:id", adminHandler.GetEvent)
			admin.PUT("/events/:id", adminHandler.UpdateEvent)
			admin.DELETE("/events/:id",
				middleware.AdminActionRateLimit(redisClient, "event_delete", cfg.AdminRateLimitActions, cfg.AdminRateLimitWindowMinutes),
				adminHandler.DeleteEvent)
			admin.POST("/events/:id/publish", adminHandler.PublishEvent)

			admin.PUT("/instances/:instanceId/overrides", adminHandler.UpdateInstanceOverrides)
			admin.GET("/instances/:instanceId/transactions", adminHandler.ListInstanceTransactions)
			admin.GET("/instances/:instanceId/participants.pdf", adminHandler.ParticipantsPDF)
			admin.POST("/instances/:instanceId/force-register", adminHandler.ForceRegister)

			admin.POST("/transactions/refund",
				middleware.AdminActionRateLimit(redisClient, "transaction_refund", cfg.AdminRateLimitActions, cfg.AdminRateLimitWindowMinutes),
				adminHandler.RefundTransaction)

			admin.GET("/discounts", adminHandler.ListDiscounts)
			admin.POST("/discounts", adminHandler.CreateDiscount)
			admin.PUT("/discounts/:id/active", adminHandler.SetDiscountActive)
			admin.DELETE("/discounts/:id", adminHandler.DeleteDiscount)

			admin.GET("/users", adminHandler.ListUsers)
			admin.PUT("/users/:id/membership", adminHandler.SetUserMembership)
			admin.PUT("/users/:id/active", adminHandler.SetUserActive)

			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
