package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/roomgate/booking-backend/internal/bootstrap"
	"github.com/roomgate/booking-backend/internal/config"
	"github.com/roomgate/booking-backend/internal/database"
	"github.com/roomgate/booking-backend/internal/handlers"
	"github.com/roomgate/booking-backend/internal/middleware"
	"github.com/roomgate/booking-backend/internal/services"
	"github.com/roomgate/booking-backend/pkg/jwt"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting RoomGate booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	sqlxDB, ok := db.(*database.PostgresDB)
	if !ok {
		logger.Fatal("Failed to cast database connection to PostgresDB")
	}

	// Initialize services
	logger.Info("Initializing services...")
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	components, err := bootstrap.Build(startupCtx, cfg, sqlxDB.Sqlx(), logger)
	cancelStartup()
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer components.Close()

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, 0)
	bookingHandler := handlers.NewBookingOrchestratorHandler(components.Orchestrator, components.PaymentEvents, logger).
		WithAuditTrail(components.Audit)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	v1 := router.Group("/api/v1")
	{
		// Gateway webhook: authenticated by signature, not JWT
		v1.POST("/payments/webhook", bookingHandler.PaymentWebhook)

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			bookings.POST("/intent", bookingHandler.CreateIntent)
			bookings.POST("/confirm", bookingHandler.ConfirmBooking)
			bookings.POST("/:booking_ref/cancel", bookingHandler.CancelBooking)
			bookings.GET("/:booking_ref", bookingHandler.GetBooking)
		}

		// Back-office endpoints
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(services.BackOfficeRoles...))
		{
			admin.GET("/bookings/:booking_ref/audit", bookingHandler.GetBookingAudit)
		}
	}

	// Create HTTP server. Confirm runs a supplier call with retries, so the
	// write timeout covers the supplier budget.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Supplier.Timeout*time.Duration(cfg.Supplier.MaxAttempts) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}
		if ref := c.Param("booking_ref"); ref != "" {
			fields["booking_ref"] = ref
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
