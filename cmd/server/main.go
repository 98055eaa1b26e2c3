// Package main is the entry point for the groupwork application.
// It initializes configuration, logging, the database connection, and all
// HTTP routes.
package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/config"
	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/handlers"
	"github.com/avissapr/groupwork/internal/jobs"
	"github.com/avissapr/groupwork/internal/logger"
	"github.com/avissapr/groupwork/internal/middleware"
	"github.com/avissapr/groupwork/internal/security"
	"github.com/avissapr/groupwork/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// Connect to PostgreSQL and run pending migrations.
	dbCfg := &database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}
	if cfg.Database.URL == "" {
		dbCfg = nil // fall back to DATABASE_URL
	}
	database.MustConnect(dbCfg)
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	securityConfig := security.DefaultSecurityConfig()
	securityConfig.SessionSecure = cfg.Session.CookieSecure
	securityConfig.SessionTimeout = time.Duration(cfg.Session.ExpirationHours) * time.Hour

	securityMiddleware := middleware.NewSecurityMiddleware(zlog, securityConfig)

	// Per-endpoint rate limiters for the expensive bulk operations.
	csvImportLimiter := security.NewRateLimiter(
		securityConfig.RateLimitCSVImport,
		time.Hour/time.Duration(securityConfig.RateLimitCSVImport),
	)
	defer csvImportLimiter.Stop()

	bulkJobLimiter := security.NewRateLimiter(
		securityConfig.RateLimitBulkJobs,
		time.Hour/time.Duration(securityConfig.RateLimitBulkJobs),
	)
	defer bulkJobLimiter.Stop()

	app := fiber.New(fiber.Config{
		AppName: "groupwork",
	})

	// Panic recovery first, then request logging and security headers.
	app.Use(recover.New())
	app.Use(securityMiddleware.RequestLogger())
	app.Use(securityMiddleware.SecureHeaders())

	store := session.New(session.Config{
		Expiration:     securityConfig.SessionTimeout,
		KeyLookup:      "cookie:" + securityConfig.SessionCookieName,
		CookieSecure:   securityConfig.SessionSecure,
		CookieHTTPOnly: securityConfig.SessionHTTPOnly,
		CookieSameSite: securityConfig.SessionSameSite,
	})

	// Wire the service and job layers.
	groupService := services.NewGroupService(zlog)
	jobRunner := jobs.NewRunner(zlog)
	groupUpdater := jobs.NewGroupUpdater(jobRunner, groupService, zlog)

	authHandler := handlers.NewAuthHandler(store, securityMiddleware, zlog)
	groupHandler := handlers.NewGroupHandler(groupService, groupUpdater, securityConfig, zlog)
	jobHandler := handlers.NewJobHandler(jobRunner, zlog)

	app.Post("/api/login", authHandler.Login)
	app.Post("/api/logout", authHandler.Logout)

	api := app.Group("/api", middleware.AuthRequired(store))

	assessment := api.Group("/assessments/:assessmentID")
	assessment.Get("/group", groupHandler.GetMyGroup)
	assessment.Post("/groups", groupHandler.CreateGroup)
	assessment.Post("/groups/join", groupHandler.JoinGroup)
	assessment.Post("/groups/leave", groupHandler.LeaveGroup)
	assessment.Post("/groups/:groupID/roles", groupHandler.UpdateRoles)
	assessment.Get("/groups/:groupID/log", groupHandler.GroupLog)
	assessment.Delete("/groups/:groupID", groupHandler.DeleteGroup)
	assessment.Delete("/groups", groupHandler.DeleteAllGroups)

	assessment.Post("/groups/upload",
		securityMiddleware.RateLimit(csvImportLimiter, "upload_groups"),
		groupHandler.UploadGroups)
	assessment.Post("/groups/random",
		securityMiddleware.RateLimit(bulkJobLimiter, "random_groups"),
		groupHandler.RandomGroups)

	api.Get("/jobs/:jobID", jobHandler.GetJob)

	zlog.Info("🚀 Server starting", zap.String("port", cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}
