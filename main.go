// COS API
//
// COS is a campus event platform: communities run events, students register,
// organizers scan QR tickets at the door, and attendance earns certificates
// and reputation points.
//
// @title COS API
// @description Campus event platform with communities, registrations, QR attendance and certificates
// @version 1.0
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
//
// main.go - Startup wiring: config, database, job queue, services, routes
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "cos-backend/config"
	appcrypto "cos-backend/crypto"
	"cos-backend/database"
	"cos-backend/jobs"
	"cos-backend/metrics"
	appserver "cos-backend/server"
	"cos-backend/services"
	"cos-backend/utils"
	websocketpkg "cos-backend/websocket"
)

func main() {
	// Initialize logging
	utils.InitLogging()

	// Load configuration
	config := appconfig.LoadConfig()
	utils.TrustProxyHeaders.Store(config.TrustProxyHeaders)

	// Track application start time for uptime calculation
	startTime := time.Now()

	// Initialize registration toggle from env (default true)
	envRegRaw, envRegExplicit := os.LookupEnv("ENABLE_REGISTRATION")
	envRegValue := strings.ToLower(strings.TrimSpace(envRegRaw))
	if !envRegExplicit || envRegValue == "" {
		envRegValue = "true"
	}
	if envRegValue == "true" {
		appconfig.RegEnabled.Store(1)
	} else {
		appconfig.RegEnabled.Store(0)
	}

	// Setup database with automatic migrations. SKIP_MIGRATION_CHECK skips
	// the schema check for faster restarts on an already-migrated database.
	setupDB := database.SetupDatabase
	if appconfig.GetEnvAsBool("SKIP_MIGRATION_CHECK", false) {
		setupDB = database.SetupDatabaseFast
	}
	db, err := setupDB(config.DatabaseURL)
	if err != nil {
		log.Fatal("Database setup failed:", err)
	}
	defer db.Close()

	// Job queue tables live in the same database
	if err := jobs.Migrate(context.Background(), db); err != nil {
		log.Fatal("Job queue migration failed:", err)
	}

	// Setup Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisURL,
		Password: config.RedisPassword,
		DB:       0, // use default DB
	})
	defer rdb.Close()

	// Initialize crypto service
	crypto := appcrypto.NewCryptoService(config.EncryptionKey)

	// Readiness is tracked per subsystem so the probe can say what is missing
	readyState := appserver.NewReadyState(db, crypto, config, rdb)

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("⚠️  Redis not reachable yet: %v", err)
	} else {
		readyState.MarkRedisReady()
	}

	// Optional Prometheus instrumentation; the /metrics route is gated on
	// the same flag in setupRoutes
	if appconfig.GetEnvAsBool("ENABLE_METRICS", false) {
		metrics.InstrumentRedis(rdb)
		metrics.StartCollector(db, rdb)
	}

	// Create Fiber app with security middleware and health probes
	app := appserver.CreateFiberApp(startTime, readyState)

	// Collect static assets without blocking startup
	go func() {
		count := services.CollectStatic(config.StaticSrcDir, config.StaticRoot)
		log.Printf("✅ Collected %d static files into %s", count, config.StaticRoot)
		readyState.MarkStaticReady()
	}()

	// Seed default admin user if enabled
	adminService := services.NewAdminService(db)
	if err := adminService.ValidateAdminConfig(); err != nil {
		log.Printf("⚠️  ADMIN CONFIG WARNING: %v", err)
	}
	if err := adminService.CreateDefaultAdminUser(); err != nil {
		log.Printf("Warning: Failed to create default admin user: %v", err)
	}
	readyState.MarkAdminReady()

	// Detect admin accounts that would be locked out by current settings
	if err := services.ValidateAdminAccess(db, appconfig.GetEnvOrDefault("DEFAULT_ADMIN_EMAIL", "admin@cos.local")); err != nil {
		log.Printf("⚠️  ADMIN ACCESS WARNING: %v", err)
	}

	// Start dynamic admin allowlist refresher (hot-reloads from file if mounted)
	services.StartAdminAllowlistRefresher()

	// Domain services shared by handlers and workers
	mailer := services.NewMailer(config)
	activity := services.NewActivityService(db)
	issuer := services.NewCertificateIssuer(db, config.MediaRoot)
	tickets := services.NewTicketService(rdb, appcrypto.NewTicketSigner(config.JWTSecret))

	// Background job queue for certificates and email
	jobClient, err := jobs.NewClient(db, jobs.Deps{
		DB:       db,
		Mailer:   mailer,
		Activity: activity,
		Issuer:   issuer,
		SiteURL:  config.SiteURL,
	}, config.WorkerCount)
	if err != nil {
		log.Fatal("Job queue setup failed:", err)
	}
	if err := jobClient.Start(context.Background()); err != nil {
		log.Fatal("Job queue start failed:", err)
	}
	readyState.MarkJobsReady()

	// WebSocket hub for live attendance counters
	hub := websocketpkg.NewHub()
	go hub.Run()

	setupRoutes(app, db, rdb, crypto, config, activity, tickets, issuer, jobClient, hub, startTime, readyState)

	// Seed app_settings.registration_enabled from env; env overrides DB
	func() {
		ctx := context.Background()
		val := "false"
		if appconfig.RegEnabled.Load() == 1 {
			val = "true"
		}
		if envRegExplicit {
			_, _ = db.Exec(ctx, `INSERT INTO app_settings(key, value) VALUES('registration_enabled', $1)
                                 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, val)
		} else {
			_, _ = db.Exec(ctx, `INSERT INTO app_settings(key, value) VALUES('registration_enabled', $1)
                                 ON CONFLICT (key) DO NOTHING`, val)
			// If present, load from DB to override runtime when env isn't forcing a value
			var dbVal string
			if err := db.QueryRow(ctx, `SELECT value FROM app_settings WHERE key='registration_enabled'`).Scan(&dbVal); err == nil {
				if strings.ToLower(strings.TrimSpace(dbVal)) == "true" {
					appconfig.RegEnabled.Store(1)
				} else {
					appconfig.RegEnabled.Store(0)
				}
			}
		}
	}()

	// Demo content for local environments
	if config.SeedDemoData {
		if err := services.SeedDemoData(db); err != nil {
			log.Printf("Warning: Demo seeding failed: %v", err)
		}
	}

	// Start background cleanup service
	services.StartCleanupService(db)

	// Drain jobs and websockets before the listener closes
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🔄 Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := jobClient.Stop(shutdownCtx); err != nil {
			log.Printf("Warning: Job queue stop: %v", err)
		}
		hub.Close()
		if err := app.Shutdown(); err != nil {
			log.Printf("Warning: Server shutdown: %v", err)
		}
	}()

	// Start server
	log.Printf("Starting COS server on port %s", config.Port)
	log.Fatal(appserver.ListenWithIPv6Fallback(app, config.Port, startTime))
}
