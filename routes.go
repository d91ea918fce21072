package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"

	appconfig "cos-backend/config"
	appcrypto "cos-backend/crypto"
	"cos-backend/handlers"
	"cos-backend/metrics"
	"cos-backend/middleware"
	appserver "cos-backend/server"
	"cos-backend/services"
	websocketpkg "cos-backend/websocket"
)

// setupRoutes configures all API routes and middleware for the application
func setupRoutes(app *fiber.App, db *pgxpool.Pool, rdb *redis.Client, crypto *appcrypto.CryptoService, config *appconfig.Config, activity *services.ActivityService, tickets *services.TicketService, issuer *services.CertificateIssuer, jobClient *river.Client[pgx.Tx], hub *websocketpkg.Hub, startTime time.Time, readyState *appserver.ReadyState) {
	// Security middleware
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge: func() int {
			if config.Environment == "production" {
				return 31536000
			}
			return 0
		}(),
		HSTSPreloadEnabled: config.Environment == "production",
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' https://unpkg.com; " +
			"style-src 'self' 'unsafe-inline' https://unpkg.com; " +
			"font-src 'self' data:; " +
			"img-src 'self' data: https: blob:; " +
			"connect-src 'self' ws: wss:; " +
			"media-src 'self' blob:; " +
			"object-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'; " +
			"form-action 'self'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	// CSRF protection. QR images and certificate verification are GET
	// endpoints, so they pass through the method check.
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-CSRF-Token",
		CookieName:     "csrf_token",
		CookieSameSite: "Strict",
		CookieSecure:   true,
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		KeyGenerator:   uuid.NewString,
		ContextKey:     "csrf",
		Next: func(c *fiber.Ctx) bool {
			method := c.Method()
			path := c.Path()
			return method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions ||
				strings.HasPrefix(path, "/api/v1/health") ||
				strings.HasPrefix(path, "/api/v1/auth/") ||
				strings.HasPrefix(path, "/ws/")
		},
	}))

	// CORS configuration
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(config.AllowedOrigins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders:    "X-CSRF-Token",
	}))

	// Optional Prometheus metrics
	if appconfig.GetEnvAsBool("ENABLE_METRICS", false) {
		app.Use(metrics.PrometheusMiddleware())
		app.Get("/metrics", func(c *fiber.Ctx) error {
			req := &http.Request{
				Method:     c.Method(),
				URL:        &url.URL{Path: c.Path(), RawQuery: string(c.Request().URI().QueryString())},
				Header:     make(http.Header),
				Host:       string(c.Request().Host()),
				RequestURI: c.OriginalURL(),
			}
			c.Request().Header.VisitAll(func(key, value []byte) {
				req.Header.Add(string(key), string(value))
			})
			promhttp.Handler().ServeHTTP(appserver.NewFiberResponseWriter(c), req)
			return nil
		})
	}

	// Initialize rate limiters
	rateLimits := middleware.NewRateLimitConfig(rdb)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, rdb, crypto, config)
	usersHandler := handlers.NewUsersHandler(db, rdb, crypto, config)
	communitiesHandler := handlers.NewCommunitiesHandler(db, rdb, config, activity)
	eventsHandler := handlers.NewEventsHandler(db, rdb, config, activity)
	registrationsHandler := handlers.NewRegistrationsHandler(db, rdb, config, activity, jobClient)
	scanHandler := handlers.NewScanHandler(db, rdb, config, tickets, activity, jobClient, hub)
	certificatesHandler := handlers.NewCertificatesHandler(db, rdb, config, issuer, activity, jobClient)
	teamsHandler := handlers.NewTeamsHandler(db, rdb, config, activity)
	volunteersHandler := handlers.NewVolunteersHandler(db, rdb, config, activity)
	announcementsHandler := handlers.NewAnnouncementsHandler(db, rdb, config, activity, jobClient)
	feedbackHandler := handlers.NewFeedbackHandler(db, rdb, config, activity)
	projectsHandler := handlers.NewProjectsHandler(db, rdb, config, activity)
	feedHandler := handlers.NewFeedHandler(db, rdb, config)
	notificationsHandler := handlers.NewNotificationsHandler(db, rdb, config)
	gamificationHandler := handlers.NewGamificationHandler(db, rdb, config)
	dashboardHandler := handlers.NewDashboardHandler(db, rdb, config)
	analyticsHandler := handlers.NewAnalyticsHandler(db, rdb, config)
	searchHandler := handlers.NewSearchHandler(db)
	uploadsHandler := handlers.NewUploadsHandler(config)

	// API group
	api := app.Group("/api/v1")

	// Legacy health summary kept for uptime checks; live/ready probes are
	// registered by CreateFiberApp
	api.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health := fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"uptime":    time.Since(startTime).String(),
		}

		var userCount int
		dbHealthy := true
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
			dbHealthy = false
			health["database"] = "unhealthy"
			health["database_error"] = err.Error()
		} else {
			health["database"] = "healthy"
			health["user_count"] = userCount
		}

		redisHealthy := true
		if err := rdb.Ping(ctx).Err(); err != nil {
			redisHealthy = false
			health["redis"] = "unhealthy"
			health["redis_error"] = err.Error()
		} else {
			health["redis"] = "healthy"
		}

		if !dbHealthy || !redisHealthy {
			health["status"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		return c.JSON(health)
	})

	// Swagger documentation endpoints
	api.Get("/docs", swaggerUIHandler)
	api.Get("/docs/openapi.json", swaggerJSONHandler)
	app.Get("/swagger", swaggerUIHandler)
	app.Get("/swagger/openapi.json", swaggerJSONHandler)

	// Authentication routes (public) - Tier 1: Strictest rate limiting
	api.Post("/auth/register", rateLimits.RegisterLimiter, authHandler.Register)
	api.Post("/auth/login", rateLimits.AuthLimiter, authHandler.Login)
	api.Post("/auth/refresh", rateLimits.AuthLimiter, authHandler.Refresh)
	api.Get("/auth/registration", func(c *fiber.Ctx) error {
		var dbVal string
		if err := db.QueryRow(c.Context(), `SELECT value FROM app_settings WHERE key='registration_enabled'`).Scan(&dbVal); err == nil {
			if strings.ToLower(strings.TrimSpace(dbVal)) == "true" {
				appconfig.RegEnabled.Store(1)
			} else {
				appconfig.RegEnabled.Store(0)
			}
		}
		return c.JSON(fiber.Map{"enabled": appconfig.RegEnabled.Load() == 1})
	})

	// Public QR image and certificate verification. Both expose only
	// opaque tokens, so no auth is required.
	api.Get("/qr/:qr/image", rateLimits.QRImageLimiter, scanHandler.QRImage)
	api.Get("/events/:id/certificate/verify/:token", rateLimits.CertVerifyLimiter, certificatesHandler.VerifyCertificate)

	// Protected routes (require JWT)
	protected := api.Group("", middleware.JWTMiddleware(config.JWTSecret, rdb))

	// Session and MFA routes
	protected.Post("/auth/logout", rateLimits.LightweightLimiter, authHandler.Logout)
	protected.Get("/auth/me", rateLimits.LightweightLimiter, authHandler.Me)
	protected.Post("/auth/change-password", rateLimits.AuthLimiter, authHandler.ChangePassword)
	protected.Get("/auth/mfa/status", rateLimits.LightweightLimiter, authHandler.GetMFAStatus)
	protected.Post("/auth/mfa/begin", rateLimits.AuthLimiter, authHandler.BeginMFASetup)
	protected.Post("/auth/mfa/enable", rateLimits.MFAVerifyLimiter, authHandler.EnableMFA)
	protected.Post("/auth/mfa/disable", rateLimits.MFAVerifyLimiter, authHandler.DisableMFA)

	// Profile routes. The "me" routes must come before the :id ones.
	protected.Get("/users/me", rateLimits.LightweightLimiter, usersHandler.GetProfile)
	protected.Patch("/users/me", rateLimits.StandardCRUDLimiter, usersHandler.UpdateProfile)
	protected.Post("/users/me/onboarding", rateLimits.StandardCRUDLimiter, usersHandler.CompleteOnboarding)
	protected.Get("/users/me/certificates", rateLimits.StandardCRUDLimiter, certificatesHandler.MyCertificates)
	protected.Get("/users/me/accomplishments", rateLimits.StandardCRUDLimiter, usersHandler.ListAccomplishments)
	protected.Post("/users/me/accomplishments", rateLimits.StandardCRUDLimiter, usersHandler.CreateAccomplishment)
	protected.Delete("/users/me/accomplishments/:id", rateLimits.StandardCRUDLimiter, usersHandler.DeleteAccomplishment)
	protected.Get("/users/:id", rateLimits.StandardCRUDLimiter, usersHandler.GetPublicProfile)
	protected.Get("/users/:id/accomplishments", rateLimits.StandardCRUDLimiter, usersHandler.ListAccomplishments)

	// Communities - Tier 4: Standard CRUD
	protected.Post("/communities", rateLimits.StandardCRUDLimiter, communitiesHandler.CreateCommunity)
	protected.Get("/communities", rateLimits.StandardCRUDLimiter, communitiesHandler.ListCommunities)
	protected.Post("/communities/join/:token", rateLimits.StandardCRUDLimiter, communitiesHandler.JoinByInvite)
	protected.Get("/communities/:id", rateLimits.StandardCRUDLimiter, communitiesHandler.GetCommunity)
	protected.Patch("/communities/:id", rateLimits.StandardCRUDLimiter, communitiesHandler.UpdateCommunity)
	protected.Delete("/communities/:id", rateLimits.StandardCRUDLimiter, communitiesHandler.DeactivateCommunity)
	protected.Post("/communities/:id/join", rateLimits.StandardCRUDLimiter, communitiesHandler.JoinCommunity)
	protected.Post("/communities/:id/leave", rateLimits.StandardCRUDLimiter, communitiesHandler.LeaveCommunity)
	protected.Post("/communities/:id/set-default", rateLimits.StandardCRUDLimiter, communitiesHandler.SetDefaultCommunity)
	protected.Get("/communities/:id/members", rateLimits.StandardCRUDLimiter, communitiesHandler.ListMembers)
	protected.Patch("/communities/:id/members/:userId", rateLimits.StandardCRUDLimiter, communitiesHandler.ChangeMemberRole)
	protected.Delete("/communities/:id/members/:userId", rateLimits.StandardCRUDLimiter, communitiesHandler.RemoveMember)
	protected.Post("/communities/:id/transfer-ownership", rateLimits.StandardCRUDLimiter, communitiesHandler.TransferOwnership)
	protected.Post("/communities/:id/invites", rateLimits.StandardCRUDLimiter, communitiesHandler.CreateInvite)
	protected.Get("/communities/:id/invites", rateLimits.StandardCRUDLimiter, communitiesHandler.ListInvites)
	protected.Delete("/communities/:id/invites/:inviteId", rateLimits.StandardCRUDLimiter, communitiesHandler.RevokeInvite)
	protected.Post("/communities/:id/apply", rateLimits.StandardCRUDLimiter, communitiesHandler.ApplyForMembership)
	protected.Get("/communities/:id/applications", rateLimits.StandardCRUDLimiter, communitiesHandler.ListApplications)
	protected.Patch("/communities/:id/applications/:applicationId", rateLimits.StandardCRUDLimiter, communitiesHandler.ReviewApplication)
	protected.Get("/communities/:id/todos", rateLimits.StandardCRUDLimiter, communitiesHandler.ListTodos)
	protected.Post("/communities/:id/todos", rateLimits.StandardCRUDLimiter, communitiesHandler.CreateTodo)
	protected.Patch("/communities/:id/todos/:todoId", rateLimits.StandardCRUDLimiter, communitiesHandler.UpdateTodo)
	protected.Delete("/communities/:id/todos/:todoId", rateLimits.StandardCRUDLimiter, communitiesHandler.DeleteTodo)

	// Gamification and community analytics
	protected.Get("/communities/:id/leaderboard", rateLimits.StandardCRUDLimiter, gamificationHandler.Leaderboard)
	protected.Get("/communities/:id/stats/me", rateLimits.LightweightLimiter, gamificationHandler.MyStats)
	protected.Get("/communities/:id/reputation", rateLimits.StandardCRUDLimiter, gamificationHandler.MyReputationLog)
	protected.Get("/communities/:id/analytics", rateLimits.AnalyticsLimiter, analyticsHandler.CommunityAnalytics)

	// Events. "me" routes before :id, writes behind the event-write tier.
	protected.Get("/events/me/announcements", rateLimits.StandardCRUDLimiter, announcementsHandler.MyAnnouncements)
	protected.Post("/events", rateLimits.EventWriteLimiter, eventsHandler.CreateEvent)
	protected.Get("/events", rateLimits.StandardCRUDLimiter, eventsHandler.ListEvents)
	protected.Get("/events/:id", rateLimits.StandardCRUDLimiter, eventsHandler.GetEvent)
	protected.Patch("/events/:id", rateLimits.EventWriteLimiter, eventsHandler.UpdateEvent)
	protected.Delete("/events/:id", rateLimits.EventWriteLimiter, eventsHandler.DeleteEvent)
	protected.Post("/events/:id/action", rateLimits.EventWriteLimiter, eventsHandler.EventAction)

	// Registrations
	protected.Post("/events/:id/register", rateLimits.StandardCRUDLimiter, registrationsHandler.RegisterForEvent)
	protected.Delete("/events/:id/register", rateLimits.StandardCRUDLimiter, registrationsHandler.CancelRegistration)
	protected.Get("/events/:id/registrations/me", rateLimits.LightweightLimiter, registrationsHandler.GetMyRegistration)
	protected.Get("/events/:id/registrations/export", rateLimits.ExportLimiter, registrationsHandler.ExportRegistrationsCSV)
	protected.Get("/events/:id/registrations", rateLimits.StandardCRUDLimiter, registrationsHandler.ListRegistrations)
	protected.Patch("/events/:id/registrations/:regId", rateLimits.StandardCRUDLimiter, registrationsHandler.UpdateRegistrationStatus)

	// Attendance and QR scanning
	protected.Get("/events/:id/ticket", rateLimits.QRTokenLimiter, scanHandler.GetTicket)
	protected.Post("/events/:id/scan", rateLimits.QRScanLimiter, scanHandler.ScanQR)
	protected.Get("/events/:id/attendance/live", rateLimits.StandardCRUDLimiter, scanHandler.LiveAttendance)

	// Certificates
	protected.Post("/events/:id/registrations/:regId/certificate", rateLimits.EventWriteLimiter, certificatesHandler.IssueCertificate)
	protected.Post("/certificates/:id/revoke", rateLimits.EventWriteLimiter, certificatesHandler.RevokeCertificate)

	// Participant teams
	protected.Post("/teams/join", rateLimits.StandardCRUDLimiter, teamsHandler.JoinTeam)
	protected.Post("/events/:id/teams", rateLimits.StandardCRUDLimiter, teamsHandler.CreateTeam)
	protected.Get("/events/:id/teams", rateLimits.StandardCRUDLimiter, teamsHandler.ListTeams)
	protected.Get("/events/:id/teams/mine", rateLimits.StandardCRUDLimiter, teamsHandler.MyTeam)
	protected.Get("/teams/:id/members", rateLimits.StandardCRUDLimiter, teamsHandler.TeamMembers)
	protected.Patch("/teams/:id", rateLimits.StandardCRUDLimiter, teamsHandler.UpdateTeam)
	protected.Post("/teams/:id/leave", rateLimits.StandardCRUDLimiter, teamsHandler.LeaveTeam)
	protected.Delete("/teams/:id/members/:userId", rateLimits.StandardCRUDLimiter, teamsHandler.RemoveTeamMember)

	// Event staff
	protected.Get("/events/:id/staff", rateLimits.StandardCRUDLimiter, teamsHandler.ListStaff)
	protected.Post("/events/:id/staff", rateLimits.StandardCRUDLimiter, teamsHandler.AddStaff)
	protected.Delete("/events/:id/staff/:userId", rateLimits.StandardCRUDLimiter, teamsHandler.RemoveStaff)

	// Volunteers
	protected.Post("/events/:id/volunteer", rateLimits.StandardCRUDLimiter, volunteersHandler.VolunteerForEvent)
	protected.Get("/events/:id/volunteers", rateLimits.StandardCRUDLimiter, volunteersHandler.ListVolunteers)
	protected.Patch("/events/:id/volunteers/:volunteerId", rateLimits.StandardCRUDLimiter, volunteersHandler.UpdateVolunteer)

	// Announcements. Creation is throttled per user and event.
	protected.Post("/events/:id/announcements", rateLimits.AnnouncementLimiter, announcementsHandler.CreateAnnouncement)
	protected.Get("/events/:id/announcements", rateLimits.StandardCRUDLimiter, announcementsHandler.ListAnnouncements)

	// Feedback
	protected.Post("/events/:id/feedback/submit", rateLimits.StandardCRUDLimiter, feedbackHandler.SubmitFeedback)
	protected.Get("/events/:id/feedback/me", rateLimits.LightweightLimiter, feedbackHandler.MyFeedback)
	protected.Get("/events/:id/feedback/stats", rateLimits.StandardCRUDLimiter, feedbackHandler.FeedbackStats)
	protected.Get("/events/:id/feedback", rateLimits.StandardCRUDLimiter, feedbackHandler.ListFeedback)

	// Event analytics - Tier: throttled per user and event
	protected.Get("/events/:id/analytics", rateLimits.AnalyticsLimiter, analyticsHandler.EventAnalytics)

	// Community projects
	protected.Post("/projects", rateLimits.StandardCRUDLimiter, projectsHandler.CreateProject)
	protected.Get("/projects", rateLimits.StandardCRUDLimiter, projectsHandler.ListProjects)
	protected.Get("/projects/:id", rateLimits.StandardCRUDLimiter, projectsHandler.GetProject)
	protected.Patch("/projects/:id", rateLimits.StandardCRUDLimiter, projectsHandler.UpdateProject)
	protected.Delete("/projects/:id", rateLimits.StandardCRUDLimiter, projectsHandler.DeleteProject)

	// Global search and media uploads
	protected.Get("/search", rateLimits.LightweightLimiter, searchHandler.Search)
	protected.Post("/uploads", rateLimits.StandardCRUDLimiter, uploadsHandler.Upload)

	// Community feed
	protected.Get("/feed", rateLimits.LightweightLimiter, feedHandler.ListFeed)
	protected.Post("/feed/:id/like", rateLimits.StandardCRUDLimiter, feedHandler.ToggleLike)
	protected.Get("/feed/:id/comments", rateLimits.StandardCRUDLimiter, feedHandler.ListComments)
	protected.Post("/feed/:id/comments", rateLimits.StandardCRUDLimiter, feedHandler.AddComment)
	protected.Delete("/feed/:id/comments/:commentId", rateLimits.StandardCRUDLimiter, feedHandler.DeleteComment)

	// Notifications
	protected.Get("/notifications/me", rateLimits.LightweightLimiter, notificationsHandler.MyNotifications)
	protected.Post("/notifications/me/mark-read", rateLimits.StandardCRUDLimiter, notificationsHandler.MarkRead)

	// Dashboards
	protected.Get("/me/dashboard/summary", rateLimits.LightweightLimiter, dashboardHandler.Summary)
	protected.Get("/me/dashboard/events", rateLimits.StandardCRUDLimiter, dashboardHandler.MyEvents)
	protected.Get("/me/dashboard/communities", rateLimits.StandardCRUDLimiter, dashboardHandler.MyCommunities)
	protected.Get("/organizer/events/summary", rateLimits.StandardCRUDLimiter, dashboardHandler.OrganizerSummary)
	protected.Get("/organizer/trends", rateLimits.StandardCRUDLimiter, analyticsHandler.OrganizerTrends)

	// Admin API (superusers only)
	admin := protected.Group("/admin", middleware.RequireSuperuser(db))
	admin.Get("/settings/registration", func(c *fiber.Ctx) error {
		// Prefer DB value if present
		var dbVal string
		if err := db.QueryRow(c.Context(), `SELECT value FROM app_settings WHERE key='registration_enabled'`).Scan(&dbVal); err == nil {
			if strings.ToLower(strings.TrimSpace(dbVal)) == "true" {
				appconfig.RegEnabled.Store(1)
			} else {
				appconfig.RegEnabled.Store(0)
			}
		}
		return c.JSON(fiber.Map{"enabled": appconfig.RegEnabled.Load() == 1})
	})
	admin.Put("/settings/registration", func(c *fiber.Ctx) error {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
		}
		if body.Enabled {
			appconfig.RegEnabled.Store(1)
		} else {
			appconfig.RegEnabled.Store(0)
		}
		// Persist to DB
		val := "false"
		if appconfig.RegEnabled.Load() == 1 {
			val = "true"
		}
		_, _ = db.Exec(c.Context(), `INSERT INTO app_settings(key, value) VALUES('registration_enabled', $1)
              ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, val)
		return c.JSON(fiber.Map{"enabled": appconfig.RegEnabled.Load() == 1})
	})

	// Uploaded media (certificate PDFs, banners) and collected static files
	app.Static("/media", config.MediaRoot)
	app.Static("/static", config.StaticRoot)

	// WebSocket live attendance. Staff connect per event; auth happens
	// inside the handler because browsers cannot send headers here.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/events/:id/attendance", fiberws.New(func(conn *fiberws.Conn) {
		websocketpkg.HandleWebSocket(conn, hub, db, config)
	}))
}
