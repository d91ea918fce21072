package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/utils"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	AuthLimiter         fiber.Handler
	RegisterLimiter     fiber.Handler
	MFAVerifyLimiter    fiber.Handler
	QRTokenLimiter      fiber.Handler
	QRScanLimiter       fiber.Handler
	QRImageLimiter      fiber.Handler
	CertVerifyLimiter   fiber.Handler
	EventWriteLimiter   fiber.Handler
	AnnouncementLimiter fiber.Handler
	AnalyticsLimiter    fiber.Handler
	ExportLimiter       fiber.Handler
	StandardCRUDLimiter fiber.Handler
	LightweightLimiter  fiber.Handler
}

// ipKey namespaces limiter buckets per scope so limiters sharing the same
// Redis storage cannot collide
func ipKey(scope string) func(*fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		return scope + ":" + utils.ClientIP(c)
	}
}

// userKey buckets authenticated scopes per user, falling back to client IP
// for requests that reach the limiter before JWT validation
func userKey(scope string) func(*fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
			return scope + ":" + uid.String()
		}
		return scope + ":" + utils.ClientIP(c)
	}
}

// userParamKey buckets per user+route param, so one noisy event or
// community cannot exhaust a user's quota everywhere else
func userParamKey(scope, param string) func(*fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
			return scope + ":" + uid.String() + ":" + c.Params(param)
		}
		return scope + ":" + utils.ClientIP(c) + ":" + c.Params(param)
	}
}

// NewRateLimitConfig creates all rate limiters using Redis storage
func NewRateLimitConfig(rdb *redis.Client) *RateLimitConfig {
	// Create Redis storage instance for distributed rate limiting from existing client
	storage := redisstorage.NewFromConnection(rdb)

	// Tier 1: Auth Endpoints (Strictest - Prevent brute force)
	authLimiter := limiter.New(limiter.Config{
		Max:          10,
		Expiration:   5 * time.Minute,
		KeyGenerator: ipKey("auth"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many authentication attempts. Please try again later.",
			})
		},
	})

	registerLimiter := limiter.New(limiter.Config{
		Max:          5,
		Expiration:   15 * time.Minute,
		KeyGenerator: ipKey("register"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many registration attempts. Please try again later.",
			})
		},
	})

	mfaVerifyLimiter := limiter.New(limiter.Config{
		Max:          10,
		Expiration:   5 * time.Minute,
		KeyGenerator: ipKey("mfa-verify"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many MFA verification attempts. Please try again later.",
			})
		},
	})

	// Tier 2: Ticketing and scanning
	qrTokenLimiter := limiter.New(limiter.Config{
		Max:          100,
		Expiration:   time.Minute,
		KeyGenerator: userKey("qr-token"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many ticket token requests. Please try again later.",
			})
		},
	})

	qrScanLimiter := limiter.New(limiter.Config{
		Max:          30,
		Expiration:   time.Minute,
		KeyGenerator: userKey("qr-scan"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many scan attempts. Please try again later.",
			})
		},
	})

	qrImageLimiter := limiter.New(limiter.Config{
		Max:          60,
		Expiration:   time.Minute,
		KeyGenerator: ipKey("qr-image"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many QR image requests. Please try again later.",
			})
		},
	})

	// Public certificate verification is unauthenticated but cheap
	certVerifyLimiter := limiter.New(limiter.Config{
		Max:          120,
		Expiration:   time.Minute,
		KeyGenerator: ipKey("cert-verify"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many verification requests. Please try again later.",
			})
		},
	})

	// Tier 3: Write-heavy operations
	eventWriteLimiter := limiter.New(limiter.Config{
		Max:          30,
		Expiration:   time.Minute,
		KeyGenerator: userKey("event-write"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many write requests. Please try again later.",
			})
		},
	})

	announcementLimiter := limiter.New(limiter.Config{
		Max:          10,
		Expiration:   time.Minute,
		KeyGenerator: userParamKey("announce", "id"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many announcements. Please slow down.",
			})
		},
	})

	analyticsLimiter := limiter.New(limiter.Config{
		Max:          20,
		Expiration:   time.Minute,
		KeyGenerator: userParamKey("analytics", "id"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many analytics requests. Please try again later.",
			})
		},
	})

	exportLimiter := limiter.New(limiter.Config{
		Max:          10,
		Expiration:   5 * time.Minute,
		KeyGenerator: userKey("export"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many export requests. Please try again later.",
			})
		},
	})

	// Tier 4: Standard CRUD (Normal usage)
	standardCRUDLimiter := limiter.New(limiter.Config{
		Max:          100,
		Expiration:   time.Minute,
		KeyGenerator: userKey("crud"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	})

	// Tier 5: Read-Only/Lightweight (Liberal)
	lightweightLimiter := limiter.New(limiter.Config{
		Max:          200,
		Expiration:   time.Minute,
		KeyGenerator: ipKey("read"),
		Storage:      storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	})

	return &RateLimitConfig{
		AuthLimiter:         authLimiter,
		RegisterLimiter:     registerLimiter,
		MFAVerifyLimiter:    mfaVerifyLimiter,
		QRTokenLimiter:      qrTokenLimiter,
		QRScanLimiter:       qrScanLimiter,
		QRImageLimiter:      qrImageLimiter,
		CertVerifyLimiter:   certVerifyLimiter,
		EventWriteLimiter:   eventWriteLimiter,
		AnnouncementLimiter: announcementLimiter,
		AnalyticsLimiter:    analyticsLimiter,
		ExportLimiter:       exportLimiter,
		StandardCRUDLimiter: standardCRUDLimiter,
		LightweightLimiter:  lightweightLimiter,
	}
}
