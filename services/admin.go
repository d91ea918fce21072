package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cos-backend/crypto"
)

// AdminConfig holds configuration for default admin user creation
type AdminConfig struct {
	Enabled  bool
	Email    string
	Username string
	Password string
}

// Database interface for database operations
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AdminService handles admin user operations
type AdminService struct {
	db     Database
	config AdminConfig
}

// NewAdminService creates a new admin service
func NewAdminService(db Database) *AdminService {
	config := AdminConfig{
		Enabled:  getEnvBool("ENABLE_DEFAULT_ADMIN", true),
		Email:    getEnvString("DEFAULT_ADMIN_EMAIL", "admin@cos.local"),
		Username: getEnvString("DEFAULT_ADMIN_USERNAME", "admin"),
		Password: getEnvString("DEFAULT_ADMIN_PASSWORD", "AdminPass123!"),
	}

	return &AdminService{
		db:     db,
		config: config,
	}
}

// ValidateAdminConfig validates the admin configuration
func (a *AdminService) ValidateAdminConfig() error {
	if !a.config.Enabled {
		return nil
	}

	if a.config.Email == "" {
		return errors.New("admin email cannot be empty")
	}

	if !isValidEmail(a.config.Email) {
		return fmt.Errorf("invalid admin email format: %s", a.config.Email)
	}

	if a.config.Username == "" {
		return errors.New("admin username cannot be empty")
	}

	if err := a.validatePassword(a.config.Password); err != nil {
		return fmt.Errorf("admin password validation failed: %w", err)
	}

	return nil
}

// validatePassword ensures the password meets security requirements
func (a *AdminService) validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}

	if len(password) > 128 {
		return errors.New("password must be less than 128 characters long")
	}

	// Check for at least one uppercase, one lowercase, one digit, and one special char
	hasUpper := regexp.MustCompile(`[A-Z]`).MatchString(password)
	hasLower := regexp.MustCompile(`[a-z]`).MatchString(password)
	hasDigit := regexp.MustCompile(`[0-9]`).MatchString(password)
	hasSpecial := regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\?]`).MatchString(password)

	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasDigit {
		return errors.New("password must contain at least one digit")
	}
	if !hasSpecial {
		return errors.New("password must contain at least one special character")
	}

	return nil
}

// CreateDefaultAdminUser creates the default admin user if enabled
func (a *AdminService) CreateDefaultAdminUser() error {
	if !a.config.Enabled {
		log.Println("⏭️ Default admin user creation is disabled")
		return nil
	}

	log.Printf("🔧 Starting default admin user creation process...")
	log.Printf("   - Email: %s", a.config.Email)
	log.Printf("   - Username: %s", a.config.Username)

	// Validate configuration
	if err := a.ValidateAdminConfig(); err != nil {
		log.Printf("❌ Admin configuration validation failed: %v", err)
		return fmt.Errorf("admin configuration invalid: %w", err)
	}

	// Check if admin user already exists
	exists, err := a.adminUserExists()
	if err != nil {
		log.Printf("❌ Failed to check if admin user exists: %v", err)
		return fmt.Errorf("failed to check admin user existence: %w", err)
	}

	if exists {
		log.Printf("ℹ️ Admin user already exists with email: %s", a.config.Email)
		return nil
	}

	// Create the admin user
	if err := a.createAdminUserInDatabase(); err != nil {
		log.Printf("❌ Failed to create admin user: %v", err)
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	log.Printf("✅ Successfully created default admin user: %s", a.config.Email)
	log.Printf("🔐 Admin can now login with the configured credentials")

	return nil
}

// adminUserExists checks if an admin user already exists with the configured email
func (a *AdminService) adminUserExists() (bool, error) {
	ctx := context.Background()

	var existingAdminID uuid.UUID
	err := a.db.QueryRow(ctx,
		`SELECT id FROM users WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL`,
		a.config.Email,
	).Scan(&existingAdminID)
	if err == nil {
		log.Printf("✅ Default admin user already exists (ID: %s)", existingAdminID)
		return true, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}

	return false, fmt.Errorf("database query failed: %w", err)
}

// createAdminUserInDatabase creates the admin user in the database
func (a *AdminService) createAdminUserInDatabase() error {
	ctx := context.Background()

	var totalUserCount int
	err := a.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&totalUserCount)
	if err != nil {
		return fmt.Errorf("failed to check existing users: %w", err)
	}

	if totalUserCount == 0 {
		log.Println("🔐 No users found - creating default admin user...")
	}

	log.Println("⚠️  WARNING: Default admin credentials are insecure. Please change them immediately after first login!")

	// Generate salt for password hashing
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	passwordHash := crypto.HashPassword(a.config.Password, salt)

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO users (
			username, email, password_hash,
			first_name, role, is_superuser,
			verified, is_onboarded, is_active, failed_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.config.Username, strings.ToLower(a.config.Email), passwordHash,
		"Administrator", "admin", true, true, true, true, 0)

	if err != nil {
		return fmt.Errorf("failed to create default admin user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit admin user creation: %w", err)
	}

	return nil
}

// Helper functions

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func isValidEmail(email string) bool {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailRegex.MatchString(email)
}
