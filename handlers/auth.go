package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"

	"cos-backend/config"
	"cos-backend/crypto"
	"cos-backend/database"
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	db     database.Database
	redis  *redis.Client
	crypto *crypto.CryptoService
	config *config.Config
	mfa    *services.MFAService
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(db database.Database, redis *redis.Client, cryptoService *crypto.CryptoService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		db:     db,
		redis:  redis,
		crypto: cryptoService,
		config: cfg,
		mfa:    services.NewMFAService(),
	}
}

// SessionData structure for Redis storage
type SessionData struct {
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoginRequest represents a user login request. Either email or username
// identifies the account.
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" validate:"required"`
	MFACode  string `json:"mfa_code,omitempty"`
}

// RefreshRequest carries the refresh token and the session issued at login
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	Session      string `json:"session" validate:"required"`
}

// LogoutRequest identifies the session to terminate
type LogoutRequest struct {
	Session string `json:"session"`
}

// ChangePasswordRequest rotates the account password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,32}$`)

// Store session in Redis with encrypted metadata
func (h *AuthHandler) storeSessionInRedis(ctx context.Context, tokenHash []byte, userID uuid.UUID, ipAddr, userAgent string, expiresAt time.Time) error {
	sessionData := SessionData{
		UserID:    userID.String(),
		IPAddress: ipAddr,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	data, err := json.Marshal(sessionData)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	encryptedData, err := h.crypto.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt session data: %w", err)
	}

	sessionKey := fmt.Sprintf("session:%x", tokenHash)
	duration := time.Until(expiresAt)

	if err := h.redis.Set(ctx, sessionKey, encryptedData, duration).Err(); err != nil {
		return err
	}

	// Track sessions per user so a password change can revoke them all
	userSessionsKey := fmt.Sprintf("user_sessions:%s", userID)
	if err := h.redis.SAdd(ctx, userSessionsKey, fmt.Sprintf("%x", tokenHash)).Err(); err != nil {
		return err
	}
	return h.redis.Expire(ctx, userSessionsKey, duration).Err()
}

// Validate session from Redis
func (h *AuthHandler) validateSessionInRedis(ctx context.Context, tokenHash []byte) (*SessionData, error) {
	sessionKey := fmt.Sprintf("session:%x", tokenHash)

	encryptedData, err := h.redis.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("session not found")
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	data, err := h.crypto.Decrypt(encryptedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session data: %w", err)
	}

	var sessionData SessionData
	if err := json.Unmarshal(data, &sessionData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	if time.Now().After(sessionData.ExpiresAt) {
		h.redis.Del(ctx, sessionKey)
		return nil, fmt.Errorf("session expired")
	}

	return &sessionData, nil
}

// Delete session from Redis
func (h *AuthHandler) deleteSessionFromRedis(ctx context.Context, tokenHash []byte, userID string) error {
	sessionKey := fmt.Sprintf("session:%x", tokenHash)
	if userID != "" {
		h.redis.SRem(ctx, fmt.Sprintf("user_sessions:%s", userID), fmt.Sprintf("%x", tokenHash))
	}
	return h.redis.Del(ctx, sessionKey).Err()
}

// revokeAllSessions deletes every tracked session for the user
func (h *AuthHandler) revokeAllSessions(ctx context.Context, userID uuid.UUID) {
	userSessionsKey := fmt.Sprintf("user_sessions:%s", userID)
	hashes, err := h.redis.SMembers(ctx, userSessionsKey).Result()
	if err != nil {
		return
	}
	for _, hash := range hashes {
		h.redis.Del(ctx, "session:"+hash)
	}
	h.redis.Del(ctx, userSessionsKey)
}

func sessionTokenHash(sessionToken []byte) []byte {
	return argon2.IDKey(sessionToken, []byte("session"), 1, 64*1024, 4, 32)
}

// Register godoc
// @Summary Register a new user
// @Description Register a new account with username, email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} map[string]interface{} "User registered successfully"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Email or username already exists"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	// Check if registration is enabled (runtime toggle)
	if config.RegEnabled.Load() != 1 {
		return c.Status(403).JSON(fiber.Map{"error": "Registration is currently disabled"})
	}

	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)

	if !emailRe.MatchString(req.Email) {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid email address"})
	}
	if !usernameRe.MatchString(req.Username) {
		return c.Status(400).JSON(fiber.Map{"error": "Username must be 3-32 characters (letters, digits, '.', '-', '_')"})
	}
	if len(req.Password) < 8 {
		return c.Status(400).JSON(fiber.Map{"error": "Password must be at least 8 characters long"})
	}

	// Generate salt and hash password
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate credentials"})
	}
	passwordHash := crypto.HashPassword(req.Password, salt)

	ctx := context.Background()

	var userID uuid.UUID
	err := h.db.QueryRow(ctx, `
        INSERT INTO users (username, email, password_hash, first_name, last_name)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`,
		req.Username, req.Email, passwordHash, req.FirstName, req.LastName,
	).Scan(&userID)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "Email or username already registered"})
		}
		utils.LogError("user registration", err, "username", req.Username)
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	accessToken, err := h.generateToken(userID, "access", h.config.AccessTokenTTL)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}
	refreshToken, err := h.generateToken(userID, "refresh", h.config.RefreshTokenTTL)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}

	sessionTokenStr, err := h.createSession(ctx, userID, c)
	if err != nil {
		utils.LogError("session creation after register", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	utils.LogInfo("👤 New user registered", "user_id", userID, "username", req.Username)

	return c.Status(201).JSON(fiber.Map{
		"message":       "Registration successful",
		"token":         accessToken,
		"refresh_token": refreshToken,
		"session":       sessionTokenStr,
		"user_id":       userID,
	})
}

// ipFailKey tracks failed logins per source address
func ipFailKey(ip string) string {
	return "login_fail_ip:" + ip
}

// Login godoc
// @Summary User login
// @Description Authenticate with email or username plus password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} map[string]interface{} "Login successful"
// @Failure 401 {object} map[string]interface{} "Invalid credentials"
// @Failure 423 {object} map[string]interface{} "Account locked"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}
	if identifier == "" || req.Password == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Email or username and password are required"})
	}

	ctx := context.Background()
	clientIP := utils.ClientIP(c)

	// Per-IP throttle guards the lookup itself against enumeration
	if fails, err := h.redis.Get(ctx, ipFailKey(clientIP)).Int(); err == nil && fails >= h.config.MaxIPLoginAttempts && h.config.RateLimitMode != "disabled" {
		ttl, _ := h.redis.TTL(ctx, ipFailKey(clientIP)).Result()
		return c.Status(423).JSON(fiber.Map{
			"error":               "Too many failed login attempts from this address. Please try again later.",
			"retry_after_seconds": int(ttl.Seconds()),
		})
	}

	var userID uuid.UUID
	var passwordHash, username, email, role string
	var failedAttempts int
	var lockedUntil *time.Time
	var mfaEnabled, isSuperuser bool
	var mfaSecret []byte
	var backupCodes, backupCodesUsed [][]byte

	err := h.db.QueryRow(ctx, `
        SELECT id, username, email, password_hash, role, is_superuser,
               failed_attempts, locked_until, mfa_enabled, mfa_secret_encrypted,
               mfa_backup_codes, mfa_backup_codes_used
        FROM users
        WHERE (LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1))
          AND is_active = true AND deleted_at IS NULL`,
		identifier,
	).Scan(&userID, &username, &email, &passwordHash, &role, &isSuperuser,
		&failedAttempts, &lockedUntil, &mfaEnabled, &mfaSecret,
		&backupCodes, &backupCodesUsed)

	if err != nil {
		h.recordIPFailure(ctx, clientIP)
		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	// Check if account is locked with detailed time remaining
	if lockedUntil != nil && lockedUntil.After(time.Now()) {
		timeRemaining := time.Until(*lockedUntil)
		return c.Status(423).JSON(fiber.Map{
			"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", formatLockoutWait(timeRemaining)),
			"locked_until":        lockedUntil.Format(time.RFC3339),
			"retry_after_seconds": int(timeRemaining.Seconds()),
		})
	}

	// Verify password
	if !crypto.VerifyPassword(req.Password, passwordHash) {
		failedAttempts++
		h.recordIPFailure(ctx, clientIP)

		var lockDuration time.Duration
		if failedAttempts >= 7 {
			lockDuration = h.config.LockoutDuration
		} else if failedAttempts >= 6 {
			lockDuration = 5 * time.Minute
		} else if failedAttempts >= h.config.MaxLoginAttempts {
			lockDuration = 1 * time.Minute
		}

		if lockDuration > 0 {
			lockUntil := time.Now().Add(lockDuration)
			h.db.Exec(ctx, `
                UPDATE users SET failed_attempts = $1, locked_until = $2
                WHERE id = $3`,
				failedAttempts, lockUntil, userID,
			)
			utils.LogInfo("🔒 Account locked after failed logins", "user_id", userID, "attempts", failedAttempts)

			timeRemaining := time.Until(lockUntil)
			return c.Status(423).JSON(fiber.Map{
				"error":               fmt.Sprintf("Account locked due to too many failed login attempts. Please try again in %s.", formatLockoutWait(timeRemaining)),
				"locked_until":        lockUntil.Format(time.RFC3339),
				"retry_after_seconds": int(timeRemaining.Seconds()),
			})
		}

		h.db.Exec(ctx, `UPDATE users SET failed_attempts = $1 WHERE id = $2`, failedAttempts, userID)

		return c.Status(401).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	// Verify MFA if enabled; TOTP first, backup code as fallback
	if mfaEnabled {
		code := strings.TrimSpace(req.MFACode)
		if code == "" {
			return c.Status(200).JSON(fiber.Map{"mfa_required": true})
		}
		ok, err := h.verifyMFACode(ctx, userID, code, mfaSecret, backupCodes, backupCodesUsed)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "MFA validation failed"})
		}
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
		}
	}

	// Reset failed attempts and update last login
	h.db.Exec(ctx, `
        UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login = NOW()
        WHERE id = $1`,
		userID,
	)
	h.redis.Del(ctx, ipFailKey(clientIP))

	sessionTokenStr, err := h.createSession(ctx, userID, c)
	if err != nil {
		utils.LogError("session creation", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Session creation failed"})
	}

	accessToken, err := h.generateToken(userID, "access", h.config.AccessTokenTTL)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}
	refreshToken, err := h.generateToken(userID, "refresh", h.config.RefreshTokenTTL)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}

	return c.JSON(fiber.Map{
		"token":         accessToken,
		"refresh_token": refreshToken,
		"session":       sessionTokenStr,
		"user": fiber.Map{
			"id":           userID,
			"username":     username,
			"email":        email,
			"role":         role,
			"is_superuser": isSuperuser,
		},
	})
}

func (h *AuthHandler) recordIPFailure(ctx context.Context, ip string) {
	if h.config.RateLimitMode == "disabled" {
		return
	}
	key := ipFailKey(ip)
	count, err := h.redis.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	if count == 1 {
		h.redis.Expire(ctx, key, h.config.IPLockoutDuration)
	}
}

func formatLockoutWait(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes > 0 {
		return fmt.Sprintf("%d minutes and %d seconds", minutes, seconds)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// createSession issues a random session token, stores its hash in Redis and
// returns the hex token handed to the client
func (h *AuthHandler) createSession(ctx context.Context, userID uuid.UUID, c *fiber.Ctx) (string, error) {
	sessionToken := make([]byte, 32)
	if _, err := rand.Read(sessionToken); err != nil {
		return "", err
	}
	tokenHash := sessionTokenHash(sessionToken)
	expiresAt := time.Now().Add(h.config.SessionDuration)
	if err := h.storeSessionInRedis(ctx, tokenHash, userID, utils.ClientIP(c), c.Get("User-Agent"), expiresAt); err != nil {
		return "", err
	}
	return hex.EncodeToString(sessionToken), nil
}

func (h *AuthHandler) verifyMFACode(ctx context.Context, userID uuid.UUID, code string, mfaSecret []byte, backupCodes, backupCodesUsed [][]byte) (bool, error) {
	if len(mfaSecret) > 0 {
		secretBytes, err := h.crypto.Decrypt(mfaSecret)
		if err != nil {
			utils.LogError("mfa secret decrypt", err, "user_id", userID)
			return false, err
		}
		secret := strings.TrimSpace(string(secretBytes))
		if secret != "" && totp.Validate(code, secret) {
			return true, nil
		}
	}

	// Fall back to single-use backup codes
	normalized := h.mfa.NormalizeBackupCode(code)
	if len(normalized) != 16 {
		return false, nil
	}
	ok, idx := h.mfa.VerifyBackupCode(normalized, backupCodes)
	if !ok {
		return false, nil
	}
	codeHash := backupCodes[idx]
	for _, used := range backupCodesUsed {
		if string(used) == string(codeHash) {
			return false, nil
		}
	}
	_, err := h.db.Exec(ctx, `
        UPDATE users SET mfa_backup_codes_used = array_append(mfa_backup_codes_used, $1)
        WHERE id = $2`,
		codeHash, userID,
	)
	if err != nil {
		utils.LogError("backup code burn", err, "user_id", userID)
	}
	utils.LogInfo("🔑 Backup code used for login", "user_id", userID)
	return true, nil
}

// Refresh godoc
// @Summary Refresh the access token
// @Description Exchange a valid refresh token plus live session for a new access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh credentials"
// @Success 200 {object} map[string]interface{} "New access token"
// @Failure 401 {object} map[string]interface{} "Invalid refresh token or session"
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.RefreshToken == "" || req.Session == "" {
		return c.Status(400).JSON(fiber.Map{"error": "refresh_token and session are required"})
	}

	parsed, err := jwt.Parse(req.RefreshToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.config.JWTSecret, nil
	})
	if err != nil || !parsed.Valid {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid refresh token"})
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || claims["token_type"] != "refresh" {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid refresh token"})
	}
	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid refresh token"})
	}

	sessionToken, err := hex.DecodeString(req.Session)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid session"})
	}

	ctx := context.Background()
	sessionData, err := h.validateSessionInRedis(ctx, sessionTokenHash(sessionToken))
	if err != nil || sessionData.UserID != userID.String() {
		return c.Status(401).JSON(fiber.Map{"error": "Session expired"})
	}

	accessToken, err := h.generateToken(userID, "access", h.config.AccessTokenTTL)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Token generation failed"})
	}

	return c.JSON(fiber.Map{"token": accessToken})
}

// Logout terminates the session passed in the request body
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()
	if req.Session != "" {
		if sessionToken, err := hex.DecodeString(req.Session); err == nil {
			h.deleteSessionFromRedis(ctx, sessionTokenHash(sessionToken), userID.String())
		}
	}

	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Me returns the authenticated user's account summary
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	var username, email, firstName, lastName, role string
	var isSuperuser, isOnboarded, mfaEnabled bool
	var points int
	var lastLogin *time.Time
	var createdAt time.Time

	err := h.db.QueryRow(ctx, `
        SELECT username, email, first_name, last_name, role, is_superuser,
               is_onboarded, mfa_enabled, points, last_login, created_at
        FROM users WHERE id = $1 AND deleted_at IS NULL`,
		userID,
	).Scan(&username, &email, &firstName, &lastName, &role, &isSuperuser,
		&isOnboarded, &mfaEnabled, &points, &lastLogin, &createdAt)

	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}

	return c.JSON(fiber.Map{
		"id":           userID,
		"username":     username,
		"email":        email,
		"first_name":   firstName,
		"last_name":    lastName,
		"role":         role,
		"is_superuser": isSuperuser,
		"is_onboarded": isOnboarded,
		"mfa_enabled":  mfaEnabled,
		"points":       points,
		"last_login":   lastLogin,
		"created_at":   createdAt,
	})
}

// ChangePassword rotates the password and revokes all sessions
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if len(req.NewPassword) < 8 {
		return c.Status(400).JSON(fiber.Map{"error": "Password must be at least 8 characters long"})
	}

	ctx := context.Background()

	var passwordHash string
	if err := h.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&passwordHash); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	if !crypto.VerifyPassword(req.CurrentPassword, passwordHash) {
		return c.Status(401).JSON(fiber.Map{"error": "Current password is incorrect"})
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate credentials"})
	}
	newHash := crypto.HashPassword(req.NewPassword, salt)

	if _, err := h.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, newHash, userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to change password"})
	}

	// Existing sessions stop working and outstanding access tokens are
	// rejected from this point by the revocation cutoff
	h.revokeAllSessions(ctx, userID)
	h.redis.Set(ctx, middleware.RevocationKey(userID.String()), time.Now().Unix(), h.config.AccessTokenTTL)
	utils.LogInfo("🔐 Password changed", "user_id", userID)

	return c.JSON(fiber.Map{"message": "Password changed successfully. Please log in again."})
}

func (h *AuthHandler) GetMFAStatus(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var enabled, hasSecret bool
	if err := h.db.QueryRow(c.Context(), `SELECT mfa_enabled, mfa_secret_encrypted IS NOT NULL FROM users WHERE id = $1`, uid).
		Scan(&enabled, &hasSecret); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load MFA status"})
	}
	return c.JSON(fiber.Map{
		"enabled":    enabled,
		"has_secret": hasSecret,
	})
}

// BeginMFASetup provisions a TOTP secret plus one-time backup codes.
// The secret stays disabled until EnableMFA verifies a code.
func (h *AuthHandler) BeginMFASetup(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	ctx := c.Context()

	var email string
	if err := h.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, uid).Scan(&email); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Unable to start MFA setup"})
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "COS Events",
		AccountName: email,
		Period:      30,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate MFA secret"})
	}
	secret := key.Secret()
	encryptedSecret, err := h.crypto.Encrypt([]byte(secret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to secure MFA secret"})
	}

	backupCodes, err := h.mfa.GenerateBackupCodes(10)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate backup codes"})
	}
	hashedCodes := make([][]byte, len(backupCodes))
	for i, code := range backupCodes {
		hashedCodes[i] = h.mfa.HashBackupCode(code)
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE users
        SET mfa_secret_encrypted = $1, mfa_enabled = FALSE,
            mfa_backup_codes = $2, mfa_backup_codes_used = '{}'
        WHERE id = $3`,
		encryptedSecret, hashedCodes, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to persist MFA secret"})
	}

	return c.JSON(fiber.Map{
		"secret":       secret,
		"otpauth_url":  key.URL(),
		"issuer":       key.Issuer(),
		"account":      key.AccountName(),
		"backup_codes": backupCodes,
	})
}

func (h *AuthHandler) EnableMFA(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return c.Status(400).JSON(fiber.Map{"error": "MFA code required"})
	}
	ctx := c.Context()
	var secretEnc []byte
	if err := h.db.QueryRow(ctx, `SELECT mfa_secret_encrypted FROM users WHERE id = $1`, uid).Scan(&secretEnc); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "MFA secret not initialized"})
	}
	if len(secretEnc) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "MFA secret not initialized"})
	}
	secretBytes, err := h.crypto.Decrypt(secretEnc)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to access MFA secret"})
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return c.Status(500).JSON(fiber.Map{"error": "MFA secret invalid"})
	}
	if !totp.Validate(code, secret) {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
	}
	if _, err := h.db.Exec(ctx, `UPDATE users SET mfa_enabled = TRUE WHERE id = $1`, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to enable MFA"})
	}
	utils.LogInfo("🛡️ MFA enabled", "user_id", uid)
	return c.JSON(fiber.Map{"enabled": true})
}

func (h *AuthHandler) DisableMFA(c *fiber.Ctx) error {
	v := c.Locals("user_id")
	uid, ok := v.(uuid.UUID)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "Unauthorized"})
	}
	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return c.Status(400).JSON(fiber.Map{"error": "MFA code required"})
	}
	ctx := c.Context()
	var secretEnc []byte
	var backupCodes, backupCodesUsed [][]byte
	if err := h.db.QueryRow(ctx, `
        SELECT mfa_secret_encrypted, mfa_backup_codes, mfa_backup_codes_used
        FROM users WHERE id = $1`, uid).Scan(&secretEnc, &backupCodes, &backupCodesUsed); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "MFA not enabled"})
	}
	if len(secretEnc) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "MFA not enabled"})
	}
	ok2, err := h.verifyMFACode(ctx, uid, code, secretEnc, backupCodes, backupCodesUsed)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to access MFA secret"})
	}
	if !ok2 {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid MFA code"})
	}
	if _, err := h.db.Exec(ctx, `
        UPDATE users
        SET mfa_enabled = FALSE, mfa_secret_encrypted = NULL,
            mfa_backup_codes = NULL, mfa_backup_codes_used = NULL
        WHERE id = $1`, uid); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to disable MFA"})
	}
	utils.LogInfo("🛡️ MFA disabled", "user_id", uid)
	return c.JSON(fiber.Map{"enabled": false})
}

func (h *AuthHandler) generateToken(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":    userID.String(),
		"token_type": tokenType,
		"exp":        time.Now().Add(ttl).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.config.JWTSecret)
}
