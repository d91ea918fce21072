package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/crypto"
	"cos-backend/database"
	"cos-backend/utils"
)

// UsersHandler handles profile and accomplishment requests
type UsersHandler struct {
	db     database.Database
	redis  *redis.Client
	crypto *crypto.CryptoService
	config *config.Config
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(db database.Database, redis *redis.Client, cryptoService *crypto.CryptoService, cfg *config.Config) *UsersHandler {
	return &UsersHandler{
		db:     db,
		redis:  redis,
		crypto: cryptoService,
		config: cfg,
	}
}

// UpdateProfileRequest carries a partial profile update. Nil fields are
// left untouched.
type UpdateProfileRequest struct {
	FirstName             *string          `json:"first_name"`
	LastName              *string          `json:"last_name"`
	Phone                 *string          `json:"phone"`
	Bio                   *string          `json:"bio"`
	Interests             *string          `json:"interests"`
	ProfilePicture        *string          `json:"profile_picture"`
	Institution           *string          `json:"institution"`
	GraduationYear        *int             `json:"graduation_year"`
	Degree                *string          `json:"degree"`
	Skills                *json.RawMessage `json:"skills"`
	ExperienceLevel       *string          `json:"experience_level"`
	GithubURL             *string          `json:"github_url"`
	LinkedinURL           *string          `json:"linkedin_url"`
	PortfolioURL          *string          `json:"portfolio_url"`
	ResumeURL             *string          `json:"resume_url"`
	DietaryPreferences    *string          `json:"dietary_preferences"`
	TshirtSize            *string          `json:"tshirt_size"`
	EmergencyContactName  *string          `json:"emergency_contact_name"`
	EmergencyContactPhone *string          `json:"emergency_contact_phone"`
	AllowProfileAutofill  *bool            `json:"allow_profile_autofill"`
	Intent                *string          `json:"intent"`
	Availability          *json.RawMessage `json:"availability"`
	Domains               *json.RawMessage `json:"domains"`
}

// CreateAccomplishmentRequest adds an entry to the user's proof-of-work ledger
type CreateAccomplishmentRequest struct {
	CommunityID *uuid.UUID      `json:"community_id"`
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	DateEarned  string          `json:"date_earned"`
	Metadata    json.RawMessage `json:"metadata"`
}

var accomplishmentCategories = map[string]bool{
	"event": true, "project": true, "role": true, "volunteer": true, "other": true,
}

var experienceLevels = map[string]bool{
	"beginner": true, "intermediate": true, "advanced": true, "expert": true,
}

// GetProfile godoc
// @Summary Get own profile
// @Description Full profile of the authenticated user, including onboarding fields
// @Tags Users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Profile"
// @Router /users/me [get]
func (h *UsersHandler) GetProfile(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	profile, err := h.loadProfile(ctx, userID, true)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	return c.JSON(profile)
}

// UpdateProfile godoc
// @Summary Update own profile
// @Description Partial update; only fields present in the body are written
// @Tags Users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body UpdateProfileRequest true "Profile fields"
// @Success 200 {object} map[string]interface{} "Updated profile"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Router /users/me [patch]
func (h *UsersHandler) UpdateProfile(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	if req.ExperienceLevel != nil && *req.ExperienceLevel != "" && !experienceLevels[*req.ExperienceLevel] {
		return c.Status(400).JSON(fiber.Map{"error": "experience_level must be beginner, intermediate, advanced or expert"})
	}
	if req.GraduationYear != nil && (*req.GraduationYear < 1950 || *req.GraduationYear > 2100) {
		return c.Status(400).JSON(fiber.Map{"error": "graduation_year out of range"})
	}

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.FirstName != nil {
		add("first_name", *req.FirstName)
	}
	if req.LastName != nil {
		add("last_name", *req.LastName)
	}
	if req.Phone != nil {
		add("phone", *req.Phone)
	}
	if req.Bio != nil {
		add("bio", *req.Bio)
	}
	if req.Interests != nil {
		add("interests", *req.Interests)
	}
	if req.ProfilePicture != nil {
		add("profile_picture", *req.ProfilePicture)
	}
	if req.Institution != nil {
		add("institution", *req.Institution)
	}
	if req.GraduationYear != nil {
		add("graduation_year", *req.GraduationYear)
	}
	if req.Degree != nil {
		add("degree", *req.Degree)
	}
	if req.Skills != nil {
		add("skills", []byte(*req.Skills))
	}
	if req.ExperienceLevel != nil {
		if *req.ExperienceLevel == "" {
			add("experience_level", nil)
		} else {
			add("experience_level", *req.ExperienceLevel)
		}
	}
	if req.GithubURL != nil {
		add("github_url", *req.GithubURL)
	}
	if req.LinkedinURL != nil {
		add("linkedin_url", *req.LinkedinURL)
	}
	if req.PortfolioURL != nil {
		add("portfolio_url", *req.PortfolioURL)
	}
	if req.ResumeURL != nil {
		add("resume_url", *req.ResumeURL)
	}
	if req.DietaryPreferences != nil {
		add("dietary_preferences", *req.DietaryPreferences)
	}
	if req.TshirtSize != nil {
		add("tshirt_size", *req.TshirtSize)
	}
	if req.EmergencyContactName != nil {
		add("emergency_contact_name", *req.EmergencyContactName)
	}
	if req.EmergencyContactPhone != nil {
		add("emergency_contact_phone", *req.EmergencyContactPhone)
	}
	if req.AllowProfileAutofill != nil {
		add("allow_profile_autofill", *req.AllowProfileAutofill)
	}
	if req.Intent != nil {
		add("intent", *req.Intent)
	}
	if req.Availability != nil {
		add("availability", []byte(*req.Availability))
	}
	if req.Domains != nil {
		add("domains", []byte(*req.Domains))
	}

	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	ctx := context.Background()
	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $%d AND deleted_at IS NULL`,
		strings.Join(setParts, ", "), len(args))

	tag, err := h.db.Exec(ctx, query, args...)
	if err != nil {
		utils.LogError("profile update", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update profile"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}

	profile, err := h.loadProfile(ctx, userID, true)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load profile"})
	}
	return c.JSON(profile)
}

// CompleteOnboarding marks the account onboarded. Idempotent.
func (h *UsersHandler) CompleteOnboarding(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	tag, err := h.db.Exec(ctx, `
        UPDATE users SET is_onboarded = true, updated_at = NOW()
        WHERE id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to complete onboarding"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	return c.JSON(fiber.Map{"is_onboarded": true})
}

// GetPublicProfile godoc
// @Summary Public profile of any user
// @Description Sensitive fields (contact, emergency, dietary) are omitted
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} map[string]interface{} "Public profile"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Router /users/{id} [get]
func (h *UsersHandler) GetPublicProfile(c *fiber.Ctx) error {
	targetID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	ctx := context.Background()
	profile, err := h.loadProfile(ctx, targetID, false)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	return c.JSON(profile)
}

func (h *UsersHandler) loadProfile(ctx context.Context, userID uuid.UUID, includePrivate bool) (fiber.Map, error) {
	var (
		username, firstName, lastName, role                 string
		email, phone, bio, interests, profilePicture        *string
		institution, degree, experienceLevel                *string
		githubURL, linkedinURL, portfolioURL, resumeURL     *string
		dietaryPreferences, tshirtSize                      *string
		emergencyContactName, emergencyContactPhone, intent *string
		graduationYear                                      *int
		skills, availability, domains                       []byte
		verified, isOnboarded, allowProfileAutofill         bool
		points                                              int
		createdAt                                           time.Time
	)

	err := h.db.QueryRow(ctx, `
        SELECT username, email, first_name, last_name, role, phone, bio, interests,
               profile_picture, verified, is_onboarded, points, institution,
               graduation_year, degree, skills, experience_level, github_url,
               linkedin_url, portfolio_url, resume_url, dietary_preferences,
               tshirt_size, emergency_contact_name, emergency_contact_phone,
               allow_profile_autofill, intent, availability, domains, created_at
        FROM users
        WHERE id = $1 AND deleted_at IS NULL AND is_active = true`,
		userID,
	).Scan(&username, &email, &firstName, &lastName, &role, &phone, &bio, &interests,
		&profilePicture, &verified, &isOnboarded, &points, &institution,
		&graduationYear, &degree, &skills, &experienceLevel, &githubURL,
		&linkedinURL, &portfolioURL, &resumeURL, &dietaryPreferences,
		&tshirtSize, &emergencyContactName, &emergencyContactPhone,
		&allowProfileAutofill, &intent, &availability, &domains, &createdAt)
	if err != nil {
		return nil, err
	}

	profile := fiber.Map{
		"id":               userID,
		"username":         username,
		"first_name":       firstName,
		"last_name":        lastName,
		"bio":              bio,
		"interests":        interests,
		"profile_picture":  profilePicture,
		"verified":         verified,
		"points":           points,
		"institution":      institution,
		"graduation_year":  graduationYear,
		"degree":           degree,
		"skills":           json.RawMessage(orEmptyJSON(skills, "[]")),
		"experience_level": experienceLevel,
		"github_url":       githubURL,
		"linkedin_url":     linkedinURL,
		"portfolio_url":    portfolioURL,
		"domains":          json.RawMessage(orEmptyJSON(domains, "[]")),
		"created_at":       createdAt,
	}

	if includePrivate {
		profile["email"] = email
		profile["role"] = role
		profile["phone"] = phone
		profile["is_onboarded"] = isOnboarded
		profile["resume_url"] = resumeURL
		profile["dietary_preferences"] = dietaryPreferences
		profile["tshirt_size"] = tshirtSize
		profile["emergency_contact_name"] = emergencyContactName
		profile["emergency_contact_phone"] = emergencyContactPhone
		profile["allow_profile_autofill"] = allowProfileAutofill
		profile["intent"] = intent
		profile["availability"] = json.RawMessage(orEmptyJSON(availability, "[]"))
	}

	return profile, nil
}

func orEmptyJSON(raw []byte, fallback string) []byte {
	if len(raw) == 0 {
		return []byte(fallback)
	}
	return raw
}

// ListAccomplishments returns the ledger for a user. Other users only see
// verified entries.
func (h *UsersHandler) ListAccomplishments(c *fiber.Ctx) error {
	viewerID := c.Locals("user_id").(uuid.UUID)

	targetID := viewerID
	if idParam := c.Params("id"); idParam != "" {
		parsed, err := uuid.Parse(idParam)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
		}
		targetID = parsed
	}

	query := `
        SELECT id, community_id, title, description, category, date_earned,
               is_verified, metadata, created_at
        FROM user_accomplishments
        WHERE user_id = $1`
	if targetID != viewerID {
		query += ` AND is_verified = true`
	}
	query += ` ORDER BY date_earned DESC, created_at DESC`

	ctx := context.Background()
	rows, err := h.db.Query(ctx, query, targetID)
	if err != nil {
		utils.LogError("accomplishments list", err, "user_id", targetID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load accomplishments"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var communityID *uuid.UUID
		var title, description, category string
		var dateEarned time.Time
		var isVerified bool
		var metadata []byte
		var createdAt time.Time

		if err := rows.Scan(&id, &communityID, &title, &description, &category,
			&dateEarned, &isVerified, &metadata, &createdAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":           id,
			"community_id": communityID,
			"title":        title,
			"description":  description,
			"category":     category,
			"date_earned":  dateEarned.Format("2006-01-02"),
			"is_verified":  isVerified,
			"metadata":     json.RawMessage(orEmptyJSON(metadata, "{}")),
			"created_at":   createdAt,
		})
	}

	return c.JSON(fiber.Map{
		"count":   len(results),
		"results": results,
	})
}

// CreateAccomplishment adds an unverified entry to the caller's ledger
func (h *UsersHandler) CreateAccomplishment(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req CreateAccomplishmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	if req.Category == "" {
		req.Category = "other"
	}
	if !accomplishmentCategories[req.Category] {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid category"})
	}

	dateEarned := time.Now()
	if req.DateEarned != "" {
		parsed, err := time.Parse("2006-01-02", req.DateEarned)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "date_earned must be YYYY-MM-DD"})
		}
		dateEarned = parsed
	}

	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	ctx := context.Background()
	var id uuid.UUID
	var createdAt time.Time
	err := h.db.QueryRow(ctx, `
        INSERT INTO user_accomplishments (user_id, community_id, title, description, category, date_earned, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at`,
		userID, req.CommunityID, req.Title, req.Description, req.Category, dateEarned, []byte(metadata),
	).Scan(&id, &createdAt)
	if err != nil {
		utils.LogError("accomplishment create", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create accomplishment"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":           id,
		"community_id": req.CommunityID,
		"title":        req.Title,
		"description":  req.Description,
		"category":     req.Category,
		"date_earned":  dateEarned.Format("2006-01-02"),
		"is_verified":  false,
		"metadata":     metadata,
		"created_at":   createdAt,
	})
}

// DeleteAccomplishment removes an entry the caller owns
func (h *UsersHandler) DeleteAccomplishment(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	accomplishmentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid accomplishment ID"})
	}

	ctx := context.Background()
	tag, err := h.db.Exec(ctx, `
        DELETE FROM user_accomplishments WHERE id = $1 AND user_id = $2`,
		accomplishmentID, userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete accomplishment"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Accomplishment not found"})
	}
	return c.JSON(fiber.Map{"message": "Accomplishment deleted"})
}
