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
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

// CommunitiesHandler handles community lifecycle, membership, invites,
// applications and internal todos
type CommunitiesHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewCommunitiesHandler creates a new communities handler
func NewCommunitiesHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *CommunitiesHandler {
	return &CommunitiesHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// CreateCommunityRequest represents a community creation request
type CreateCommunityRequest struct {
	Name                string `json:"name" validate:"required,max=255"`
	Description         string `json:"description"`
	Logo                string `json:"logo"`
	PrimaryColor        string `json:"primary_color"`
	CertificateTemplate string `json:"certificate_template"`
	IsPrivate           bool   `json:"is_private"`
}

// UpdateCommunityRequest carries a partial community update
type UpdateCommunityRequest struct {
	Name                *string `json:"name"`
	Description         *string `json:"description"`
	Logo                *string `json:"logo"`
	PrimaryColor        *string `json:"primary_color"`
	CertificateTemplate *string `json:"certificate_template"`
	IsPrivate           *bool   `json:"is_private"`
}

// CreateInviteRequest represents an invite creation request
type CreateInviteRequest struct {
	Role           string `json:"role"`
	MaxUses        *int   `json:"max_uses"`
	ExpiresInHours *int   `json:"expires_in_hours"`
}

// ChangeRoleRequest updates a member's community role
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// TransferOwnershipRequest names the new owner
type TransferOwnershipRequest struct {
	NewOwnerID uuid.UUID `json:"new_owner_id" validate:"required"`
}

// ApplyRequest is a membership application for a private community
type ApplyRequest struct {
	Intent string          `json:"intent" validate:"required"`
	Skills json.RawMessage `json:"skills"`
}

// ReviewApplicationRequest approves or rejects an application
type ReviewApplicationRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

// TodoRequest creates or updates a community todo
type TodoRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	AssignedTo  *uuid.UUID `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

var assignableRoles = map[string]bool{
	middleware.RoleAdmin:       true,
	middleware.RoleOrganizer:   true,
	middleware.RoleMember:      true,
	middleware.RoleParticipant: true,
}

var todoStatuses = map[string]bool{"planned": true, "active": true, "completed": true, "archived": true}
var todoPriorities = map[string]bool{"low": true, "medium": true, "high": true}

// resolveCommunity accepts a UUID or a slug and returns the community ID
func (h *CommunitiesHandler) resolveCommunity(ctx context.Context, idOrSlug string) (uuid.UUID, error) {
	return resolveCommunityID(ctx, h.db, idOrSlug)
}

func resolveCommunityID(ctx context.Context, db database.Database, idOrSlug string) (uuid.UUID, error) {
	if id, err := uuid.Parse(idOrSlug); err == nil {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM communities WHERE id = $1 AND is_active = true)`, id).Scan(&exists); err != nil || !exists {
			return uuid.Nil, fmt.Errorf("community not found")
		}
		return id, nil
	}
	var id uuid.UUID
	err := db.QueryRow(ctx, `SELECT id FROM communities WHERE slug = $1 AND is_active = true`, idOrSlug).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("community not found")
	}
	return id, nil
}

// CreateCommunity godoc
// @Summary Create a community
// @Description Creates a community; the caller becomes its owner
// @Tags Communities
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateCommunityRequest true "Community data"
// @Success 201 {object} map[string]interface{} "Community created"
// @Failure 409 {object} map[string]interface{} "Name already taken"
// @Router /communities [post]
func (h *CommunitiesHandler) CreateCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req CreateCommunityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Name is required"})
	}

	ctx := context.Background()

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create community"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slug := utils.Slugify(req.Name)
	var communityID uuid.UUID
	// Slugs must stay unique; append a counter when the natural slug is taken
	for attempt := 0; ; attempt++ {
		candidate := slug
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", slug, attempt+1)
		}
		err = tx.QueryRow(ctx, `
            INSERT INTO communities (name, slug, description, logo, primary_color, certificate_template, is_private, created_by)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            RETURNING id`,
			req.Name, candidate, req.Description, req.Logo, req.PrimaryColor,
			req.CertificateTemplate, req.IsPrivate, userID,
		).Scan(&communityID)
		if err == nil {
			slug = candidate
			break
		}
		if strings.Contains(err.Error(), "communities_name_key") {
			return c.Status(409).JSON(fiber.Map{"error": "A community with this name already exists"})
		}
		if strings.Contains(err.Error(), "duplicate") && attempt < 20 {
			continue
		}
		utils.LogError("community create", err, "name", req.Name)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create community"})
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO community_memberships (community_id, user_id, role, is_default)
        VALUES ($1, $2, 'owner',
            NOT EXISTS(SELECT 1 FROM community_memberships WHERE user_id = $2 AND is_default = true AND is_active = true))`,
		communityID, userID)
	if err != nil {
		utils.LogError("owner membership create", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create community"})
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create community"})
	}

	utils.LogInfo("🏘️ Community created", "community_id", communityID, "slug", slug)

	return c.Status(201).JSON(fiber.Map{
		"id":         communityID,
		"name":       req.Name,
		"slug":       slug,
		"is_private": req.IsPrivate,
		"role":       middleware.RoleOwner,
	})
}

// ListCommunities returns public communities plus the caller's private ones
func (h *CommunitiesHandler) ListCommunities(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT c.id, c.name, c.slug, c.description, c.logo, c.primary_color,
               c.is_private, c.created_at,
               COALESCE(m.role, ''), COALESCE(m.is_default, false),
               (SELECT COUNT(*) FROM community_memberships cm WHERE cm.community_id = c.id AND cm.is_active = true)
        FROM communities c
        LEFT JOIN community_memberships m
               ON m.community_id = c.id AND m.user_id = $1 AND m.is_active = true
        WHERE c.is_active = true AND (c.is_private = false OR m.user_id IS NOT NULL)
        ORDER BY c.created_at DESC`,
		userID)
	if err != nil {
		utils.LogError("communities list", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load communities"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var name, slug, description, role string
		var logo, primaryColor *string
		var isPrivate, isDefault bool
		var createdAt time.Time
		var memberCount int

		if err := rows.Scan(&id, &name, &slug, &description, &logo, &primaryColor,
			&isPrivate, &createdAt, &role, &isDefault, &memberCount); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":            id,
			"name":          name,
			"slug":          slug,
			"description":   description,
			"logo":          logo,
			"primary_color": primaryColor,
			"is_private":    isPrivate,
			"created_at":    createdAt,
			"my_role":       role,
			"is_default":    isDefault,
			"member_count":  memberCount,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// GetCommunity returns one community by ID or slug
func (h *CommunitiesHandler) GetCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	var name, slug, description string
	var logo, primaryColor, certificateTemplate *string
	var isPrivate bool
	var createdBy *uuid.UUID
	var createdAt time.Time
	var memberCount, eventCount int

	err = h.db.QueryRow(ctx, `
        SELECT c.name, c.slug, c.description, c.logo, c.primary_color,
               c.certificate_template, c.is_private, c.created_by, c.created_at,
               (SELECT COUNT(*) FROM community_memberships m WHERE m.community_id = c.id AND m.is_active = true),
               (SELECT COUNT(*) FROM events e WHERE e.community_id = c.id AND e.status = 'approved')
        FROM communities c
        WHERE c.id = $1 AND c.is_active = true`,
		communityID,
	).Scan(&name, &slug, &description, &logo, &primaryColor,
		&certificateTemplate, &isPrivate, &createdBy, &createdAt,
		&memberCount, &eventCount)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	myRole := middleware.CommunityRole(ctx, h.db, userID, communityID)
	if isPrivate && myRole == "" && !middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "This community is private"})
	}

	return c.JSON(fiber.Map{
		"id":                   communityID,
		"name":                 name,
		"slug":                 slug,
		"description":          description,
		"logo":                 logo,
		"primary_color":        primaryColor,
		"certificate_template": certificateTemplate,
		"is_private":           isPrivate,
		"created_by":           createdBy,
		"created_at":           createdAt,
		"member_count":         memberCount,
		"event_count":          eventCount,
		"my_role":              myRole,
	})
}

// UpdateCommunity applies a partial update. Owner or admin only.
func (h *CommunitiesHandler) UpdateCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner, middleware.RoleAdmin) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req UpdateCommunityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Name cannot be empty"})
		}
		add("name", name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Logo != nil {
		add("logo", *req.Logo)
	}
	if req.PrimaryColor != nil {
		add("primary_color", *req.PrimaryColor)
	}
	if req.CertificateTemplate != nil {
		add("certificate_template", *req.CertificateTemplate)
	}
	if req.IsPrivate != nil {
		add("is_private", *req.IsPrivate)
	}
	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	args = append(args, communityID)
	query := fmt.Sprintf(`UPDATE communities SET %s WHERE id = $%d`, strings.Join(setParts, ", "), len(args))
	if _, err := h.db.Exec(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return c.Status(409).JSON(fiber.Map{"error": "A community with this name already exists"})
		}
		utils.LogError("community update", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update community"})
	}

	return c.JSON(fiber.Map{"message": "Community updated"})
}

// DeactivateCommunity soft-deletes the community. Owner only.
func (h *CommunitiesHandler) DeactivateCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can deactivate a community"})
	}

	if _, err := h.db.Exec(ctx, `UPDATE communities SET is_active = false WHERE id = $1`, communityID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to deactivate community"})
	}
	utils.LogInfo("🏚️ Community deactivated", "community_id", communityID)
	return c.JSON(fiber.Map{"message": "Community deactivated"})
}

// JoinCommunity joins a public community as participant
func (h *CommunitiesHandler) JoinCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	var isPrivate bool
	if err := h.db.QueryRow(ctx, `SELECT is_private FROM communities WHERE id = $1`, communityID).Scan(&isPrivate); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if isPrivate {
		return c.Status(403).JSON(fiber.Map{"error": "This community is private. Apply for membership or use an invite."})
	}

	role, created, err := h.ensureMembership(ctx, communityID, userID, middleware.RoleParticipant)
	if err != nil {
		utils.LogError("community join", err, "community_id", communityID, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join community"})
	}
	if !created {
		return c.JSON(fiber.Map{"message": "Already a member", "role": role})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbCommunityJoined,
		SubjectType: "community",
		SubjectID:   communityID,
		CommunityID: &communityID,
	}); err != nil {
		utils.LogError("community.joined activity", err, "community_id", communityID)
	}

	return c.Status(201).JSON(fiber.Map{"message": "Joined community", "role": role})
}

// ensureMembership inserts or reactivates a membership. Reports whether a
// new active membership came into existence.
func (h *CommunitiesHandler) ensureMembership(ctx context.Context, communityID, userID uuid.UUID, role string) (string, bool, error) {
	var existingRole string
	var isActive bool
	err := h.db.QueryRow(ctx, `
        SELECT role, is_active FROM community_memberships
        WHERE community_id = $1 AND user_id = $2`,
		communityID, userID).Scan(&existingRole, &isActive)

	if err == nil {
		if isActive {
			return existingRole, false, nil
		}
		// Rejoin keeps the stronger of the two roles
		finalRole := existingRole
		if roleRank(role) > roleRank(existingRole) {
			finalRole = role
		}
		_, err = h.db.Exec(ctx, `
            UPDATE community_memberships
            SET is_active = true, role = $1, last_active_at = NOW()
            WHERE community_id = $2 AND user_id = $3`,
			finalRole, communityID, userID)
		return finalRole, err == nil, err
	}

	_, err = h.db.Exec(ctx, `
        INSERT INTO community_memberships (community_id, user_id, role, is_default)
        VALUES ($1, $2, $3,
            NOT EXISTS(SELECT 1 FROM community_memberships WHERE user_id = $2 AND is_default = true AND is_active = true))`,
		communityID, userID, role)
	return role, err == nil, err
}

func roleRank(role string) int {
	switch role {
	case middleware.RoleOwner:
		return 5
	case middleware.RoleAdmin:
		return 4
	case middleware.RoleOrganizer:
		return 3
	case middleware.RoleMember:
		return 2
	case middleware.RoleParticipant:
		return 1
	}
	return 0
}

// LeaveCommunity deactivates the caller's membership. Owners must transfer first.
func (h *CommunitiesHandler) LeaveCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	role := middleware.CommunityRole(ctx, h.db, userID, communityID)
	if role == "" {
		return c.Status(404).JSON(fiber.Map{"error": "Not a member"})
	}
	if role == middleware.RoleOwner {
		return c.Status(400).JSON(fiber.Map{"error": "Transfer ownership before leaving the community"})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE community_memberships SET is_active = false, is_default = false
        WHERE community_id = $1 AND user_id = $2`,
		communityID, userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to leave community"})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbCommunityLeft,
		SubjectType: "community",
		SubjectID:   communityID,
		CommunityID: &communityID,
		Visibility:  services.VisibilityPrivate,
	}); err != nil {
		utils.LogError("community.left activity", err, "community_id", communityID)
	}

	return c.JSON(fiber.Map{"message": "Left community"})
}

// SetDefaultCommunity marks one membership as the active context
func (h *CommunitiesHandler) SetDefaultCommunity(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if middleware.CommunityRole(ctx, h.db, userID, communityID) == "" {
		return c.Status(404).JSON(fiber.Map{"error": "Not a member"})
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to set default community"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE community_memberships SET is_default = false WHERE user_id = $1`, userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to set default community"})
	}
	if _, err := tx.Exec(ctx, `
        UPDATE community_memberships SET is_default = true, last_active_at = NOW()
        WHERE community_id = $1 AND user_id = $2`,
		communityID, userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to set default community"})
	}
	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to set default community"})
	}

	return c.JSON(fiber.Map{"message": "Default community updated"})
}

// ListMembers lists active members. Visible to members of the community.
func (h *CommunitiesHandler) ListMembers(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if middleware.CommunityRole(ctx, h.db, userID, communityID) == "" &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Members only"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT m.user_id, u.username, u.first_name, u.last_name, u.profile_picture,
               m.role, m.joined_at, m.last_active_at
        FROM community_memberships m
        JOIN users u ON u.id = m.user_id
        WHERE m.community_id = $1 AND m.is_active = true AND u.deleted_at IS NULL
        ORDER BY CASE m.role
            WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 WHEN 'organizer' THEN 2
            WHEN 'member' THEN 3 ELSE 4 END, m.joined_at ASC`,
		communityID)
	if err != nil {
		utils.LogError("members list", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load members"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var memberID uuid.UUID
		var username, firstName, lastName, role string
		var profilePicture *string
		var joinedAt time.Time
		var lastActiveAt *time.Time

		if err := rows.Scan(&memberID, &username, &firstName, &lastName, &profilePicture,
			&role, &joinedAt, &lastActiveAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"user_id":         memberID,
			"username":        username,
			"first_name":      firstName,
			"last_name":       lastName,
			"profile_picture": profilePicture,
			"role":            role,
			"joined_at":       joinedAt,
			"last_active_at":  lastActiveAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// ChangeMemberRole updates a member's role. Admin assignment is owner-only
// and the owner's own row is immutable here.
func (h *CommunitiesHandler) ChangeMemberRole(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	targetID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	var req ChangeRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !assignableRoles[req.Role] {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid role"})
	}

	callerRole := middleware.CommunityRole(ctx, h.db, userID, communityID)
	isSuper := middleware.IsSuperuser(ctx, h.db, userID)
	if callerRole != middleware.RoleOwner && callerRole != middleware.RoleAdmin && !isSuper {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	targetRole := middleware.CommunityRole(ctx, h.db, targetID, communityID)
	if targetRole == "" {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}
	if targetRole == middleware.RoleOwner {
		return c.Status(400).JSON(fiber.Map{"error": "Use ownership transfer to change the owner"})
	}
	if req.Role == middleware.RoleAdmin && callerRole != middleware.RoleOwner && !isSuper {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can assign admins"})
	}
	if targetRole == middleware.RoleAdmin && callerRole != middleware.RoleOwner && !isSuper {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can change an admin's role"})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE community_memberships SET role = $1
        WHERE community_id = $2 AND user_id = $3 AND is_active = true`,
		req.Role, communityID, targetID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to change role"})
	}

	return c.JSON(fiber.Map{"message": "Role updated", "role": req.Role})
}

// RemoveMember deactivates another member's membership
func (h *CommunitiesHandler) RemoveMember(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	targetID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	callerRole := middleware.CommunityRole(ctx, h.db, userID, communityID)
	isSuper := middleware.IsSuperuser(ctx, h.db, userID)
	if callerRole != middleware.RoleOwner && callerRole != middleware.RoleAdmin && !isSuper {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	targetRole := middleware.CommunityRole(ctx, h.db, targetID, communityID)
	if targetRole == "" {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}
	if targetRole == middleware.RoleOwner {
		return c.Status(400).JSON(fiber.Map{"error": "The owner cannot be removed"})
	}
	if targetRole == middleware.RoleAdmin && callerRole != middleware.RoleOwner && !isSuper {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can remove an admin"})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE community_memberships SET is_active = false, is_default = false
        WHERE community_id = $1 AND user_id = $2`,
		communityID, targetID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove member"})
	}

	return c.JSON(fiber.Map{"message": "Member removed"})
}

// TransferOwnership hands the community to another active member.
// The previous owner becomes an admin.
func (h *CommunitiesHandler) TransferOwnership(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner) {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can transfer ownership"})
	}

	var req TransferOwnershipRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.NewOwnerID == uuid.Nil || req.NewOwnerID == userID {
		return c.Status(400).JSON(fiber.Map{"error": "Specify another member as the new owner"})
	}
	if middleware.CommunityRole(ctx, h.db, req.NewOwnerID, communityID) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "The new owner must be an active member"})
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to transfer ownership"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
        UPDATE community_memberships SET role = 'admin'
        WHERE community_id = $1 AND user_id = $2`,
		communityID, userID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to transfer ownership"})
	}
	if _, err := tx.Exec(ctx, `
        UPDATE community_memberships SET role = 'owner'
        WHERE community_id = $1 AND user_id = $2`,
		communityID, req.NewOwnerID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to transfer ownership"})
	}
	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to transfer ownership"})
	}

	utils.LogInfo("👑 Community ownership transferred", "community_id", communityID, "new_owner", req.NewOwnerID)
	return c.JSON(fiber.Map{"message": "Ownership transferred"})
}

// CreateInvite issues an invite token. Owner, admin or organizer.
func (h *CommunitiesHandler) CreateInvite(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	callerRole := middleware.CommunityRole(ctx, h.db, userID, communityID)
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req CreateInviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Role == "" {
		req.Role = middleware.RoleMember
	}
	if !assignableRoles[req.Role] {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid role"})
	}
	if req.Role == middleware.RoleAdmin && callerRole != middleware.RoleOwner {
		return c.Status(403).JSON(fiber.Map{"error": "Only the owner can create admin invites"})
	}
	if req.MaxUses != nil && *req.MaxUses < 1 {
		return c.Status(400).JSON(fiber.Map{"error": "max_uses must be positive"})
	}

	token, err := crypto.NewInviteToken()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to generate invite"})
	}

	var expiresAt *time.Time
	if req.ExpiresInHours != nil && *req.ExpiresInHours > 0 {
		t := time.Now().Add(time.Duration(*req.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	var inviteID uuid.UUID
	err = h.db.QueryRow(ctx, `
        INSERT INTO community_invites (community_id, created_by, token, role, max_uses, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		communityID, userID, token, req.Role, req.MaxUses, expiresAt,
	).Scan(&inviteID)
	if err != nil {
		utils.LogError("invite create", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create invite"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":         inviteID,
		"token":      token,
		"role":       req.Role,
		"max_uses":   req.MaxUses,
		"expires_at": expiresAt,
	})
}

// ListInvites lists invites for the community. Managers only.
func (h *CommunitiesHandler) ListInvites(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT id, token, role, max_uses, used_count, expires_at, is_active, created_by, created_at
        FROM community_invites
        WHERE community_id = $1
        ORDER BY created_at DESC`,
		communityID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load invites"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var token, role string
		var maxUses *int
		var usedCount int
		var expiresAt *time.Time
		var isActive bool
		var createdBy *uuid.UUID
		var createdAt time.Time

		if err := rows.Scan(&id, &token, &role, &maxUses, &usedCount, &expiresAt,
			&isActive, &createdBy, &createdAt); err != nil {
			continue
		}

		usable := isActive &&
			(expiresAt == nil || expiresAt.After(time.Now())) &&
			(maxUses == nil || usedCount < *maxUses)

		results = append(results, fiber.Map{
			"id":         id,
			"token":      token,
			"role":       role,
			"max_uses":   maxUses,
			"used_count": usedCount,
			"expires_at": expiresAt,
			"is_active":  isActive,
			"usable":     usable,
			"created_by": createdBy,
			"created_at": createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// RevokeInvite deactivates an invite token
func (h *CommunitiesHandler) RevokeInvite(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	inviteID, err := uuid.Parse(c.Params("inviteId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid invite ID"})
	}

	tag, err := h.db.Exec(ctx, `
        UPDATE community_invites SET is_active = false
        WHERE id = $1 AND community_id = $2`,
		inviteID, communityID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to revoke invite"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Invite not found"})
	}
	return c.JSON(fiber.Map{"message": "Invite revoked"})
}

// JoinByInvite redeems an invite token. A token works while it is active,
// unexpired and under its use limit.
func (h *CommunitiesHandler) JoinByInvite(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	token := strings.TrimSpace(c.Params("token"))
	if token == "" || len(token) > 64 {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid invite token"})
	}

	ctx := context.Background()

	var inviteID, communityID uuid.UUID
	var role string
	var maxUses *int
	var usedCount int
	var expiresAt *time.Time
	var isActive bool

	err := h.db.QueryRow(ctx, `
        SELECT i.id, i.community_id, i.role, i.max_uses, i.used_count, i.expires_at, i.is_active
        FROM community_invites i
        JOIN communities c ON c.id = i.community_id
        WHERE i.token = $1 AND c.is_active = true`,
		token,
	).Scan(&inviteID, &communityID, &role, &maxUses, &usedCount, &expiresAt, &isActive)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Invalid invite token"})
	}

	if !isActive || (expiresAt != nil && !expiresAt.After(time.Now())) ||
		(maxUses != nil && usedCount >= *maxUses) {
		return c.Status(410).JSON(fiber.Map{"error": "This invite is no longer valid"})
	}

	finalRole, created, err := h.ensureMembership(ctx, communityID, userID, role)
	if err != nil {
		utils.LogError("invite join", err, "community_id", communityID, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join community"})
	}
	if !created {
		return c.JSON(fiber.Map{"message": "Already a member", "community_id": communityID, "role": finalRole})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE community_invites SET used_count = used_count + 1 WHERE id = $1`,
		inviteID); err != nil {
		utils.LogError("invite use count", err, "invite_id", inviteID)
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbCommunityJoined,
		SubjectType: "community",
		SubjectID:   communityID,
		CommunityID: &communityID,
		Metadata:    map[string]interface{}{"via": "invite"},
	}); err != nil {
		utils.LogError("community.joined activity", err, "community_id", communityID)
	}

	return c.Status(201).JSON(fiber.Map{
		"message":      "Joined community",
		"community_id": communityID,
		"role":         finalRole,
	})
}

// ApplyForMembership submits an application to a private community
func (h *CommunitiesHandler) ApplyForMembership(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	if middleware.CommunityRole(ctx, h.db, userID, communityID) != "" {
		return c.Status(409).JSON(fiber.Map{"error": "Already a member"})
	}

	var req ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	req.Intent = strings.TrimSpace(req.Intent)
	if req.Intent == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Intent is required"})
	}
	skills := req.Skills
	if len(skills) == 0 {
		skills = json.RawMessage("[]")
	}

	var applicationID uuid.UUID
	err = h.db.QueryRow(ctx, `
        INSERT INTO membership_applications (user_id, community_id, intent, skills)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, community_id) DO UPDATE
            SET intent = EXCLUDED.intent, skills = EXCLUDED.skills,
                status = 'pending', reviewed_by = NULL, reviewed_at = NULL
        RETURNING id`,
		userID, communityID, req.Intent, []byte(skills),
	).Scan(&applicationID)
	if err != nil {
		utils.LogError("membership application", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to submit application"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":     applicationID,
		"status": "pending",
	})
}

// ListApplications lists membership applications. Managers only.
func (h *CommunitiesHandler) ListApplications(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner, middleware.RoleAdmin) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	status := c.Query("status", "pending")
	rows, err := h.db.Query(ctx, `
        SELECT a.id, a.user_id, u.username, u.first_name, u.last_name,
               a.intent, a.skills, a.status, a.reviewed_by, a.reviewed_at, a.created_at
        FROM membership_applications a
        JOIN users u ON u.id = a.user_id
        WHERE a.community_id = $1 AND ($2 = 'all' OR a.status = $2)
        ORDER BY a.created_at ASC`,
		communityID, status)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load applications"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id, applicantID uuid.UUID
		var username, firstName, lastName, intent, appStatus string
		var skills []byte
		var reviewedBy *uuid.UUID
		var reviewedAt *time.Time
		var createdAt time.Time

		if err := rows.Scan(&id, &applicantID, &username, &firstName, &lastName,
			&intent, &skills, &appStatus, &reviewedBy, &reviewedAt, &createdAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":          id,
			"user_id":     applicantID,
			"username":    username,
			"first_name":  firstName,
			"last_name":   lastName,
			"intent":      intent,
			"skills":      json.RawMessage(orEmptyJSON(skills, "[]")),
			"status":      appStatus,
			"reviewed_by": reviewedBy,
			"reviewed_at": reviewedAt,
			"created_at":  createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// ReviewApplication approves or rejects a pending application
func (h *CommunitiesHandler) ReviewApplication(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner, middleware.RoleAdmin) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	applicationID, err := uuid.Parse(c.Params("applicationId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid application ID"})
	}

	var req ReviewApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Action != "approve" && req.Action != "reject" {
		return c.Status(400).JSON(fiber.Map{"error": "Action must be approve or reject"})
	}

	var applicantID uuid.UUID
	var appStatus string
	err = h.db.QueryRow(ctx, `
        SELECT user_id, status FROM membership_applications
        WHERE id = $1 AND community_id = $2`,
		applicationID, communityID).Scan(&applicantID, &appStatus)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Application not found"})
	}
	if appStatus != "pending" {
		return c.Status(409).JSON(fiber.Map{"error": "Application already reviewed"})
	}

	newStatus := "rejected"
	if req.Action == "approve" {
		newStatus = "approved"
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE membership_applications
        SET status = $1, reviewed_by = $2, reviewed_at = NOW()
        WHERE id = $3`,
		newStatus, userID, applicationID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to review application"})
	}

	if newStatus == "approved" {
		if _, _, err := h.ensureMembership(ctx, communityID, applicantID, middleware.RoleMember); err != nil {
			utils.LogError("application membership", err, "application_id", applicationID)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to create membership"})
		}
		if _, err := h.activity.Record(ctx, services.Activity{
			ActorID:     applicantID,
			Verb:        services.VerbCommunityJoined,
			SubjectType: "community",
			SubjectID:   communityID,
			CommunityID: &communityID,
			Metadata:    map[string]interface{}{"via": "application"},
		}); err != nil {
			utils.LogError("community.joined activity", err, "community_id", communityID)
		}
		_ = h.activity.Notify(ctx, applicantID, "community",
			"Application approved",
			"Your membership application has been approved. Welcome aboard!", nil)
	} else {
		_ = h.activity.Notify(ctx, applicantID, "community",
			"Application update",
			"Your membership application was not approved this time.", nil)
	}

	return c.JSON(fiber.Map{"status": newStatus})
}

// ListTodos lists internal todos. Members and up; participants are excluded.
func (h *CommunitiesHandler) ListTodos(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID,
		middleware.RoleOwner, middleware.RoleAdmin, middleware.RoleOrganizer, middleware.RoleMember) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Members only"})
	}

	status := c.Query("status", "all")
	rows, err := h.db.Query(ctx, `
        SELECT t.id, t.title, t.description, t.status, t.priority,
               t.assigned_to, u.username, t.created_by, t.due_date, t.created_at, t.updated_at
        FROM community_todos t
        LEFT JOIN users u ON u.id = t.assigned_to
        WHERE t.community_id = $1 AND ($2 = 'all' OR t.status = $2)
        ORDER BY CASE t.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
                 t.due_date ASC NULLS LAST, t.created_at DESC`,
		communityID, status)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load todos"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var title, description, todoStatus, priority string
		var assignedTo, createdBy *uuid.UUID
		var assigneeName *string
		var dueDate *time.Time
		var createdAt, updatedAt time.Time

		if err := rows.Scan(&id, &title, &description, &todoStatus, &priority,
			&assignedTo, &assigneeName, &createdBy, &dueDate, &createdAt, &updatedAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":                id,
			"title":             title,
			"description":       description,
			"status":            todoStatus,
			"priority":          priority,
			"assigned_to":       assignedTo,
			"assignee_username": assigneeName,
			"created_by":        createdBy,
			"due_date":          dueDate,
			"created_at":        createdAt,
			"updated_at":        updatedAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// CreateTodo adds an internal todo. Managers only.
func (h *CommunitiesHandler) CreateTodo(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req TodoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	status := "planned"
	if req.Status != nil {
		if !todoStatuses[*req.Status] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid status"})
		}
		status = *req.Status
	}
	priority := "medium"
	if req.Priority != nil {
		if !todoPriorities[*req.Priority] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid priority"})
		}
		priority = *req.Priority
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}

	var id uuid.UUID
	var createdAt time.Time
	err = h.db.QueryRow(ctx, `
        INSERT INTO community_todos (community_id, title, description, status, priority, assigned_to, created_by, due_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at`,
		communityID, strings.TrimSpace(*req.Title), description, status, priority,
		req.AssignedTo, userID, req.DueDate,
	).Scan(&id, &createdAt)
	if err != nil {
		utils.LogError("todo create", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create todo"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":         id,
		"title":      strings.TrimSpace(*req.Title),
		"status":     status,
		"priority":   priority,
		"created_at": createdAt,
	})
}

// UpdateTodo applies a partial update to a todo. Managers only.
func (h *CommunitiesHandler) UpdateTodo(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	todoID, err := uuid.Parse(c.Params("todoId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid todo ID"})
	}

	var req TodoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Title cannot be empty"})
		}
		add("title", strings.TrimSpace(*req.Title))
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Status != nil {
		if !todoStatuses[*req.Status] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid status"})
		}
		add("status", *req.Status)
	}
	if req.Priority != nil {
		if !todoPriorities[*req.Priority] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid priority"})
		}
		add("priority", *req.Priority)
	}
	if req.AssignedTo != nil {
		if *req.AssignedTo == uuid.Nil {
			add("assigned_to", nil)
		} else {
			add("assigned_to", *req.AssignedTo)
		}
	}
	if req.DueDate != nil {
		add("due_date", *req.DueDate)
	}
	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	args = append(args, todoID, communityID)
	query := fmt.Sprintf(`UPDATE community_todos SET %s WHERE id = $%d AND community_id = $%d`,
		strings.Join(setParts, ", "), len(args)-1, len(args))

	tag, err := h.db.Exec(ctx, query, args...)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update todo"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Todo not found"})
	}
	return c.JSON(fiber.Map{"message": "Todo updated"})
}

// DeleteTodo removes a todo. Managers only.
func (h *CommunitiesHandler) DeleteTodo(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := h.resolveCommunity(ctx, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	todoID, err := uuid.Parse(c.Params("todoId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid todo ID"})
	}

	tag, err := h.db.Exec(ctx, `
        DELETE FROM community_todos WHERE id = $1 AND community_id = $2`,
		todoID, communityID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete todo"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Todo not found"})
	}
	return c.JSON(fiber.Map{"message": "Todo deleted"})
}
