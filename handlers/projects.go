package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

// Valid project lifecycle states. Unlike events, projects have no approval
// workflow; the owner moves them freely between states.
var projectStatuses = map[string]bool{
	"active":    true,
	"completed": true,
	"archived":  true,
}

// ProjectsHandler handles community-scoped collaborative projects
type ProjectsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewProjectsHandler creates a new projects handler
func NewProjectsHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *ProjectsHandler {
	return &ProjectsHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// CreateProjectRequest is the project creation payload
type CreateProjectRequest struct {
	CommunityID string `json:"community_id" validate:"required,uuid"`
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
}

// UpdateProjectRequest is a partial project update
type UpdateProjectRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status" validate:"omitempty,oneof=active completed archived"`
}

// CreateProject godoc
// @Summary Create a project
// @Description Community members only. New projects start in the active state.
// @Tags Projects
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateProjectRequest true "Project"
// @Success 201 {object} map[string]interface{} "Project created"
// @Failure 403 {object} map[string]interface{} "Not a community member"
// @Router /projects [post]
func (h *ProjectsHandler) CreateProject(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	communityID, err := uuid.Parse(req.CommunityID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid community ID"})
	}

	title := utils.SanitizeTitle(req.Title)
	if title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	description := utils.SanitizeHTML(req.Description, 10000)

	ctx := context.Background()

	var communityName string
	if err := h.db.QueryRow(ctx, `
        SELECT name FROM communities WHERE id = $1 AND is_active = true`,
		communityID).Scan(&communityName); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	if middleware.CommunityRole(ctx, h.db, userID, communityID) == "" &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only community members can create projects"})
	}

	var projectID uuid.UUID
	var createdAt time.Time
	err = h.db.QueryRow(ctx, `
        INSERT INTO projects (community_id, owner_id, title, description)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`,
		communityID, userID, title, description).Scan(&projectID, &createdAt)
	if err != nil {
		utils.LogError("project create", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create project"})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbProjectCreated,
		SubjectType: "project",
		SubjectID:   projectID,
		CommunityID: &communityID,
		Visibility:  services.VisibilityCommunity,
		Metadata: map[string]interface{}{
			"title": title,
			"type":  "project",
		},
	}); err != nil {
		utils.LogError("project.created activity", err, "project_id", projectID)
	}

	utils.LogInfo("🛠️ Project created", "project_id", projectID, "community_id", communityID)

	return c.Status(201).JSON(fiber.Map{
		"id":             projectID,
		"community_id":   communityID,
		"community_name": communityName,
		"owner_id":       userID,
		"title":          title,
		"description":    description,
		"status":         "active",
		"created_at":     createdAt,
	})
}

// ListProjects godoc
// @Summary List projects
// @Description Projects in private communities are visible to their members only.
// @Tags Projects
// @Security BearerAuth
// @Produce json
// @Param community_slug query string false "Filter by community slug"
// @Param status query string false "Filter by status (active, completed, archived)"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Projects"
// @Router /projects [get]
func (h *ProjectsHandler) ListProjects(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	where := []string{`c.is_active = true`,
		`(c.is_private = false OR EXISTS (
            SELECT 1 FROM community_memberships m
            WHERE m.community_id = c.id AND m.user_id = $1 AND m.is_active = true
        ))`}
	args := []interface{}{userID}

	if slug := strings.TrimSpace(c.Query("community_slug")); slug != "" {
		args = append(args, slug)
		where = append(where, fmt.Sprintf("c.slug = $%d", len(args)))
	}
	if status := c.Query("status"); status != "" {
		if !projectStatuses[status] {
			return c.Status(400).JSON(fiber.Map{"error": "status must be active, completed or archived"})
		}
		args = append(args, status)
		where = append(where, fmt.Sprintf("p.status = $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM projects p
        JOIN communities c ON c.id = p.community_id
        WHERE `+whereClause, args...).Scan(&total); err != nil {
		utils.LogError("projects count", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch projects"})
	}

	limit := utils.Min(utils.Max(c.QueryInt("limit", 50), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)
	args = append(args, limit, offset)

	rows, err := h.db.Query(ctx, fmt.Sprintf(`
        SELECT p.id, p.community_id, c.name, c.slug, p.owner_id, u.username,
               p.title, p.description, p.status, p.created_at, p.updated_at
        FROM projects p
        JOIN communities c ON c.id = p.community_id
        LEFT JOIN users u ON u.id = p.owner_id
        WHERE %s
        ORDER BY p.created_at DESC
        LIMIT $%d OFFSET $%d`, whereClause, len(args)-1, len(args)), args...)
	if err != nil {
		utils.LogError("projects list", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch projects"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var projectID, communityID, ownerID uuid.UUID
		var communityName, communitySlug, title, description, status string
		var ownerName *string
		var createdAt, updatedAt time.Time

		if err := rows.Scan(&projectID, &communityID, &communityName, &communitySlug,
			&ownerID, &ownerName, &title, &description, &status, &createdAt, &updatedAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":             projectID,
			"community_id":   communityID,
			"community_name": communityName,
			"community_slug": communitySlug,
			"owner_id":       ownerID,
			"owner_name":     ownerName,
			"title":          title,
			"description":    description,
			"status":         status,
			"created_at":     createdAt,
			"updated_at":     updatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetProject godoc
// @Summary Get a single project
// @Tags Projects
// @Security BearerAuth
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} map[string]interface{} "Project"
// @Failure 404 {object} map[string]interface{} "Project not found"
// @Router /projects/{id} [get]
func (h *ProjectsHandler) GetProject(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	projectID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid project ID"})
	}

	ctx := context.Background()

	var communityID, ownerID uuid.UUID
	var communityName, communitySlug, title, description, status string
	var isPrivate bool
	var ownerName *string
	var createdAt, updatedAt time.Time
	err = h.db.QueryRow(ctx, `
        SELECT p.community_id, c.name, c.slug, c.is_private, p.owner_id, u.username,
               p.title, p.description, p.status, p.created_at, p.updated_at
        FROM projects p
        JOIN communities c ON c.id = p.community_id
        LEFT JOIN users u ON u.id = p.owner_id
        WHERE p.id = $1`,
		projectID).Scan(&communityID, &communityName, &communitySlug, &isPrivate,
		&ownerID, &ownerName, &title, &description, &status, &createdAt, &updatedAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Project not found"})
	}

	if isPrivate && middleware.CommunityRole(ctx, h.db, userID, communityID) == "" &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(404).JSON(fiber.Map{"error": "Project not found"})
	}

	return c.JSON(fiber.Map{
		"id":             projectID,
		"community_id":   communityID,
		"community_name": communityName,
		"community_slug": communitySlug,
		"owner_id":       ownerID,
		"owner_name":     ownerName,
		"title":          title,
		"description":    description,
		"status":         status,
		"created_at":     createdAt,
		"updated_at":     updatedAt,
	})
}

// UpdateProject godoc
// @Summary Update a project
// @Description Owner or community managers. Completing a project is recorded in the activity ledger.
// @Tags Projects
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param request body UpdateProjectRequest true "Fields to update"
// @Success 200 {object} map[string]interface{} "Project updated"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /projects/{id} [patch]
func (h *ProjectsHandler) UpdateProject(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	projectID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid project ID"})
	}

	ctx := context.Background()

	var communityID, ownerID uuid.UUID
	var currentStatus, currentTitle string
	if err := h.db.QueryRow(ctx, `
        SELECT community_id, owner_id, status, title FROM projects WHERE id = $1`,
		projectID).Scan(&communityID, &ownerID, &currentStatus, &currentTitle); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Project not found"})
	}

	if ownerID != userID &&
		!middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req UpdateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	title := currentTitle
	if req.Title != nil {
		title = utils.SanitizeTitle(*req.Title)
		if title == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Title cannot be empty"})
		}
		add("title", title)
	}
	if req.Description != nil {
		add("description", utils.SanitizeHTML(*req.Description, 10000))
	}
	completed := false
	if req.Status != nil {
		if !projectStatuses[*req.Status] {
			return c.Status(400).JSON(fiber.Map{"error": "status must be active, completed or archived"})
		}
		completed = *req.Status == "completed" && currentStatus != "completed"
		add("status", *req.Status)
	}
	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	args = append(args, projectID)
	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = $%d`, strings.Join(setParts, ", "), len(args))
	if _, err := h.db.Exec(ctx, query, args...); err != nil {
		utils.LogError("project update", err, "project_id", projectID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update project"})
	}

	if completed {
		if _, err := h.activity.Record(ctx, services.Activity{
			ActorID:     userID,
			Verb:        services.VerbProjectCompleted,
			SubjectType: "project",
			SubjectID:   projectID,
			CommunityID: &communityID,
			Visibility:  services.VisibilityCommunity,
			Metadata: map[string]interface{}{
				"title": title,
				"type":  "project",
			},
		}); err != nil {
			utils.LogError("project.completed activity", err, "project_id", projectID)
		}
	}

	return c.JSON(fiber.Map{"message": "Project updated"})
}

// DeleteProject godoc
// @Summary Delete a project
// @Description Owner or community owner/admin only.
// @Tags Projects
// @Security BearerAuth
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} map[string]interface{} "Project deleted"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /projects/{id} [delete]
func (h *ProjectsHandler) DeleteProject(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	projectID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid project ID"})
	}

	ctx := context.Background()

	var communityID, ownerID uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT community_id, owner_id FROM projects WHERE id = $1`,
		projectID).Scan(&communityID, &ownerID); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Project not found"})
	}

	if ownerID != userID &&
		!middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.RoleOwner, middleware.RoleAdmin) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	if _, err := h.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		utils.LogError("project delete", err, "project_id", projectID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete project"})
	}

	utils.LogInfo("🗑️ Project deleted", "project_id", projectID, "by", userID)

	return c.JSON(fiber.Map{"message": "Project deleted"})
}
