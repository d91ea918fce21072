package handlers

import (
	"context"
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

var volunteerStatuses = map[string]bool{
	"pending":   true,
	"approved":  true,
	"rejected":  true,
	"completed": true,
}

// VolunteersHandler handles event volunteer applications and review
type VolunteersHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewVolunteersHandler creates a new volunteers handler
func NewVolunteersHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *VolunteersHandler {
	return &VolunteersHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// VolunteerRequest is the application payload
type VolunteerRequest struct {
	Role string `json:"role"`
}

// UpdateVolunteerRequest is the organizer review payload
type UpdateVolunteerRequest struct {
	Status *string `json:"status"`
	Note   *string `json:"note"`
}

// canReviewVolunteers allows the organizer, community managers and
// superusers. Event staff stay out: volunteers report to organizers.
func (h *VolunteersHandler) canReviewVolunteers(ctx context.Context, userID, eventID uuid.UUID) bool {
	var organizerID uuid.UUID
	var communityID *uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT organizer_id, community_id FROM events WHERE id = $1`,
		eventID).Scan(&organizerID, &communityID); err != nil {
		return false
	}
	if userID == organizerID {
		return true
	}
	if communityID != nil && middleware.HasCommunityRole(ctx, h.db, userID, *communityID, middleware.ManagerRoles...) {
		return true
	}
	return middleware.IsSuperuser(ctx, h.db, userID)
}

// VolunteerForEvent godoc
// @Summary Volunteer for an event
// @Description Creates a pending application the organizer reviews.
// @Tags Volunteers
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body VolunteerRequest false "Desired role"
// @Success 201 {object} map[string]interface{} "Application created"
// @Failure 400 {object} map[string]interface{} "Already volunteered"
// @Router /events/{id}/volunteer [post]
func (h *VolunteersHandler) VolunteerForEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req VolunteerRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "Helper"
	}
	if len(role) > 64 {
		return c.Status(400).JSON(fiber.Map{"error": "Role must be at most 64 characters"})
	}

	ctx := context.Background()

	var eventStatus string
	var endTime time.Time
	if err := h.db.QueryRow(ctx, `
        SELECT status, end_time FROM events WHERE id = $1`,
		eventID).Scan(&eventStatus, &endTime); err != nil || eventStatus != "approved" {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if time.Now().After(endTime) {
		return c.Status(400).JSON(fiber.Map{"error": "This event has ended"})
	}

	var volunteerID uuid.UUID
	var createdAt time.Time
	err = h.db.QueryRow(ctx, `
        INSERT INTO event_volunteers (event_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (event_id, user_id) DO NOTHING
        RETURNING id, created_at`,
		eventID, userID, role).Scan(&volunteerID, &createdAt)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "You have already volunteered for this event."})
	}

	utils.LogInfo("🙋 Volunteer application", "event_id", eventID, "user_id", userID, "role", role)

	return c.Status(201).JSON(fiber.Map{
		"id":         volunteerID,
		"event_id":   eventID,
		"role":       role,
		"status":     "pending",
		"created_at": createdAt,
	})
}

// ListVolunteers godoc
// @Summary List volunteers for an event
// @Tags Volunteers
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} map[string]interface{} "Volunteers"
// @Failure 403 {object} map[string]interface{} "Unauthorized"
// @Router /events/{id}/volunteers [get]
func (h *VolunteersHandler) ListVolunteers(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !h.canReviewVolunteers(ctx, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Unauthorized"})
	}

	query := `
        SELECT v.id, v.user_id, v.role, v.status, v.note, v.verified_by, v.created_at,
               u.username, u.first_name, u.last_name
        FROM event_volunteers v
        JOIN users u ON u.id = v.user_id
        WHERE v.event_id = $1`
	args := []interface{}{eventID}

	if status := c.Query("status"); status != "" {
		if !volunteerStatuses[status] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid status"})
		}
		args = append(args, status)
		query += ` AND v.status = $2`
	}
	query += ` ORDER BY v.created_at DESC`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		utils.LogError("volunteers list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch volunteers"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var volunteerID, volunteerUserID uuid.UUID
		var role, status, note, username, firstName, lastName string
		var verifiedBy *uuid.UUID
		var createdAt time.Time

		if err := rows.Scan(&volunteerID, &volunteerUserID, &role, &status, &note, &verifiedBy,
			&createdAt, &username, &firstName, &lastName); err != nil {
			continue
		}
		name := strings.TrimSpace(firstName + " " + lastName)
		if name == "" {
			name = username
		}
		results = append(results, fiber.Map{
			"id":          volunteerID,
			"user_id":     volunteerUserID,
			"username":    username,
			"name":        name,
			"role":        role,
			"status":      status,
			"note":        note,
			"verified_by": verifiedBy,
			"created_at":  createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// UpdateVolunteer godoc
// @Summary Review a volunteer application
// @Description Approve, reject or complete. Completion records the verifier and a public activity.
// @Tags Volunteers
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param volunteerID path string true "Volunteer ID"
// @Param request body UpdateVolunteerRequest true "Changes"
// @Success 200 {object} map[string]interface{} "Updated"
// @Failure 400 {object} map[string]interface{} "Invalid status"
// @Router /events/{id}/volunteers/{volunteerId} [patch]
func (h *VolunteersHandler) UpdateVolunteer(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}
	volunteerID, err := uuid.Parse(c.Params("volunteerId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid volunteer ID"})
	}

	var req UpdateVolunteerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ctx := context.Background()
	if !h.canReviewVolunteers(ctx, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var volunteerUserID uuid.UUID
	var role, currentStatus, eventTitle string
	var communityID *uuid.UUID
	err = h.db.QueryRow(ctx, `
        SELECT v.user_id, v.role, v.status, e.title, e.community_id
        FROM event_volunteers v
        JOIN events e ON e.id = v.event_id
        WHERE v.id = $1 AND v.event_id = $2`,
		volunteerID, eventID).Scan(&volunteerUserID, &role, &currentStatus, &eventTitle, &communityID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Volunteer not found"})
	}

	newStatus := currentStatus
	if req.Status != nil {
		if !volunteerStatuses[*req.Status] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid status"})
		}
		newStatus = *req.Status
	}

	if newStatus == "completed" {
		if _, err := h.db.Exec(ctx, `
            UPDATE event_volunteers SET status = $2, verified_by = $3, note = COALESCE($4, note)
            WHERE id = $1`,
			volunteerID, newStatus, userID, req.Note); err != nil {
			utils.LogError("volunteer update", err, "volunteer_id", volunteerID)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to update volunteer"})
		}
	} else {
		if _, err := h.db.Exec(ctx, `
            UPDATE event_volunteers SET status = $2, note = COALESCE($3, note)
            WHERE id = $1`,
			volunteerID, newStatus, req.Note); err != nil {
			utils.LogError("volunteer update", err, "volunteer_id", volunteerID)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to update volunteer"})
		}
	}

	// Completion goes to the public ledger exactly once per volunteer row
	if newStatus == "completed" && currentStatus != "completed" {
		var alreadyLogged bool
		_ = h.db.QueryRow(ctx, `
            SELECT EXISTS (
                SELECT 1 FROM activities WHERE verb = $1 AND subject_id = $2
            )`, services.VerbVolunteerCompleted, volunteerID).Scan(&alreadyLogged)
		if !alreadyLogged {
			if _, err := h.activity.Record(ctx, services.Activity{
				ActorID:     volunteerUserID,
				Verb:        services.VerbVolunteerCompleted,
				SubjectType: "volunteer",
				SubjectID:   volunteerID,
				CommunityID: communityID,
				Visibility:  services.VisibilityPublic,
				Metadata: map[string]interface{}{
					"event_title": eventTitle,
					"role":        role,
				},
			}); err != nil {
				utils.LogError("volunteer.completed activity", err, "volunteer_id", volunteerID)
			}
		}

		if err := h.activity.Notify(ctx, volunteerUserID, "system",
			"Volunteering verified for "+eventTitle,
			"Thanks for helping out! Your contribution has been verified by the organizers.",
			&eventID); err != nil {
			utils.LogError("volunteer completion notification", err, "volunteer_id", volunteerID)
		}

		utils.LogInfo("🎖️ Volunteering completed", "volunteer_id", volunteerID, "verified_by", userID)
	}

	return c.JSON(fiber.Map{
		"id":       volunteerID,
		"user_id":  volunteerUserID,
		"role":     role,
		"status":   newStatus,
		"event_id": eventID,
	})
}
