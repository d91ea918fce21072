package handlers

import (
	"context"
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

// FeedbackHandler handles event feedback submission and organizer stats
type FeedbackHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *FeedbackHandler {
	return &FeedbackHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// FeedbackRequest is the submit/update payload
type FeedbackRequest struct {
	Rating      int    `json:"rating" validate:"required,min=1,max=5"`
	Comment     string `json:"comment"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// SubmitFeedback godoc
// @Summary Submit or update feedback for an event
// @Description One feedback per user per event; resubmitting updates it. Only after the event starts.
// @Tags Feedback
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body FeedbackRequest true "Feedback"
// @Success 201 {object} map[string]interface{} "Feedback created"
// @Success 200 {object} map[string]interface{} "Feedback updated"
// @Failure 403 {object} map[string]interface{} "Not registered"
// @Router /events/{id}/feedback/submit [post]
func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req FeedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.Status(400).JSON(fiber.Map{"error": "Rating must be between 1 and 5."})
	}
	comment := utils.SanitizeText(req.Comment, 2000)

	ctx := context.Background()

	var eventTitle string
	var startTime time.Time
	var communityID *uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT title, start_time, community_id FROM events WHERE id = $1`,
		eventID).Scan(&eventTitle, &startTime, &communityID); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	var isRegistered bool
	_ = h.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM event_registrations WHERE event_id = $1 AND user_id = $2
        )`, eventID, userID).Scan(&isRegistered)
	if !isRegistered {
		return c.Status(403).JSON(fiber.Map{"error": "You are not registered for this event"})
	}

	if time.Now().Before(startTime) {
		return c.Status(400).JSON(fiber.Map{"error": "You can only give feedback after the event starts"})
	}

	var feedbackID uuid.UUID
	var createdAt, updatedAt time.Time
	var created bool
	err = h.db.QueryRow(ctx, `
        INSERT INTO event_feedback (event_id, user_id, rating, comment, is_anonymous)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (event_id, user_id) DO UPDATE
        SET rating = EXCLUDED.rating, comment = EXCLUDED.comment,
            is_anonymous = EXCLUDED.is_anonymous, updated_at = NOW()
        RETURNING id, created_at, updated_at, (xmax = 0)`,
		eventID, userID, req.Rating, comment, req.IsAnonymous).Scan(&feedbackID, &createdAt, &updatedAt, &created)
	if err != nil {
		utils.LogError("feedback submit", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to submit feedback"})
	}

	// Only the first submission hits the ledger; edits stay quiet
	if created {
		if _, err := h.activity.Record(ctx, services.Activity{
			ActorID:     userID,
			Verb:        services.VerbFeedbackSubmitted,
			SubjectType: "feedback",
			SubjectID:   feedbackID,
			CommunityID: communityID,
			Metadata: map[string]interface{}{
				"event_title": eventTitle,
				"rating":      req.Rating,
			},
		}); err != nil {
			utils.LogError("feedback.submitted activity", err, "feedback_id", feedbackID)
		}
		utils.LogInfo("⭐ Feedback submitted", "event_id", eventID, "rating", req.Rating)
	}

	status := 200
	if created {
		status = 201
	}
	return c.Status(status).JSON(fiber.Map{
		"id":           feedbackID,
		"event_id":     eventID,
		"rating":       req.Rating,
		"comment":      comment,
		"is_anonymous": req.IsAnonymous,
		"created_at":   createdAt,
		"updated_at":   updatedAt,
	})
}

// MyFeedback returns the caller's feedback for an event, if any
func (h *FeedbackHandler) MyFeedback(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var feedbackID uuid.UUID
	var rating int
	var comment string
	var isAnonymous bool
	var createdAt, updatedAt time.Time
	err = h.db.QueryRow(ctx, `
        SELECT id, rating, comment, is_anonymous, created_at, updated_at
        FROM event_feedback WHERE event_id = $1 AND user_id = $2`,
		eventID, userID).Scan(&feedbackID, &rating, &comment, &isAnonymous, &createdAt, &updatedAt)
	if err != nil {
		return c.JSON(fiber.Map{"submitted": false})
	}

	return c.JSON(fiber.Map{
		"submitted":    true,
		"id":           feedbackID,
		"rating":       rating,
		"comment":      comment,
		"is_anonymous": isAnonymous,
		"created_at":   createdAt,
		"updated_at":   updatedAt,
	})
}

// ListFeedback godoc
// @Summary List feedback for an event
// @Description Event staff only. Anonymous feedback hides the author.
// @Tags Feedback
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Feedback"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/feedback [get]
func (h *FeedbackHandler) ListFeedback(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed to view feedback for this event."})
	}

	limit := utils.Min(utils.Max(c.QueryInt("limit", 50), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)

	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM event_feedback WHERE event_id = $1`,
		eventID).Scan(&total); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch feedback"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT f.id, f.user_id, f.rating, f.comment, f.is_anonymous, f.created_at, f.updated_at,
               u.username
        FROM event_feedback f
        JOIN users u ON u.id = f.user_id
        WHERE f.event_id = $1
        ORDER BY f.created_at DESC
        LIMIT $2 OFFSET $3`,
		eventID, limit, offset)
	if err != nil {
		utils.LogError("feedback list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch feedback"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var feedbackID, authorID uuid.UUID
		var rating int
		var comment, username string
		var isAnonymous bool
		var createdAt, updatedAt time.Time

		if err := rows.Scan(&feedbackID, &authorID, &rating, &comment, &isAnonymous,
			&createdAt, &updatedAt, &username); err != nil {
			continue
		}

		row := fiber.Map{
			"id":           feedbackID,
			"rating":       rating,
			"comment":      comment,
			"is_anonymous": isAnonymous,
			"created_at":   createdAt,
			"updated_at":   updatedAt,
		}
		if isAnonymous {
			row["user_id"] = nil
			row["username"] = "Anonymous"
		} else {
			row["user_id"] = authorID
			row["username"] = username
		}
		results = append(results, row)
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}

// FeedbackStats godoc
// @Summary Feedback statistics for an event
// @Tags Feedback
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Stats"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/feedback/stats [get]
func (h *FeedbackHandler) FeedbackStats(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var eventTitle string
	if err := h.db.QueryRow(ctx, `SELECT title FROM events WHERE id = $1`, eventID).Scan(&eventTitle); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed to view feedback stats for this event."})
	}

	var avgRating *float64
	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT ROUND(AVG(rating)::numeric, 2), COUNT(*)
        FROM event_feedback WHERE event_id = $1`,
		eventID).Scan(&avgRating, &total); err != nil {
		utils.LogError("feedback stats", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch feedback stats"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT rating, COUNT(*) FROM event_feedback
        WHERE event_id = $1
        GROUP BY rating
        ORDER BY rating DESC`,
		eventID)
	if err != nil {
		utils.LogError("feedback distribution", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch feedback stats"})
	}
	defer rows.Close()

	distribution := []fiber.Map{}
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			continue
		}
		distribution = append(distribution, fiber.Map{"rating": rating, "count": count})
	}

	return c.JSON(fiber.Map{
		"event":          eventTitle,
		"average_rating": avgRating,
		"total_feedback": total,
		"distribution":   distribution,
	})
}
