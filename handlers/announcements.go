package handlers

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/jobs"
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

var mediaURLRe = regexp.MustCompile(`^https?://\S+$`)

// AnnouncementsHandler handles per-event announcements
type AnnouncementsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
	jobs     *river.Client[pgx.Tx]
}

// NewAnnouncementsHandler creates a new announcements handler
func NewAnnouncementsHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService, jobClient *river.Client[pgx.Tx]) *AnnouncementsHandler {
	return &AnnouncementsHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
		jobs:     jobClient,
	}
}

// CreateAnnouncementRequest is the announcement payload. Body accepts the
// rich-text subset; everything else is stripped.
type CreateAnnouncementRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Body        string `json:"body" validate:"required"`
	IsImportant bool   `json:"is_important"`
	MediaImage  string `json:"media_image"`
}

// CreateAnnouncement godoc
// @Summary Post an announcement to an event
// @Description Event staff only. Fans out notifications and emails to all registrants.
// @Tags Announcements
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body CreateAnnouncementRequest true "Announcement"
// @Success 201 {object} map[string]interface{} "Announcement created"
// @Failure 403 {object} map[string]interface{} "Not an event manager"
// @Router /events/{id}/announcements [post]
func (h *AnnouncementsHandler) CreateAnnouncement(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req CreateAnnouncementRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	title := utils.SanitizeTitle(req.Title)
	body := utils.SanitizeHTML(req.Body, 10000)
	if title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	if strings.TrimSpace(body) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Body is required"})
	}
	mediaImage := strings.TrimSpace(req.MediaImage)
	if mediaImage != "" && (len(mediaImage) > 1024 || !mediaURLRe.MatchString(mediaImage)) {
		return c.Status(400).JSON(fiber.Map{"error": "media_image must be a valid URL"})
	}

	ctx := context.Background()

	var eventTitle string
	var communityID *uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT title, community_id FROM events WHERE id = $1`,
		eventID).Scan(&eventTitle, &communityID); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only event managers can create announcements"})
	}

	var announcementID uuid.UUID
	var createdAt time.Time
	err = h.db.QueryRow(ctx, `
        INSERT INTO event_announcements (event_id, posted_by, title, body, is_important, media_image)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
        RETURNING id, created_at`,
		eventID, userID, title, body, req.IsImportant, mediaImage).Scan(&announcementID, &createdAt)
	if err != nil {
		utils.LogError("announcement create", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create announcement"})
	}

	activityID, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbAnnouncementPosted,
		SubjectType: "announcement",
		SubjectID:   announcementID,
		CommunityID: communityID,
		Visibility:  services.VisibilityCommunity,
		Metadata: map[string]interface{}{
			"event_title":  eventTitle,
			"title":        title,
			"is_important": req.IsImportant,
		},
	})
	if err != nil {
		utils.LogError("announcement.posted activity", err, "announcement_id", announcementID)
	}
	var actPtr *uuid.UUID
	if activityID != uuid.Nil {
		actPtr = &activityID
	}
	if err := h.activity.PublishAnnouncementFeedItem(ctx, announcementID, actPtr); err != nil {
		utils.LogError("announcement feed item", err, "announcement_id", announcementID)
	}

	if err := h.activity.NotifyEventRegistrants(ctx, eventID, "event_announcement",
		"New announcement for "+eventTitle, title); err != nil {
		utils.LogError("announcement notifications", err, "announcement_id", announcementID)
	}

	h.emailRegistrants(ctx, eventID, eventTitle, title, body)

	utils.LogInfo("📣 Announcement posted", "announcement_id", announcementID, "event_id", eventID, "important", req.IsImportant)

	return c.Status(201).JSON(fiber.Map{
		"id":           announcementID,
		"event_id":     eventID,
		"title":        title,
		"body":         body,
		"is_important": req.IsImportant,
		"media_image":  nilIfEmpty(mediaImage),
		"created_at":   createdAt,
	})
}

// emailRegistrants queues one announcement email per live registrant.
// Failures are logged per recipient and never block the response.
func (h *AnnouncementsHandler) emailRegistrants(ctx context.Context, eventID uuid.UUID, eventTitle, title, body string) {
	rows, err := h.db.Query(ctx, `
        SELECT u.email, u.username
        FROM event_registrations r
        JOIN users u ON u.id = r.user_id
        WHERE r.event_id = $1 AND r.status NOT IN ('canceled', 'rejected')
          AND u.is_active = true AND u.deleted_at IS NULL`,
		eventID)
	if err != nil {
		utils.LogError("announcement email recipients", err, "event_id", eventID)
		return
	}
	defer rows.Close()

	eventURL := strings.TrimRight(h.config.SiteURL, "/") + "/events/" + eventID.String()
	for rows.Next() {
		var email, username string
		if err := rows.Scan(&email, &username); err != nil {
			continue
		}
		jobs.EnqueueEmail(ctx, h.jobs, email, "event_announcement", services.AnnouncementEmailData{
			Username:   username,
			EventTitle: eventTitle,
			Title:      title,
			Body:       body,
			EventURL:   eventURL,
		})
	}
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ListAnnouncements godoc
// @Summary List announcements for an event
// @Description Visible to registrants and event staff.
// @Tags Announcements
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Announcements"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/announcements [get]
func (h *AnnouncementsHandler) ListAnnouncements(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var isRegistered bool
	_ = h.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM event_registrations WHERE event_id = $1 AND user_id = $2
        )`, eventID, userID).Scan(&isRegistered)
	if !isRegistered && !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	limit := utils.Min(utils.Max(c.QueryInt("limit", 50), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)

	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM event_announcements WHERE event_id = $1`,
		eventID).Scan(&total); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch announcements"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT a.id, a.title, a.body, a.is_important, a.media_image, a.created_at,
               u.username
        FROM event_announcements a
        LEFT JOIN users u ON u.id = a.posted_by
        WHERE a.event_id = $1
        ORDER BY a.created_at DESC
        LIMIT $2 OFFSET $3`,
		eventID, limit, offset)
	if err != nil {
		utils.LogError("announcements list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch announcements"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var announcementID uuid.UUID
		var title, body string
		var isImportant bool
		var mediaImage, postedBy *string
		var createdAt time.Time

		if err := rows.Scan(&announcementID, &title, &body, &isImportant, &mediaImage,
			&createdAt, &postedBy); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":           announcementID,
			"title":        title,
			"body":         body,
			"is_important": isImportant,
			"media_image":  mediaImage,
			"posted_by":    postedBy,
			"created_at":   createdAt,
		})
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}

// MyAnnouncements godoc
// @Summary Announcements across my registered events
// @Tags Announcements
// @Security BearerAuth
// @Produce json
// @Param community_id query string false "Filter by community"
// @Success 200 {object} map[string]interface{} "Announcements"
// @Router /events/me/announcements [get]
func (h *AnnouncementsHandler) MyAnnouncements(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	var communityID *uuid.UUID
	if communityParam := c.Query("community_id"); communityParam != "" {
		parsed, err := uuid.Parse(communityParam)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid community ID"})
		}
		communityID = &parsed
	} else {
		// Fall back to the user's default community when none is given
		var defaultCommunity uuid.UUID
		if err := h.db.QueryRow(ctx, `
            SELECT community_id FROM community_memberships
            WHERE user_id = $1 AND is_active = true AND is_default = true`,
			userID).Scan(&defaultCommunity); err == nil {
			communityID = &defaultCommunity
		}
	}

	query := `
        SELECT a.id, a.event_id, e.title, a.title, a.body, a.is_important, a.created_at
        FROM event_announcements a
        JOIN events e ON e.id = a.event_id
        WHERE a.event_id IN (
            SELECT event_id FROM event_registrations WHERE user_id = $1
        )`
	args := []interface{}{userID}
	if communityID != nil {
		args = append(args, *communityID)
		query += ` AND e.community_id = $2`
	}
	query += ` ORDER BY a.created_at DESC LIMIT 100`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		utils.LogError("my announcements", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch announcements"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var announcementID, evID uuid.UUID
		var eventTitle, title, body string
		var isImportant bool
		var createdAt time.Time

		if err := rows.Scan(&announcementID, &evID, &eventTitle, &title, &body,
			&isImportant, &createdAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":           announcementID,
			"event_id":     evID,
			"event_title":  eventTitle,
			"title":        title,
			"body":         body,
			"is_important": isImportant,
			"created_at":   createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}
