package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/utils"
)

// NotificationsHandler handles the per-user notification inbox
type NotificationsHandler struct {
	db     database.Database
	redis  *redis.Client
	config *config.Config
}

// NewNotificationsHandler creates a new notifications handler
func NewNotificationsHandler(db database.Database, redis *redis.Client, cfg *config.Config) *NotificationsHandler {
	return &NotificationsHandler{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// MarkReadRequest selects which notifications to mark read.
// An empty list marks everything.
type MarkReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// MyNotifications godoc
// @Summary List own notifications
// @Tags Notifications
// @Security BearerAuth
// @Produce json
// @Param unread query bool false "Unread only"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Notifications"
// @Router /notifications/me [get]
func (h *NotificationsHandler) MyNotifications(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	limit := utils.Min(utils.Max(c.QueryInt("limit", 50), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)

	query := `
        SELECT id, type, title, body, is_read, event_id, created_at
        FROM notifications
        WHERE user_id = $1`
	countQuery := `SELECT COUNT(*) FROM notifications WHERE user_id = $1`
	args := []interface{}{userID}

	if unread := c.Query("unread"); unread == "1" || unread == "true" || unread == "yes" {
		query += ` AND is_read = false`
		countQuery += ` AND is_read = false`
	}

	var total int
	if err := h.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch notifications"})
	}

	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		utils.LogError("notifications list", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch notifications"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var notificationID uuid.UUID
		var notifType, title, body string
		var isRead bool
		var eventID *uuid.UUID
		var createdAt time.Time

		if err := rows.Scan(&notificationID, &notifType, &title, &body, &isRead,
			&eventID, &createdAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":         notificationID,
			"type":       notifType,
			"title":      title,
			"body":       body,
			"is_read":    isRead,
			"event_id":   eventID,
			"created_at": createdAt,
		})
	}

	var unreadCount int
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`,
		userID).Scan(&unreadCount)

	return c.JSON(fiber.Map{
		"count":        total,
		"unread_count": unreadCount,
		"results":      results,
		"limit":        limit,
		"offset":       offset,
	})
}

// MarkRead godoc
// @Summary Mark notifications as read
// @Description Marks the given IDs, or everything unread when the list is empty.
// @Tags Notifications
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body MarkReadRequest false "Notification IDs"
// @Success 200 {object} map[string]interface{} "Number marked read"
// @Router /notifications/me/mark-read [post]
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req MarkReadRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ctx := context.Background()

	var query string
	args := []interface{}{userID}
	if len(req.IDs) > 0 {
		query = `UPDATE notifications SET is_read = true
                 WHERE user_id = $1 AND is_read = false AND id = ANY($2)`
		args = append(args, req.IDs)
	} else {
		query = `UPDATE notifications SET is_read = true
                 WHERE user_id = $1 AND is_read = false`
	}

	tag, err := h.db.Exec(ctx, query, args...)
	if err != nil {
		utils.LogError("notifications mark read", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to mark notifications read"})
	}

	return c.JSON(fiber.Map{"marked_read": tag.RowsAffected()})
}
