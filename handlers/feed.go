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
	"cos-backend/utils"
)

// FeedHandler handles the unified home feed and its interactions
type FeedHandler struct {
	db     database.Database
	redis  *redis.Client
	config *config.Config
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(db database.Database, redis *redis.Client, cfg *config.Config) *FeedHandler {
	return &FeedHandler{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// FeedCommentRequest is the comment payload
type FeedCommentRequest struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// ListFeed godoc
// @Summary Home feed
// @Description Newest 50 items the caller may see: approved public events, events and announcements from their communities, certificate recognitions.
// @Tags Feed
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Feed items"
// @Router /feed [get]
func (h *FeedHandler) ListFeed(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT f.id, f.type, f.created_at,
               e.id, e.title, e.start_time, e.venue, ec.name,
               a.id, a.title, a.is_important, ae.title,
               cert.id, certu.username, certe.title,
               act.verb,
               (SELECT COUNT(*) FROM feed_likes l WHERE l.feed_item_id = f.id),
               (SELECT COUNT(*) FROM feed_comments fc WHERE fc.feed_item_id = f.id),
               EXISTS (SELECT 1 FROM feed_likes l WHERE l.feed_item_id = f.id AND l.user_id = $1)
        FROM feed_items f
        LEFT JOIN events e ON e.id = f.event_id
        LEFT JOIN communities ec ON ec.id = e.community_id
        LEFT JOIN event_announcements a ON a.id = f.announcement_id
        LEFT JOIN events ae ON ae.id = a.event_id
        LEFT JOIN certificates cert ON cert.id = f.certificate_id
        LEFT JOIN event_registrations certr ON certr.id = cert.registration_id
        LEFT JOIN users certu ON certu.id = certr.user_id
        LEFT JOIN events certe ON certe.id = certr.event_id
        LEFT JOIN activities act ON act.id = f.activity_id
        WHERE
            (f.type = 'event' AND e.status = 'approved'
             AND (e.is_public = true
                  OR e.community_id IN (
                        SELECT community_id FROM community_memberships
                        WHERE user_id = $1 AND is_active = true)))
         OR (f.type = 'announcement'
             AND (ae.community_id IN (
                        SELECT community_id FROM community_memberships
                        WHERE user_id = $1 AND is_active = true)
                  OR EXISTS (
                        SELECT 1 FROM event_registrations r
                        WHERE r.event_id = ae.id AND r.user_id = $1
                          AND r.status NOT IN ('canceled', 'rejected'))))
         OR f.type = 'certificate'
         OR f.type = 'system'
        ORDER BY f.created_at DESC
        LIMIT 50`,
		userID)
	if err != nil {
		utils.LogError("feed list", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch feed"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var itemID uuid.UUID
		var itemType string
		var createdAt time.Time
		var eventID, announcementID, certificateID *uuid.UUID
		var eventTitle, eventVenue, eventCommunity *string
		var eventStart *time.Time
		var annTitle, annEventTitle *string
		var annImportant *bool
		var certUsername, certEventTitle *string
		var activityVerb *string
		var likesCount, commentsCount int
		var likedByMe bool

		if err := rows.Scan(&itemID, &itemType, &createdAt,
			&eventID, &eventTitle, &eventStart, &eventVenue, &eventCommunity,
			&announcementID, &annTitle, &annImportant, &annEventTitle,
			&certificateID, &certUsername, &certEventTitle,
			&activityVerb,
			&likesCount, &commentsCount, &likedByMe); err != nil {
			continue
		}

		item := fiber.Map{
			"id":             itemID,
			"type":           itemType,
			"created_at":     createdAt,
			"likes_count":    likesCount,
			"comments_count": commentsCount,
			"liked_by_me":    likedByMe,
		}
		if activityVerb != nil {
			item["verb"] = *activityVerb
		}

		switch itemType {
		case "event":
			if eventID != nil {
				item["event"] = fiber.Map{
					"id":         eventID,
					"title":      eventTitle,
					"start_time": eventStart,
					"venue":      eventVenue,
					"community":  eventCommunity,
				}
			}
		case "announcement":
			if announcementID != nil {
				item["announcement"] = fiber.Map{
					"id":           announcementID,
					"title":        annTitle,
					"event_title":  annEventTitle,
					"is_important": annImportant,
				}
			}
		case "certificate":
			if certificateID != nil {
				item["certificate"] = fiber.Map{
					"id":          certificateID,
					"username":    certUsername,
					"event_title": certEventTitle,
				}
			}
		}
		results = append(results, item)
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// ToggleLike godoc
// @Summary Like or unlike a feed item
// @Tags Feed
// @Security BearerAuth
// @Produce json
// @Param id path string true "Feed item ID"
// @Success 200 {object} map[string]interface{} "New like state"
// @Failure 404 {object} map[string]interface{} "Feed item not found"
// @Router /feed/{id}/like [post]
func (h *FeedHandler) ToggleLike(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid feed item ID"})
	}

	ctx := context.Background()

	var exists bool
	_ = h.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feed_items WHERE id = $1)`, itemID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Feed item not found"})
	}

	// Insert wins the toggle; a conflict means unlike
	tag, err := h.db.Exec(ctx, `
        INSERT INTO feed_likes (feed_item_id, user_id)
        VALUES ($1, $2)
        ON CONFLICT (feed_item_id, user_id) DO NOTHING`,
		itemID, userID)
	if err != nil {
		utils.LogError("feed like", err, "feed_item_id", itemID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to toggle like"})
	}

	liked := tag.RowsAffected() > 0
	if !liked {
		if _, err := h.db.Exec(ctx, `
            DELETE FROM feed_likes WHERE feed_item_id = $1 AND user_id = $2`,
			itemID, userID); err != nil {
			utils.LogError("feed unlike", err, "feed_item_id", itemID)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to toggle like"})
		}
	}

	var likesCount int
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM feed_likes WHERE feed_item_id = $1`,
		itemID).Scan(&likesCount)

	return c.JSON(fiber.Map{"liked": liked, "likes_count": likesCount})
}

// ListComments godoc
// @Summary List comments on a feed item
// @Tags Feed
// @Security BearerAuth
// @Produce json
// @Param id path string true "Feed item ID"
// @Success 200 {object} map[string]interface{} "Comments"
// @Router /feed/{id}/comments [get]
func (h *FeedHandler) ListComments(c *fiber.Ctx) error {
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid feed item ID"})
	}

	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT fc.id, fc.user_id, fc.text, fc.created_at, u.username
        FROM feed_comments fc
        JOIN users u ON u.id = fc.user_id
        WHERE fc.feed_item_id = $1
        ORDER BY fc.created_at
        LIMIT 200`,
		itemID)
	if err != nil {
		utils.LogError("feed comments list", err, "feed_item_id", itemID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch comments"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var commentID, authorID uuid.UUID
		var text, username string
		var createdAt time.Time
		if err := rows.Scan(&commentID, &authorID, &text, &createdAt, &username); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":         commentID,
			"user_id":    authorID,
			"username":   username,
			"text":       text,
			"created_at": createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// AddComment godoc
// @Summary Comment on a feed item
// @Tags Feed
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Feed item ID"
// @Param request body FeedCommentRequest true "Comment"
// @Success 201 {object} map[string]interface{} "Comment created"
// @Failure 404 {object} map[string]interface{} "Feed item not found"
// @Router /feed/{id}/comments [post]
func (h *FeedHandler) AddComment(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid feed item ID"})
	}

	var req FeedCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	text := utils.SanitizeText(req.Text, 1000)
	if text == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Comment text is required"})
	}

	ctx := context.Background()

	var exists bool
	_ = h.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feed_items WHERE id = $1)`, itemID).Scan(&exists)
	if !exists {
		return c.Status(404).JSON(fiber.Map{"error": "Feed item not found"})
	}

	var commentID uuid.UUID
	var createdAt time.Time
	var username string
	err = h.db.QueryRow(ctx, `
        WITH inserted AS (
            INSERT INTO feed_comments (feed_item_id, user_id, text)
            VALUES ($1, $2, $3)
            RETURNING id, user_id, created_at
        )
        SELECT i.id, i.created_at, u.username
        FROM inserted i JOIN users u ON u.id = i.user_id`,
		itemID, userID, text).Scan(&commentID, &createdAt, &username)
	if err != nil {
		utils.LogError("feed comment create", err, "feed_item_id", itemID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to add comment"})
	}

	return c.Status(201).JSON(fiber.Map{
		"id":         commentID,
		"user_id":    userID,
		"username":   username,
		"text":       text,
		"created_at": createdAt,
	})
}

// DeleteComment godoc
// @Summary Delete a feed comment
// @Description Authors delete their own comments; superusers can delete any.
// @Tags Feed
// @Security BearerAuth
// @Produce json
// @Param id path string true "Feed item ID"
// @Param commentID path string true "Comment ID"
// @Success 200 {object} map[string]interface{} "Deleted"
// @Failure 404 {object} map[string]interface{} "Comment not found"
// @Router /feed/{id}/comments/{commentId} [delete]
func (h *FeedHandler) DeleteComment(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid feed item ID"})
	}
	commentID, err := uuid.Parse(c.Params("commentId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid comment ID"})
	}

	ctx := context.Background()

	tag, err := h.db.Exec(ctx, `
        DELETE FROM feed_comments
        WHERE id = $1 AND feed_item_id = $2 AND user_id = $3`,
		commentID, itemID, userID)
	if err != nil {
		utils.LogError("feed comment delete", err, "comment_id", commentID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete comment"})
	}
	if tag.RowsAffected() == 0 {
		if !middleware.IsSuperuser(ctx, h.db, userID) {
			return c.Status(404).JSON(fiber.Map{"error": "Comment not found"})
		}
		tag, err = h.db.Exec(ctx, `
            DELETE FROM feed_comments WHERE id = $1 AND feed_item_id = $2`,
			commentID, itemID)
		if err != nil || tag.RowsAffected() == 0 {
			return c.Status(404).JSON(fiber.Map{"error": "Comment not found"})
		}
	}

	return c.JSON(fiber.Map{"message": "Comment deleted"})
}
