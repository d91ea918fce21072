package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/middleware"
	"cos-backend/utils"
)

// GamificationHandler exposes leaderboards and reputation history
type GamificationHandler struct {
	db     database.Database
	redis  *redis.Client
	config *config.Config
}

// NewGamificationHandler creates a new gamification handler
func NewGamificationHandler(db database.Database, redis *redis.Client, cfg *config.Config) *GamificationHandler {
	return &GamificationHandler{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// canViewCommunityStats allows members always, everyone for public
// communities, and superusers everywhere
func (h *GamificationHandler) canViewCommunityStats(ctx context.Context, userID, communityID uuid.UUID) bool {
	if middleware.CommunityRole(ctx, h.db, userID, communityID) != "" {
		return true
	}
	var isPrivate bool
	if err := h.db.QueryRow(ctx, `
        SELECT is_private FROM communities WHERE id = $1`,
		communityID).Scan(&isPrivate); err != nil {
		return false
	}
	if !isPrivate {
		return true
	}
	return middleware.IsSuperuser(ctx, h.db, userID)
}

// Leaderboard godoc
// @Summary Community leaderboard
// @Description Members ranked by total XP. Includes the caller's own rank when they have one.
// @Tags Gamification
// @Security BearerAuth
// @Produce json
// @Param id path string true "Community ID or slug"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Leaderboard"
// @Failure 403 {object} map[string]interface{} "Not a member"
// @Router /communities/{id}/leaderboard [get]
func (h *GamificationHandler) Leaderboard(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := resolveCommunityID(ctx, h.db, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}
	if !h.canViewCommunityStats(ctx, userID, communityID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only members can view the leaderboard"})
	}

	limit := utils.Min(utils.Max(c.QueryInt("limit", 20), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)

	rows, err := h.db.Query(ctx, `
        SELECT s.user_id, s.total_xp, s.current_level, s.events_attended, s.events_hosted,
               u.username, u.first_name, u.last_name
        FROM user_community_stats s
        JOIN users u ON u.id = s.user_id
        WHERE s.community_id = $1 AND u.is_active = true AND u.deleted_at IS NULL
        ORDER BY s.total_xp DESC, s.last_activity_at
        LIMIT $2 OFFSET $3`,
		communityID, limit, offset)
	if err != nil {
		utils.LogError("leaderboard", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch leaderboard"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	rank := offset
	for rows.Next() {
		var memberID uuid.UUID
		var totalXP, level, attended, hosted int
		var username, firstName, lastName string

		if err := rows.Scan(&memberID, &totalXP, &level, &attended, &hosted,
			&username, &firstName, &lastName); err != nil {
			continue
		}
		rank++
		name := strings.TrimSpace(firstName + " " + lastName)
		if name == "" {
			name = username
		}
		results = append(results, fiber.Map{
			"rank":            rank,
			"user_id":         memberID,
			"username":        username,
			"name":            name,
			"total_xp":        totalXP,
			"current_level":   level,
			"events_attended": attended,
			"events_hosted":   hosted,
		})
	}

	response := fiber.Map{
		"count":   len(results),
		"results": results,
		"limit":   limit,
		"offset":  offset,
	}

	var myXP, myLevel int
	err = h.db.QueryRow(ctx, `
        SELECT total_xp, current_level FROM user_community_stats
        WHERE user_id = $1 AND community_id = $2`,
		userID, communityID).Scan(&myXP, &myLevel)
	if err == nil {
		var myRank int
		_ = h.db.QueryRow(ctx, `
            SELECT COUNT(*) + 1 FROM user_community_stats
            WHERE community_id = $1 AND total_xp > $2`,
			communityID, myXP).Scan(&myRank)
		response["me"] = fiber.Map{
			"rank":          myRank,
			"total_xp":      myXP,
			"current_level": myLevel,
		}
	}

	return c.JSON(response)
}

// MyStats godoc
// @Summary Own stats in a community
// @Tags Gamification
// @Security BearerAuth
// @Produce json
// @Param id path string true "Community ID or slug"
// @Success 200 {object} map[string]interface{} "Stats"
// @Router /communities/{id}/stats/me [get]
func (h *GamificationHandler) MyStats(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := resolveCommunityID(ctx, h.db, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	var totalXP, level, attended, hosted int
	var statsJSON []byte
	var lastActivity time.Time
	err = h.db.QueryRow(ctx, `
        SELECT total_xp, current_level, events_attended, events_hosted, stats, last_activity_at
        FROM user_community_stats
        WHERE user_id = $1 AND community_id = $2`,
		userID, communityID).Scan(&totalXP, &level, &attended, &hosted, &statsJSON, &lastActivity)
	if err != nil {
		// No activity yet: everyone starts at level 1 with nothing
		return c.JSON(fiber.Map{
			"community_id":    communityID,
			"total_xp":        0,
			"current_level":   1,
			"events_attended": 0,
			"events_hosted":   0,
			"stats":           json.RawMessage(`{}`),
		})
	}

	return c.JSON(fiber.Map{
		"community_id":     communityID,
		"total_xp":         totalXP,
		"current_level":    level,
		"events_attended":  attended,
		"events_hosted":    hosted,
		"stats":            json.RawMessage(statsJSON),
		"last_activity_at": lastActivity,
	})
}

// MyReputationLog godoc
// @Summary Own reputation history in a community
// @Description Why did I get points? Every XP change links back to its activity.
// @Tags Gamification
// @Security BearerAuth
// @Produce json
// @Param id path string true "Community ID or slug"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{} "Reputation log"
// @Router /communities/{id}/reputation [get]
func (h *GamificationHandler) MyReputationLog(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := resolveCommunityID(ctx, h.db, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	limit := utils.Min(utils.Max(c.QueryInt("limit", 50), 1), 100)
	offset := utils.Max(c.QueryInt("offset", 0), 0)

	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM reputation_logs
        WHERE user_id = $1 AND community_id = $2`,
		userID, communityID).Scan(&total); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch reputation log"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT id, amount, reason, activity_id, created_at
        FROM reputation_logs
        WHERE user_id = $1 AND community_id = $2
        ORDER BY created_at DESC
        LIMIT $3 OFFSET $4`,
		userID, communityID, limit, offset)
	if err != nil {
		utils.LogError("reputation log", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch reputation log"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var logID uuid.UUID
		var amount int
		var reason string
		var activityID *uuid.UUID
		var createdAt time.Time

		if err := rows.Scan(&logID, &amount, &reason, &activityID, &createdAt); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":          logID,
			"amount":      amount,
			"reason":      reason,
			"activity_id": activityID,
			"created_at":  createdAt,
		})
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}
