package handlers

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/middleware"
	"cos-backend/utils"
)

// AnalyticsHandler serves aggregate numbers for event and community managers
type AnalyticsHandler struct {
	db     database.Database
	redis  *redis.Client
	config *config.Config
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(db database.Database, redis *redis.Client, cfg *config.Config) *AnalyticsHandler {
	return &AnalyticsHandler{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// EventAnalytics godoc
// @Summary Event analytics
// @Description Registration funnel, attendance, certificates, feedback and scan outcomes for one event.
// @Tags Analytics
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Analytics"
// @Failure 403 {object} map[string]interface{} "Not an editor"
// @Failure 404 {object} map[string]interface{} "Event not found"
// @Router /events/{id}/analytics [get]
func (h *AnalyticsHandler) EventAnalytics(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	var title string
	var communityID *uuid.UUID
	var capacity int
	err = h.db.QueryRow(ctx, `
        SELECT title, community_id, capacity FROM events WHERE id = $1`,
		eventID).Scan(&title, &communityID, &capacity)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var totalRegs, totalGuests, soloCount, groupCount int
	err = h.db.QueryRow(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(guests_count), 0),
               COUNT(*) FILTER (WHERE guests_count = 0),
               COUNT(*) FILTER (WHERE guests_count > 0)
        FROM event_registrations WHERE event_id = $1`,
		eventID).Scan(&totalRegs, &totalGuests, &soloCount, &groupCount)
	if err != nil {
		utils.LogError("event analytics registrations", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute analytics"})
	}

	avgGuests := float64(0)
	if totalRegs > 0 {
		avgGuests = math.Round(float64(totalGuests)/float64(totalRegs)*100) / 100
	}

	var checkedIn, checkedOut int
	err = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FILTER (WHERE a.check_in IS NOT NULL),
               COUNT(*) FILTER (WHERE a.check_out IS NOT NULL)
        FROM event_attendance a
        JOIN event_registrations r ON r.id = a.registration_id
        WHERE r.event_id = $1`,
		eventID).Scan(&checkedIn, &checkedOut)
	if err != nil {
		utils.LogError("event analytics attendance", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute analytics"})
	}

	attendanceRate := percent(checkedIn, totalRegs)
	noShowRate := float64(0)
	if totalRegs > 0 {
		noShowRate = percent(totalRegs-checkedIn, totalRegs)
	}

	var certCount int
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM certificates cert
        JOIN event_registrations r ON r.id = cert.registration_id
        WHERE r.event_id = $1`,
		eventID).Scan(&certCount)

	var feedbackCount int
	var avgRating *float64
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*), ROUND(AVG(rating)::numeric, 2)
        FROM event_feedback WHERE event_id = $1`,
		eventID).Scan(&feedbackCount, &avgRating)

	// Every star gets a bucket even when nobody picked it
	distribution := fiber.Map{}
	for star := 1; star <= 5; star++ {
		distribution[strconv.Itoa(star)] = 0
	}
	if rows, err := h.db.Query(ctx, `
        SELECT rating, COUNT(*) FROM event_feedback
        WHERE event_id = $1 GROUP BY rating`,
		eventID); err == nil {
		for rows.Next() {
			var rating, count int
			if err := rows.Scan(&rating, &count); err == nil {
				distribution[strconv.Itoa(rating)] = count
			}
		}
		rows.Close()
	}

	timeline := []fiber.Map{}
	if rows, err := h.db.Query(ctx, `
        SELECT DATE(registered_at), COUNT(*)
        FROM event_registrations
        WHERE event_id = $1
        GROUP BY DATE(registered_at)
        ORDER BY DATE(registered_at)`,
		eventID); err == nil {
		for rows.Next() {
			var day time.Time
			var count int
			if err := rows.Scan(&day, &count); err == nil {
				timeline = append(timeline, fiber.Map{
					"date":  day.Format("2006-01-02"),
					"count": count,
				})
			}
		}
		rows.Close()
	}

	scans := fiber.Map{}
	if rows, err := h.db.Query(ctx, `
        SELECT action, COUNT(*) FROM scan_logs
        WHERE event_id = $1 GROUP BY action`,
		eventID); err == nil {
		for rows.Next() {
			var action string
			var count int
			if err := rows.Scan(&action, &count); err == nil {
				scans[action] = count
			}
		}
		rows.Close()
	}

	return c.JSON(fiber.Map{
		"event": title,
		"event_info": fiber.Map{
			"id":           eventID,
			"title":        title,
			"community_id": communityID,
			"capacity":     capacity,
		},
		"registrations": fiber.Map{
			"total":                      totalRegs,
			"total_guests":               totalGuests,
			"total_headcount":            totalRegs + totalGuests,
			"avg_guests_per_registration": avgGuests,
			"solo_count":                 soloCount,
			"group_count":                groupCount,
			"timeline":                   timeline,
		},
		"attendance": fiber.Map{
			"total_attended":  checkedIn,
			"checked_in":      checkedIn,
			"checked_out":     checkedOut,
			"attendance_rate": attendanceRate,
			"no_show_rate":    noShowRate,
			"conversion_rate": attendanceRate,
		},
		"certificates": fiber.Map{
			"issued":        certCount,
			"issuance_rate": percent(certCount, totalRegs),
		},
		"feedback": fiber.Map{
			"count":               feedbackCount,
			"avg_rating":          avgRating,
			"rating_distribution": distribution,
		},
		"scans": scans,
	})
}

// CommunityAnalytics godoc
// @Summary Community analytics
// @Description High-level event and membership figures for community managers.
// @Tags Analytics
// @Security BearerAuth
// @Produce json
// @Param id path string true "Community ID or slug"
// @Success 200 {object} map[string]interface{} "Analytics"
// @Failure 403 {object} map[string]interface{} "Not a manager"
// @Router /communities/{id}/analytics [get]
func (h *AnalyticsHandler) CommunityAnalytics(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	communityID, err := resolveCommunityID(ctx, h.db, c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
	}

	if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
		!middleware.IsSuperuser(ctx, h.db, userID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var totalEvents, upcomingEvents, pastEvents int
	err = h.db.QueryRow(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE start_time >= NOW()),
               COUNT(*) FILTER (WHERE end_time < NOW())
        FROM events WHERE community_id = $1`,
		communityID).Scan(&totalEvents, &upcomingEvents, &pastEvents)
	if err != nil {
		utils.LogError("community analytics events", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute analytics"})
	}

	var totalRegistrations, activeMembers int
	err = h.db.QueryRow(ctx, `
        SELECT
            (SELECT COUNT(*) FROM event_registrations r
             JOIN events e ON e.id = r.event_id
             WHERE e.community_id = $1),
            (SELECT COUNT(*) FROM community_memberships
             WHERE community_id = $1 AND is_active = true)`,
		communityID).Scan(&totalRegistrations, &activeMembers)
	if err != nil {
		utils.LogError("community analytics members", err, "community_id", communityID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute analytics"})
	}

	var totalFeedback int
	var avgRating *float64
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*), ROUND(AVG(f.rating)::numeric, 2)
        FROM event_feedback f
        JOIN events e ON e.id = f.event_id
        WHERE e.community_id = $1`,
		communityID).Scan(&totalFeedback, &avgRating)

	return c.JSON(fiber.Map{
		"community_id": communityID,
		"stats": fiber.Map{
			"total_events":        totalEvents,
			"upcoming_events":     upcomingEvents,
			"past_events":         pastEvents,
			"total_registrations": totalRegistrations,
			"active_members":      activeMembers,
			"average_rating":      avgRating,
			"total_feedback":      totalFeedback,
		},
	})
}

// OrganizerTrends godoc
// @Summary Registration trends for my events
// @Description Daily registration counts over the last 30 days for events the caller organizes.
// @Tags Analytics
// @Security BearerAuth
// @Produce json
// @Param community_id query string false "Limit to one community"
// @Success 200 {array} map[string]interface{} "Daily counts"
// @Router /organizer/trends [get]
func (h *AnalyticsHandler) OrganizerTrends(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	query := `
        SELECT DATE(r.registered_at), COUNT(*)
        FROM event_registrations r
        JOIN events e ON e.id = r.event_id
        WHERE e.organizer_id = $1 AND r.registered_at >= NOW() - INTERVAL '30 days'`
	args := []interface{}{userID}

	if raw := c.Query("community_id"); raw != "" {
		communityID, err := resolveCommunityID(ctx, h.db, raw)
		if err != nil {
			return c.Status(404).JSON(fiber.Map{"error": "Community not found"})
		}
		args = append(args, communityID)
		query += ` AND e.community_id = $2`
	}
	query += `
        GROUP BY DATE(r.registered_at)
        ORDER BY DATE(r.registered_at)`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		utils.LogError("organizer trends", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to compute trends"})
	}
	defer rows.Close()

	trends := []fiber.Map{}
	for rows.Next() {
		var day time.Time
		var count int
		if err := rows.Scan(&day, &count); err == nil {
			trends = append(trends, fiber.Map{
				"date":  day.Format("2006-01-02"),
				"count": count,
			})
		}
	}

	return c.JSON(trends)
}
