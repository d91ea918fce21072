package handlers

import (
	"context"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/utils"
)

// DashboardHandler aggregates a user's footprint across events,
// communities, certificates and notifications
type DashboardHandler struct {
	db     database.Database
	redis  *redis.Client
	config *config.Config
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(db database.Database, redis *redis.Client, cfg *config.Config) *DashboardHandler {
	return &DashboardHandler{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// percent rounds part/total to two decimals, with 0 for an empty total
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// Summary godoc
// @Summary Dashboard summary
// @Description One-call overview: event counts, attendance rate, certificates, unread notifications.
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Summary"
// @Router /me/dashboard/summary [get]
func (h *DashboardHandler) Summary(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	var totalRegistrations, eventsAttended, certificates, unread, communities int
	err := h.db.QueryRow(ctx, `
        SELECT
            (SELECT COUNT(*) FROM event_registrations WHERE user_id = $1),
            (SELECT COUNT(DISTINCT r.event_id)
             FROM event_attendance a
             JOIN event_registrations r ON r.id = a.registration_id
             WHERE r.user_id = $1 AND a.check_in IS NOT NULL),
            (SELECT COUNT(*)
             FROM certificates cert
             JOIN event_registrations r ON r.id = cert.registration_id
             WHERE r.user_id = $1),
            (SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false),
            (SELECT COUNT(*) FROM community_memberships WHERE user_id = $1 AND is_active = true)`,
		userID).Scan(&totalRegistrations, &eventsAttended, &certificates, &unread, &communities)
	if err != nil {
		utils.LogError("dashboard summary", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	// Involvement spans organizing, registering and staffing
	var upcoming, ongoing, past int
	err = h.db.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE e.start_time > NOW()),
            COUNT(*) FILTER (WHERE e.start_time <= NOW() AND e.end_time >= NOW()),
            COUNT(*) FILTER (WHERE e.end_time < NOW())
        FROM events e
        WHERE e.organizer_id = $1
           OR EXISTS (SELECT 1 FROM event_registrations r
                      WHERE r.event_id = e.id AND r.user_id = $1)
           OR EXISTS (SELECT 1 FROM event_team_members m
                      WHERE m.event_id = e.id AND m.user_id = $1 AND m.is_active = true)`,
		userID).Scan(&upcoming, &ongoing, &past)
	if err != nil {
		utils.LogError("dashboard event counts", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load dashboard"})
	}

	return c.JSON(fiber.Map{
		"upcoming_events":      upcoming,
		"ongoing_events":       ongoing,
		"past_events":          past,
		"total_registrations":  totalRegistrations,
		"events_attended":      eventsAttended,
		"attendance_rate":      percent(eventsAttended, totalRegistrations),
		"certificates_earned":  certificates,
		"unread_notifications": unread,
		"communities_joined":   communities,
	})
}

// MyEvents godoc
// @Summary Dashboard events
// @Description Events the caller organizes, staffs or registered for, bucketed into upcoming/ongoing/past.
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Bucketed events"
// @Router /me/dashboard/events [get]
func (h *DashboardHandler) MyEvents(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT e.id, e.title, e.start_time, e.end_time, e.community_id,
               (e.organizer_id = $1),
               r.id IS NOT NULL, COALESCE(r.status, ''),
               a.check_in IS NOT NULL, a.check_out IS NOT NULL,
               cert.id IS NOT NULL,
               f.id IS NOT NULL
        FROM events e
        LEFT JOIN event_registrations r ON r.event_id = e.id AND r.user_id = $1
        LEFT JOIN event_attendance a ON a.registration_id = r.id
        LEFT JOIN certificates cert ON cert.registration_id = r.id
        LEFT JOIN event_feedback f ON f.event_id = e.id AND f.user_id = $1
        WHERE e.organizer_id = $1
           OR r.id IS NOT NULL
           OR EXISTS (SELECT 1 FROM event_team_members m
                      WHERE m.event_id = e.id AND m.user_id = $1 AND m.is_active = true)
        ORDER BY e.start_time`,
		userID)
	if err != nil {
		utils.LogError("dashboard events", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load events"})
	}
	defer rows.Close()

	now := time.Now()
	upcoming := []fiber.Map{}
	ongoing := []fiber.Map{}
	past := []fiber.Map{}

	for rows.Next() {
		var eventID uuid.UUID
		var communityID *uuid.UUID
		var title, regStatus string
		var startTime, endTime time.Time
		var isOrganizer, isRegistered, checkedIn, checkedOut, certIssued, feedbackGiven bool

		if err := rows.Scan(&eventID, &title, &startTime, &endTime, &communityID,
			&isOrganizer, &isRegistered, &regStatus,
			&checkedIn, &checkedOut, &certIssued, &feedbackGiven); err != nil {
			continue
		}

		item := fiber.Map{
			"id":            eventID,
			"title":         title,
			"start_time":    startTime,
			"end_time":      endTime,
			"community_id":  communityID,
			"is_organizer":  isOrganizer,
			"is_registered": isRegistered,
			"attendance": fiber.Map{
				"checked_in":  checkedIn,
				"checked_out": checkedOut,
			},
			"certificate_issued": certIssued,
			"feedback_given":     feedbackGiven,
			"can_give_feedback": isRegistered && !feedbackGiven &&
				regStatus != "canceled" && regStatus != "rejected" &&
				!startTime.After(now),
		}
		if isRegistered {
			item["registration_status"] = regStatus
		}

		switch {
		case startTime.After(now):
			upcoming = append(upcoming, item)
		case !endTime.Before(now):
			ongoing = append(ongoing, item)
		default:
			past = append(past, item)
		}
	}

	// Past reads newest first
	for i, j := 0, len(past)-1; i < j; i, j = i+1, j-1 {
		past[i], past[j] = past[j], past[i]
	}

	return c.JSON(fiber.Map{
		"upcoming": upcoming,
		"ongoing":  ongoing,
		"past":     past,
	})
}

// MyCommunities godoc
// @Summary Dashboard communities
// @Description Active memberships with role and upcoming event counts.
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Memberships"
// @Router /me/dashboard/communities [get]
func (h *DashboardHandler) MyCommunities(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT co.id, co.name, co.description, co.slug, m.role, m.is_default,
               (SELECT COUNT(*) FROM events e
                WHERE e.community_id = co.id AND e.status = 'approved' AND e.start_time > NOW())
        FROM community_memberships m
        JOIN communities co ON co.id = m.community_id
        WHERE m.user_id = $1 AND m.is_active = true AND co.is_active = true
        ORDER BY co.name`,
		userID)
	if err != nil {
		utils.LogError("dashboard communities", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load communities"})
	}
	defer rows.Close()

	communities := []fiber.Map{}
	for rows.Next() {
		var communityID uuid.UUID
		var name, description, slug, role string
		var isDefault bool
		var upcomingEvents int

		if err := rows.Scan(&communityID, &name, &description, &slug, &role,
			&isDefault, &upcomingEvents); err != nil {
			continue
		}
		communities = append(communities, fiber.Map{
			"id":              communityID,
			"name":            name,
			"description":     description,
			"slug":            slug,
			"role":            role,
			"is_default":      isDefault,
			"upcoming_events": upcomingEvents,
		})
	}

	return c.JSON(fiber.Map{
		"communities": communities,
		"total":       len(communities),
	})
}

// OrganizerSummary godoc
// @Summary Managed events overview
// @Description Events the caller organizes directly or manages through community roles, with per-event registration and attendance figures.
// @Tags Dashboard
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Managed events"
// @Router /organizer/events/summary [get]
func (h *DashboardHandler) OrganizerSummary(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT e.id, e.title, e.start_time, e.status,
               (SELECT COUNT(*) FROM event_registrations r WHERE r.event_id = e.id),
               (SELECT COUNT(*) FROM event_attendance a
                JOIN event_registrations r2 ON r2.id = a.registration_id
                WHERE r2.event_id = e.id AND a.check_in IS NOT NULL),
               (SELECT COUNT(*) FROM event_feedback f WHERE f.event_id = e.id),
               (SELECT COUNT(*) FROM certificates cert
                JOIN event_registrations r3 ON r3.id = cert.registration_id
                WHERE r3.event_id = e.id)
        FROM events e
        WHERE e.organizer_id = $1
           OR e.community_id IN (SELECT community_id FROM community_memberships
                                 WHERE user_id = $1 AND is_active = true
                                   AND role IN ('owner', 'admin', 'organizer'))
        ORDER BY e.start_time DESC
        LIMIT 100`,
		userID)
	if err != nil {
		utils.LogError("organizer summary", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load managed events"})
	}
	defer rows.Close()

	events := []fiber.Map{}
	for rows.Next() {
		var eventID uuid.UUID
		var title, status string
		var startTime time.Time
		var registrations, attended, feedbackCount, certsIssued int

		if err := rows.Scan(&eventID, &title, &startTime, &status,
			&registrations, &attended, &feedbackCount, &certsIssued); err != nil {
			continue
		}
		events = append(events, fiber.Map{
			"id":                  eventID,
			"title":               title,
			"start_time":          startTime,
			"status":              status,
			"registrations":       registrations,
			"attendance_rate":     percent(attended, registrations),
			"feedback_count":      feedbackCount,
			"certificates_issued": certsIssued,
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"total":  len(events),
	})
}
