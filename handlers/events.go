package handlers

import (
	"context"
	"fmt"
	"sort"
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

// EventsHandler handles event lifecycle and moderation
type EventsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *EventsHandler {
	return &EventsHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// CreateEventRequest represents an event creation request
type CreateEventRequest struct {
	CommunityID     *uuid.UUID `json:"community_id"`
	Title           string     `json:"title" validate:"required,max=255"`
	Description     string     `json:"description" validate:"required"`
	StartTime       time.Time  `json:"start_time" validate:"required"`
	EndTime         time.Time  `json:"end_time" validate:"required"`
	Capacity        int        `json:"capacity"`
	Venue           string     `json:"venue"`
	Banner          string     `json:"banner"`
	IsPublic        *bool      `json:"is_public"`
	EventType       string     `json:"event_type"`
	IsPaid          bool       `json:"is_paid"`
	Price           float64    `json:"price"`
	Currency        string     `json:"currency"`
	WaitlistEnabled bool       `json:"waitlist_enabled"`
	LocationLat     *float64   `json:"location_lat"`
	LocationLng     *float64   `json:"location_lng"`
}

// UpdateEventRequest carries a partial event update
type UpdateEventRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Capacity        *int       `json:"capacity"`
	Venue           *string    `json:"venue"`
	Banner          *string    `json:"banner"`
	IsPublic        *bool      `json:"is_public"`
	EventType       *string    `json:"event_type"`
	IsPaid          *bool      `json:"is_paid"`
	Price           *float64   `json:"price"`
	Currency        *string    `json:"currency"`
	WaitlistEnabled *bool      `json:"waitlist_enabled"`
	LocationLat     *float64   `json:"location_lat"`
	LocationLng     *float64   `json:"location_lng"`
}

// EventActionRequest drives the moderation state machine
type EventActionRequest struct {
	Action string `json:"action" validate:"required,oneof=submit approve reject unpublish redraft"`
	Reason string `json:"reason"`
}

var eventTypes = map[string]bool{"workshop": true, "seminar": true, "fest": true, "other": true}

// validEventTransitions maps each moderation action to its allowed source
// states and the resulting status. The lifecycle: drafts and rejected events
// are submitted for review, reviewers approve or reject pending events (and
// approve drafts directly for their own communities), approved events can be
// unpublished back to review or rejected outright, and rejected events can
// be pulled back to draft for rework.
var validEventTransitions = map[string]map[string]string{
	"submit":    {"draft": "pending", "rejected": "pending"},
	"approve":   {"pending": "approved", "draft": "approved"},
	"reject":    {"pending": "rejected", "approved": "rejected"},
	"unpublish": {"approved": "pending"},
	"redraft":   {"rejected": "draft"},
}

// validateEventAction maps a moderation action against the current status.
// Returns the resulting status or an error naming the allowed states.
func validateEventAction(action, status string) (string, error) {
	sources, ok := validEventTransitions[action]
	if !ok {
		return "", fmt.Errorf("unknown action: %s", action)
	}
	next, ok := sources[status]
	if !ok {
		allowed := make([]string, 0, len(sources))
		for from := range sources {
			allowed = append(allowed, from)
		}
		sort.Strings(allowed)
		return "", fmt.Errorf("cannot %s an event in status %q (allowed: %s)",
			action, status, strings.Join(allowed, ", "))
	}
	return next, nil
}

// CreateEvent godoc
// @Summary Create an event
// @Description Community managers publish directly; everyone else starts in draft
// @Tags Events
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateEventRequest true "Event data"
// @Success 201 {object} map[string]interface{} "Event created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 403 {object} map[string]interface{} "Not a community member"
// @Router /events [post]
func (h *EventsHandler) CreateEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req CreateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Title is required"})
	}
	if strings.TrimSpace(req.Description) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Description is required"})
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return c.Status(400).JSON(fiber.Map{"error": "start_time and end_time are required"})
	}
	if !req.EndTime.After(req.StartTime) {
		return c.Status(400).JSON(fiber.Map{"error": "end_time must be after start_time"})
	}
	if req.EndTime.Before(time.Now()) {
		return c.Status(400).JSON(fiber.Map{"error": "The event cannot end in the past"})
	}
	if req.EventType == "" {
		req.EventType = "other"
	}
	if !eventTypes[req.EventType] {
		return c.Status(400).JSON(fiber.Map{"error": "event_type must be workshop, seminar, fest or other"})
	}
	if req.Capacity < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "capacity cannot be negative"})
	}
	if req.Price < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "price cannot be negative"})
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	ctx := context.Background()

	// Community events need an active membership; participants cannot host
	status := "draft"
	if req.CommunityID != nil {
		role := middleware.CommunityRole(ctx, h.db, userID, *req.CommunityID)
		if role == "" || role == middleware.RoleParticipant {
			if !middleware.IsSuperuser(ctx, h.db, userID) {
				return c.Status(403).JSON(fiber.Map{"error": "Only community members can host events"})
			}
		}
		if middleware.HasCommunityRole(ctx, h.db, userID, *req.CommunityID, middleware.ManagerRoles...) ||
			middleware.IsSuperuser(ctx, h.db, userID) {
			status = "approved"
		}
	} else {
		// Personal events have no review authority above the organizer
		status = "approved"
	}

	var eventID uuid.UUID
	var createdAt time.Time
	err := h.db.QueryRow(ctx, `
        INSERT INTO events (community_id, organizer_id, title, description, start_time, end_time,
                            capacity, venue, banner, is_public, event_type, is_paid, price,
                            currency, waitlist_enabled, location_lat, location_lng, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
        RETURNING id, created_at`,
		req.CommunityID, userID, req.Title, req.Description, req.StartTime, req.EndTime,
		req.Capacity, req.Venue, req.Banner, isPublic, req.EventType, req.IsPaid, req.Price,
		req.Currency, req.WaitlistEnabled, req.LocationLat, req.LocationLng, status,
	).Scan(&eventID, &createdAt)
	if err != nil {
		utils.LogError("event create", err, "title", req.Title)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create event"})
	}

	// Approved-at-birth events hit the ledger and the feed immediately;
	// drafts stay invisible until approval
	if status == "approved" {
		activityID, err := h.activity.Record(ctx, services.Activity{
			ActorID:     userID,
			Verb:        services.VerbEventCreated,
			SubjectType: "event",
			SubjectID:   eventID,
			CommunityID: req.CommunityID,
			Visibility:  services.VisibilityPublic,
		})
		if err != nil {
			utils.LogError("event.created activity", err, "event_id", eventID)
		} else if err := h.activity.PublishEventFeedItem(ctx, eventID, &activityID); err != nil {
			utils.LogError("event feed item", err, "event_id", eventID)
		}
	}

	utils.LogInfo("📅 Event created", "event_id", eventID, "status", status)

	return c.Status(201).JSON(fiber.Map{
		"id":         eventID,
		"title":      req.Title,
		"status":     status,
		"start_time": req.StartTime,
		"end_time":   req.EndTime,
		"created_at": createdAt,
	})
}

// ListEvents godoc
// @Summary List events
// @Description Paged envelope with count/results/limit/offset. Filters: community, scope, mine, registered, status, search, ordering.
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{} "Event list"
// @Router /events [get]
func (h *EventsHandler) ListEvents(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	limit := utils.Min(c.QueryInt("limit", 20), 100)
	if limit < 1 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	where := []string{}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	mine := c.Query("mine") == "true"
	registered := c.Query("registered") == "true"

	switch {
	case mine:
		where = append(where, fmt.Sprintf("e.organizer_id = %s", arg(userID)))
		if status := c.Query("status"); status != "" {
			where = append(where, fmt.Sprintf("e.status = %s", arg(status)))
		}
	case registered:
		where = append(where, fmt.Sprintf(`EXISTS (
            SELECT 1 FROM event_registrations r
            WHERE r.event_id = e.id AND r.user_id = %s AND r.status NOT IN ('canceled', 'rejected')
        )`, arg(userID)))
		where = append(where, "e.status = 'approved'")
	default:
		// Visible events: approved, and either public, own, or in one of
		// the caller's communities
		uid := arg(userID)
		if status := c.Query("status"); status != "" && status != "approved" {
			// Review queues are scoped to a community the caller manages
			communityParam := c.Query("community")
			communityID, err := uuid.Parse(communityParam)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "Filtering by status requires a community"})
			}
			if !middleware.HasCommunityRole(ctx, h.db, userID, communityID, middleware.ManagerRoles...) &&
				!middleware.IsSuperuser(ctx, h.db, userID) {
				return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
			}
			where = append(where, fmt.Sprintf("e.status = %s", arg(status)))
		} else {
			where = append(where, fmt.Sprintf(`e.status = 'approved' AND (
                e.is_public = true
                OR e.organizer_id = %s
                OR EXISTS (
                    SELECT 1 FROM community_memberships m
                    WHERE m.community_id = e.community_id AND m.user_id = %s AND m.is_active = true
                ))`, uid, uid))
		}
	}

	if community := c.Query("community"); community != "" {
		communityID, err := uuid.Parse(community)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid community ID"})
		}
		where = append(where, fmt.Sprintf("e.community_id = %s", arg(communityID)))
	}

	now := time.Now()
	switch c.Query("scope") {
	case "upcoming":
		where = append(where, fmt.Sprintf("e.start_time > %s", arg(now)))
	case "past":
		where = append(where, fmt.Sprintf("e.end_time < %s", arg(now)))
	case "ongoing":
		where = append(where, fmt.Sprintf("e.start_time <= %s AND e.end_time >= %s", arg(now), arg(now)))
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		where = append(where, fmt.Sprintf("e.title ILIKE %s", arg("%"+search+"%")))
	}

	orderBy := "e.start_time ASC"
	switch c.Query("ordering") {
	case "-start_time":
		orderBy = "e.start_time DESC"
	case "created_at":
		orderBy = "e.created_at ASC"
	case "-created_at":
		orderBy = "e.created_at DESC"
	}

	whereSQL := strings.Join(where, " AND ")
	if whereSQL == "" {
		whereSQL = "TRUE"
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events e WHERE %s", whereSQL)
	if err := h.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		utils.LogError("event count", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load events"})
	}

	listQuery := fmt.Sprintf(`
        SELECT e.id, e.community_id, co.name, co.slug, e.organizer_id, u.username,
               e.title, e.description, e.start_time, e.end_time, e.capacity, e.venue,
               e.banner, e.is_public, e.event_type, e.is_paid, e.price, e.currency,
               e.waitlist_enabled, e.status, e.created_at,
               (SELECT COALESCE(SUM(1 + r.guests_count), 0) FROM event_registrations r
                WHERE r.event_id = e.id AND r.status NOT IN ('canceled', 'rejected'))
        FROM events e
        LEFT JOIN communities co ON co.id = e.community_id
        JOIN users u ON u.id = e.organizer_id
        WHERE %s
        ORDER BY %s
        LIMIT %s OFFSET %s`,
		whereSQL, orderBy, arg(limit), arg(offset))

	rows, err := h.db.Query(ctx, listQuery, args...)
	if err != nil {
		utils.LogError("event list", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load events"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var id, organizerID uuid.UUID
		var communityID *uuid.UUID
		var communityName, communitySlug, venue, banner *string
		var organizerUsername, title, description, eventType, currency, status string
		var startTime, endTime, createdAt time.Time
		var capacity int
		var isPublic, isPaid, waitlistEnabled bool
		var price float64
		var headcount int64

		if err := rows.Scan(&id, &communityID, &communityName, &communitySlug, &organizerID,
			&organizerUsername, &title, &description, &startTime, &endTime, &capacity,
			&venue, &banner, &isPublic, &eventType, &isPaid, &price, &currency,
			&waitlistEnabled, &status, &createdAt, &headcount); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":                 id,
			"community_id":       communityID,
			"community_name":     communityName,
			"community_slug":     communitySlug,
			"organizer_id":       organizerID,
			"organizer_username": organizerUsername,
			"title":              title,
			"description":        description,
			"start_time":         startTime,
			"end_time":           endTime,
			"capacity":           capacity,
			"venue":              venue,
			"banner":             banner,
			"is_public":          isPublic,
			"event_type":         eventType,
			"is_paid":            isPaid,
			"price":              price,
			"currency":           currency,
			"waitlist_enabled":   waitlistEnabled,
			"status":             status,
			"created_at":         createdAt,
			"registered_count":   headcount,
		})
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetEvent returns one event. Unapproved events 404 for everyone but
// the organizer and managers.
func (h *EventsHandler) GetEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var communityID *uuid.UUID
	var communityName, communitySlug, venue, banner *string
	var organizerID uuid.UUID
	var organizerUsername, title, description, eventType, currency, status string
	var startTime, endTime, createdAt time.Time
	var capacity int
	var isPublic, isPaid, waitlistEnabled bool
	var price float64
	var locationLat, locationLng *float64

	err = h.db.QueryRow(ctx, `
        SELECT e.community_id, co.name, co.slug, e.organizer_id, u.username,
               e.title, e.description, e.start_time, e.end_time, e.capacity, e.venue,
               e.banner, e.is_public, e.event_type, e.is_paid, e.price, e.currency,
               e.waitlist_enabled, e.location_lat, e.location_lng, e.status, e.created_at
        FROM events e
        LEFT JOIN communities co ON co.id = e.community_id
        JOIN users u ON u.id = e.organizer_id
        WHERE e.id = $1`,
		eventID,
	).Scan(&communityID, &communityName, &communitySlug, &organizerID, &organizerUsername,
		&title, &description, &startTime, &endTime, &capacity, &venue,
		&banner, &isPublic, &eventType, &isPaid, &price, &currency,
		&waitlistEnabled, &locationLat, &locationLng, &status, &createdAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	canManage := middleware.CanManageEvent(ctx, h.db, userID, eventID)
	if status != "approved" && !canManage {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if status == "approved" && !isPublic && !canManage {
		isMember := communityID != nil && middleware.CommunityRole(ctx, h.db, userID, *communityID) != ""
		if !isMember {
			return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
		}
	}

	var headcount int64
	var attendedCount int64
	_ = h.db.QueryRow(ctx, `
        SELECT COALESCE(SUM(1 + guests_count), 0),
               COUNT(*) FILTER (WHERE status = 'attended')
        FROM event_registrations
        WHERE event_id = $1 AND status NOT IN ('canceled', 'rejected')`,
		eventID).Scan(&headcount, &attendedCount)

	response := fiber.Map{
		"id":                 eventID,
		"community_id":       communityID,
		"community_name":     communityName,
		"community_slug":     communitySlug,
		"organizer_id":       organizerID,
		"organizer_username": organizerUsername,
		"title":              title,
		"description":        description,
		"start_time":         startTime,
		"end_time":           endTime,
		"capacity":           capacity,
		"venue":              venue,
		"banner":             banner,
		"is_public":          isPublic,
		"event_type":         eventType,
		"is_paid":            isPaid,
		"price":              price,
		"currency":           currency,
		"waitlist_enabled":   waitlistEnabled,
		"location_lat":       locationLat,
		"location_lng":       locationLng,
		"status":             status,
		"created_at":         createdAt,
		"registered_count":   headcount,
		"attended_count":     attendedCount,
		"can_manage":         canManage,
	}

	var regID uuid.UUID
	var regStatus string
	err = h.db.QueryRow(ctx, `
        SELECT id, status FROM event_registrations
        WHERE event_id = $1 AND user_id = $2`,
		eventID, userID).Scan(&regID, &regStatus)
	if err == nil {
		response["my_registration"] = fiber.Map{"id": regID, "status": regStatus}
	}

	return c.JSON(response)
}

// UpdateEvent applies a partial update. Organizer or community managers.
func (h *EventsHandler) UpdateEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req UpdateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	var curStart, curEnd time.Time
	var curStatus string
	if err := h.db.QueryRow(ctx, `SELECT start_time, end_time, status FROM events WHERE id = $1`, eventID).
		Scan(&curStart, &curEnd, &curStatus); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	newStart, newEnd := curStart, curEnd
	if req.StartTime != nil {
		newStart = *req.StartTime
	}
	if req.EndTime != nil {
		newEnd = *req.EndTime
	}
	if !newEnd.After(newStart) {
		return c.Status(400).JSON(fiber.Map{"error": "end_time must be after start_time"})
	}

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return c.Status(400).JSON(fiber.Map{"error": "Title cannot be empty"})
		}
		add("title", title)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.StartTime != nil {
		add("start_time", *req.StartTime)
	}
	if req.EndTime != nil {
		add("end_time", *req.EndTime)
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return c.Status(400).JSON(fiber.Map{"error": "capacity cannot be negative"})
		}
		add("capacity", *req.Capacity)
	}
	if req.Venue != nil {
		add("venue", *req.Venue)
	}
	if req.Banner != nil {
		add("banner", *req.Banner)
	}
	if req.IsPublic != nil {
		add("is_public", *req.IsPublic)
	}
	if req.EventType != nil {
		if !eventTypes[*req.EventType] {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid event_type"})
		}
		add("event_type", *req.EventType)
	}
	if req.IsPaid != nil {
		add("is_paid", *req.IsPaid)
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return c.Status(400).JSON(fiber.Map{"error": "price cannot be negative"})
		}
		add("price", *req.Price)
	}
	if req.Currency != nil {
		add("currency", *req.Currency)
	}
	if req.WaitlistEnabled != nil {
		add("waitlist_enabled", *req.WaitlistEnabled)
	}
	if req.LocationLat != nil {
		add("location_lat", *req.LocationLat)
	}
	if req.LocationLng != nil {
		add("location_lng", *req.LocationLng)
	}
	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	args = append(args, eventID)
	query := fmt.Sprintf(`UPDATE events SET %s WHERE id = $%d`, strings.Join(setParts, ", "), len(args))
	if _, err := h.db.Exec(ctx, query, args...); err != nil {
		utils.LogError("event update", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update event"})
	}

	// Schedule or venue changes on a live event reach every registrant
	scheduleChanged := (req.StartTime != nil && !req.StartTime.Equal(curStart)) ||
		(req.EndTime != nil && !req.EndTime.Equal(curEnd)) ||
		req.Venue != nil
	if curStatus == "approved" && scheduleChanged {
		if err := h.activity.NotifyEventRegistrants(ctx, eventID, "event",
			"Event details changed",
			"An event you registered for has updated its schedule or venue. Check the latest details."); err != nil {
			utils.LogError("event update notify", err, "event_id", eventID)
		}
	}

	return c.JSON(fiber.Map{"message": "Event updated"})
}

// DeleteEvent removes an event that has no registrations
func (h *EventsHandler) DeleteEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var registrations int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM event_registrations
        WHERE event_id = $1 AND status NOT IN ('canceled', 'rejected')`,
		eventID).Scan(&registrations); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete event"})
	}
	if registrations > 0 {
		return c.Status(409).JSON(fiber.Map{"error": "Events with active registrations cannot be deleted. Unpublish it instead."})
	}

	tag, err := h.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete event"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	utils.LogInfo("🗑️ Event deleted", "event_id", eventID)
	return c.JSON(fiber.Map{"message": "Event deleted"})
}

// EventAction godoc
// @Summary Run a moderation action
// @Description submit, approve, reject or unpublish an event
// @Tags Events
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body EventActionRequest true "Action"
// @Success 200 {object} map[string]interface{} "New status"
// @Failure 400 {object} map[string]interface{} "Action not valid for current status"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/action [post]
func (h *EventsHandler) EventAction(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req EventActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	ctx := context.Background()

	var organizerID uuid.UUID
	var communityID *uuid.UUID
	var status, title string
	err = h.db.QueryRow(ctx, `
        SELECT organizer_id, community_id, status, title FROM events WHERE id = $1`,
		eventID).Scan(&organizerID, &communityID, &status, &title)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	newStatus, err := validateEventAction(req.Action, status)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	isSuper := middleware.IsSuperuser(ctx, h.db, userID)
	isCommunityManager := communityID != nil &&
		middleware.HasCommunityRole(ctx, h.db, userID, *communityID, middleware.ManagerRoles...)

	switch req.Action {
	case "submit", "redraft":
		if userID != organizerID && !isCommunityManager && !isSuper {
			return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
		}
	case "approve", "reject":
		// Review is reserved for the community hierarchy. Personal events
		// have no hierarchy above the organizer.
		reviewer := isCommunityManager || isSuper || (communityID == nil && userID == organizerID)
		if !reviewer {
			return c.Status(403).JSON(fiber.Map{"error": "Only community managers can review events"})
		}
	case "unpublish":
		if userID != organizerID && !isCommunityManager && !isSuper {
			return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
		}
	}

	if _, err := h.db.Exec(ctx, `UPDATE events SET status = $1 WHERE id = $2`, newStatus, eventID); err != nil {
		utils.LogError("event status change", err, "event_id", eventID, "action", req.Action)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update event status"})
	}

	switch req.Action {
	case "submit":
		if _, err := h.activity.Record(ctx, services.Activity{
			ActorID:     userID,
			Verb:        services.VerbEventSubmitted,
			SubjectType: "event",
			SubjectID:   eventID,
			CommunityID: communityID,
			Visibility:  services.VisibilityPrivate,
		}); err != nil {
			utils.LogError("event.submitted activity", err, "event_id", eventID)
		}

	case "approve":
		// The hosting XP lands exactly once per event, on its first approval
		var alreadyPublished bool
		_ = h.db.QueryRow(ctx, `
            SELECT EXISTS (
                SELECT 1 FROM activities
                WHERE subject_type = 'event' AND subject_id = $1
                  AND verb IN ($2, $3)
            )`, eventID, services.VerbEventCreated, services.VerbEventPublished).Scan(&alreadyPublished)

		var activityID uuid.UUID
		var recordErr error
		if alreadyPublished {
			activityID, recordErr = h.activity.Record(ctx, services.Activity{
				ActorID:     userID,
				Verb:        services.VerbEventApproved,
				SubjectType: "event",
				SubjectID:   eventID,
				CommunityID: communityID,
			})
		} else {
			activityID, recordErr = h.activity.Record(ctx, services.Activity{
				ActorID:     organizerID,
				Verb:        services.VerbEventPublished,
				SubjectType: "event",
				SubjectID:   eventID,
				CommunityID: communityID,
				Visibility:  services.VisibilityPublic,
				Metadata:    map[string]interface{}{"approved_by": userID.String()},
			})
		}
		if recordErr != nil {
			utils.LogError("event approval activity", recordErr, "event_id", eventID)
		} else if err := h.activity.PublishEventFeedItem(ctx, eventID, &activityID); err != nil {
			utils.LogError("event feed item", err, "event_id", eventID)
		}
		_ = h.activity.Notify(ctx, organizerID, "event",
			"Event approved",
			fmt.Sprintf("Your event %q has been approved and is now live.", title), &eventID)

	case "reject":
		if _, err := h.activity.Record(ctx, services.Activity{
			ActorID:     userID,
			Verb:        services.VerbEventRejected,
			SubjectType: "event",
			SubjectID:   eventID,
			CommunityID: communityID,
			Visibility:  services.VisibilityPrivate,
			Metadata:    map[string]interface{}{"reason": req.Reason},
		}); err != nil {
			utils.LogError("event.rejected activity", err, "event_id", eventID)
		}
		body := fmt.Sprintf("Your event %q was not approved.", title)
		if req.Reason != "" {
			body = fmt.Sprintf("Your event %q was not approved: %s", title, req.Reason)
		}
		_ = h.activity.Notify(ctx, organizerID, "event", "Event rejected", body, &eventID)
	}

	utils.LogInfo("🔁 Event status changed", "event_id", eventID, "from", status, "to", newStatus)

	return c.JSON(fiber.Map{"id": eventID, "status": newStatus})
}
