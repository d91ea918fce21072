package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
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
	"cos-backend/metrics"
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

// RegistrationsHandler handles event registrations, exports and status
// management
type RegistrationsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
	jobs     *river.Client[pgx.Tx]
}

// NewRegistrationsHandler creates a new registrations handler
func NewRegistrationsHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService, jobClient *river.Client[pgx.Tx]) *RegistrationsHandler {
	return &RegistrationsHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
		jobs:     jobClient,
	}
}

// RegisterEventRequest represents a registration request
type RegisterEventRequest struct {
	GuestsCount     int             `json:"guests_count"`
	CustomResponses json.RawMessage `json:"custom_responses"`
}

// UpdateRegistrationStatusRequest changes a registration's status
type UpdateRegistrationStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved waitlisted rejected"`
}

const maxGuestsPerRegistration = 10

var settableRegistrationStatuses = map[string]bool{
	"pending": true, "approved": true, "waitlisted": true, "rejected": true,
}

func (h *RegistrationsHandler) eventURL(eventID uuid.UUID) string {
	return fmt.Sprintf("%s/events/%s", strings.TrimRight(h.config.SiteURL, "/"), eventID)
}

// RegisterForEvent godoc
// @Summary Register for an event
// @Description Capacity counts the registrant plus guests, checked under a row lock
// @Tags Registrations
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body RegisterEventRequest true "Registration data"
// @Success 201 {object} map[string]interface{} "Registered"
// @Failure 409 {object} map[string]interface{} "Already registered or event full"
// @Router /events/{id}/register [post]
func (h *RegistrationsHandler) RegisterForEvent(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req RegisterEventRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if req.GuestsCount < 0 || req.GuestsCount > maxGuestsPerRegistration {
		return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("guests_count must be between 0 and %d", maxGuestsPerRegistration)})
	}
	customResponses := req.CustomResponses
	if len(customResponses) == 0 {
		customResponses = json.RawMessage("{}")
	}

	ctx := context.Background()

	var communityID *uuid.UUID
	var eventStatus, title string
	var venue *string
	var isPublic bool
	var startTime, endTime time.Time
	err = h.db.QueryRow(ctx, `
        SELECT community_id, status, title, venue, is_public, start_time, end_time
        FROM events WHERE id = $1`,
		eventID).Scan(&communityID, &eventStatus, &title, &venue, &isPublic, &startTime, &endTime)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if eventStatus != "approved" {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if time.Now().After(endTime) {
		return c.Status(400).JSON(fiber.Map{"error": "This event has already ended"})
	}
	if !isPublic {
		isMember := communityID != nil && middleware.CommunityRole(ctx, h.db, userID, *communityID) != ""
		if !isMember && !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
			return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
		}
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the event row so concurrent registrations serialize on capacity
	var capacity int
	var waitlistEnabled, isPaid bool
	err = tx.QueryRow(ctx, `
        SELECT capacity, waitlist_enabled, is_paid
        FROM events WHERE id = $1
        FOR UPDATE`,
		eventID).Scan(&capacity, &waitlistEnabled, &isPaid)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	var existingID uuid.UUID
	var existingStatus string
	err = tx.QueryRow(ctx, `
        SELECT id, status FROM event_registrations
        WHERE user_id = $1 AND event_id = $2`,
		userID, eventID).Scan(&existingID, &existingStatus)
	rejoining := false
	if err == nil {
		if existingStatus != "canceled" {
			return c.Status(409).JSON(fiber.Map{
				"error":           "Already registered for this event",
				"registration_id": existingID,
				"status":          existingStatus,
			})
		}
		rejoining = true
	}

	status := "approved"
	paymentStatus := "skipped"
	if isPaid {
		status = "pending"
		paymentStatus = "pending"
	}

	// Waitlisted rows never consume capacity
	if capacity > 0 {
		var headcount int64
		if err := tx.QueryRow(ctx, `
            SELECT COALESCE(SUM(1 + guests_count), 0)
            FROM event_registrations
            WHERE event_id = $1 AND status IN ('pending', 'approved', 'attended')`,
			eventID).Scan(&headcount); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
		}
		if headcount+int64(1+req.GuestsCount) > int64(capacity) {
			if !waitlistEnabled {
				return c.Status(409).JSON(fiber.Map{"error": "Event is full"})
			}
			status = "waitlisted"
			if isPaid {
				paymentStatus = "pending"
			}
		}
	}

	// Snapshot the profile so later edits never rewrite history
	var snapInstitution, snapDegree, snapDietary, snapTshirt, snapContact, snapPhone *string
	var snapGradYear *int
	snapSkills := []byte("[]")
	var allowAutofill bool
	if err := tx.QueryRow(ctx, `
        SELECT allow_profile_autofill, institution, degree, graduation_year, skills,
               dietary_preferences, tshirt_size, emergency_contact_name, emergency_contact_phone
        FROM users WHERE id = $1`,
		userID).Scan(&allowAutofill, &snapInstitution, &snapDegree, &snapGradYear, &snapSkills,
		&snapDietary, &snapTshirt, &snapContact, &snapPhone); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}
	if !allowAutofill {
		snapInstitution, snapDegree, snapGradYear = nil, nil, nil
		snapSkills = []byte("[]")
		snapDietary, snapTshirt, snapContact, snapPhone = nil, nil, nil, nil
	}

	var registrationID uuid.UUID
	if rejoining {
		registrationID = existingID
		_, err = tx.Exec(ctx, `
            UPDATE event_registrations
            SET status = $1, payment_status = $2, guests_count = $3, registered_at = NOW(),
                custom_responses = $4,
                snapshot_institution = $5, snapshot_degree = $6, snapshot_graduation_year = $7,
                snapshot_skills = $8, snapshot_dietary = $9, snapshot_tshirt_size = $10,
                snapshot_emergency_contact = $11, snapshot_emergency_phone = $12
            WHERE id = $13`,
			status, paymentStatus, req.GuestsCount, []byte(customResponses),
			snapInstitution, snapDegree, snapGradYear, snapSkills, snapDietary,
			snapTshirt, snapContact, snapPhone, existingID)
	} else {
		err = tx.QueryRow(ctx, `
            INSERT INTO event_registrations
                (user_id, event_id, status, payment_status, guests_count, custom_responses,
                 snapshot_institution, snapshot_degree, snapshot_graduation_year, snapshot_skills,
                 snapshot_dietary, snapshot_tshirt_size, snapshot_emergency_contact, snapshot_emergency_phone)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
            RETURNING id`,
			userID, eventID, status, paymentStatus, req.GuestsCount, []byte(customResponses),
			snapInstitution, snapDegree, snapGradYear, snapSkills, snapDietary,
			snapTshirt, snapContact, snapPhone).Scan(&registrationID)
	}
	if err != nil {
		utils.LogError("registration insert", err, "event_id", eventID, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	// Every registration gets its QR attendance row up front
	if _, err := tx.Exec(ctx, `
        INSERT INTO event_attendance (registration_id)
        VALUES ($1)
        ON CONFLICT (registration_id) DO NOTHING`,
		registrationID); err != nil {
		utils.LogError("attendance row create", err, "registration_id", registrationID)
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Registration failed"})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbEventRegistered,
		SubjectType: "event",
		SubjectID:   eventID,
		CommunityID: communityID,
		Visibility:  services.VisibilityPrivate,
		Metadata:    map[string]interface{}{"guests": req.GuestsCount},
	}); err != nil {
		utils.LogError("event.registered activity", err, "event_id", eventID)
	}

	var username, email string
	if err := h.db.QueryRow(ctx, `SELECT username, email FROM users WHERE id = $1`, userID).Scan(&username, &email); err == nil {
		venueStr := ""
		if venue != nil {
			venueStr = *venue
		}
		jobs.EnqueueEmail(ctx, h.jobs, email, "registration_confirmation", services.RegistrationEmailData{
			Username:   username,
			EventTitle: title,
			Venue:      venueStr,
			StartTime:  startTime,
			EventURL:   h.eventURL(eventID),
		})
	}

	metrics.IncrementRegistrationOperation("register")
	utils.LogInfo("🎟️ Registration created", "event_id", eventID, "user_id", userID, "status", status)

	return c.Status(201).JSON(fiber.Map{
		"id":             registrationID,
		"event_id":       eventID,
		"status":         status,
		"payment_status": paymentStatus,
		"guests_count":   req.GuestsCount,
	})
}

// CancelRegistration cancels the caller's registration and promotes the
// oldest waitlisted registrant when a seat frees up
func (h *RegistrationsHandler) CancelRegistration(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var registrationID uuid.UUID
	var status string
	err = h.db.QueryRow(ctx, `
        SELECT id, status FROM event_registrations
        WHERE user_id = $1 AND event_id = $2`,
		userID, eventID).Scan(&registrationID, &status)
	if err != nil || status == "canceled" {
		return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
	}
	if status == "attended" {
		return c.Status(400).JSON(fiber.Map{"error": "Checked-in registrations cannot be canceled"})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE event_registrations SET status = 'canceled' WHERE id = $1`,
		registrationID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to cancel registration"})
	}

	var communityID *uuid.UUID
	_ = h.db.QueryRow(ctx, `SELECT community_id FROM events WHERE id = $1`, eventID).Scan(&communityID)
	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbRegistrationGone,
		SubjectType: "event",
		SubjectID:   eventID,
		CommunityID: communityID,
		Visibility:  services.VisibilityPrivate,
	}); err != nil {
		utils.LogError("registration.canceled activity", err, "event_id", eventID)
	}

	h.promoteFromWaitlist(ctx, eventID)
	metrics.IncrementRegistrationOperation("cancel")

	return c.JSON(fiber.Map{"message": "Registration canceled"})
}

// promoteFromWaitlist moves the oldest waitlisted registrant into the
// freed capacity. Runs after cancellations and rejections.
func (h *RegistrationsHandler) promoteFromWaitlist(ctx context.Context, eventID uuid.UUID) {
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var capacity int
	var waitlistEnabled, isPaid bool
	if err := tx.QueryRow(ctx, `
        SELECT capacity, waitlist_enabled, is_paid FROM events WHERE id = $1 FOR UPDATE`,
		eventID).Scan(&capacity, &waitlistEnabled, &isPaid); err != nil {
		return
	}
	if !waitlistEnabled || capacity <= 0 {
		return
	}

	var headcount int64
	if err := tx.QueryRow(ctx, `
        SELECT COALESCE(SUM(1 + guests_count), 0)
        FROM event_registrations
        WHERE event_id = $1 AND status IN ('pending', 'approved', 'attended')`,
		eventID).Scan(&headcount); err != nil {
		return
	}

	var candidateID, candidateUser uuid.UUID
	var candidateGuests int
	err = tx.QueryRow(ctx, `
        SELECT id, user_id, guests_count FROM event_registrations
        WHERE event_id = $1 AND status = 'waitlisted'
        ORDER BY registered_at ASC
        LIMIT 1`,
		eventID).Scan(&candidateID, &candidateUser, &candidateGuests)
	if err != nil {
		return
	}
	if headcount+int64(1+candidateGuests) > int64(capacity) {
		return
	}

	newStatus := "approved"
	if isPaid {
		newStatus = "pending"
	}
	if _, err := tx.Exec(ctx, `
        UPDATE event_registrations SET status = $1 WHERE id = $2`,
		newStatus, candidateID); err != nil {
		return
	}
	if err := tx.Commit(ctx); err != nil {
		return
	}

	_ = h.activity.Notify(ctx, candidateUser, "event",
		"You're off the waitlist",
		"A spot opened up and your registration has been confirmed.", &eventID)
	utils.LogInfo("📈 Waitlist promotion", "event_id", eventID, "registration_id", candidateID)
}

// GetMyRegistration is a cheap probe for the caller's own status
func (h *RegistrationsHandler) GetMyRegistration(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var registrationID uuid.UUID
	var status, paymentStatus string
	var guests int
	var registeredAt time.Time
	var checkIn *time.Time
	err = h.db.QueryRow(ctx, `
        SELECT r.id, r.status, r.payment_status, r.guests_count, r.registered_at, a.check_in
        FROM event_registrations r
        LEFT JOIN event_attendance a ON a.registration_id = r.id
        WHERE r.user_id = $1 AND r.event_id = $2`,
		userID, eventID).Scan(&registrationID, &status, &paymentStatus, &guests, &registeredAt, &checkIn)
	if err != nil || status == "canceled" {
		return c.JSON(fiber.Map{"registered": false})
	}

	return c.JSON(fiber.Map{
		"registered": true,
		"registration": fiber.Map{
			"id":             registrationID,
			"status":         status,
			"payment_status": paymentStatus,
			"guests_count":   guests,
			"registered_at":  registeredAt,
			"checked_in":     checkIn != nil,
			"check_in":       checkIn,
		},
	})
}

// ListRegistrations lists an event's registrations. Managers only.
func (h *RegistrationsHandler) ListRegistrations(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	limit := utils.Min(c.QueryInt("limit", 50), 100)
	if limit < 1 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	statusFilter := c.Query("status", "all")

	var total int
	if err := h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM event_registrations
        WHERE event_id = $1 AND ($2 = 'all' OR status = $2)`,
		eventID, statusFilter).Scan(&total); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load registrations"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT r.id, r.user_id, u.username, u.email, u.first_name, u.last_name,
               r.status, r.payment_status, r.guests_count, r.registered_at,
               r.snapshot_institution, r.snapshot_degree, r.snapshot_graduation_year,
               r.snapshot_dietary, r.snapshot_tshirt_size, r.custom_responses,
               a.check_in, a.qr_code
        FROM event_registrations r
        JOIN users u ON u.id = r.user_id
        LEFT JOIN event_attendance a ON a.registration_id = r.id
        WHERE r.event_id = $1 AND ($2 = 'all' OR r.status = $2)
        ORDER BY r.registered_at ASC
        LIMIT $3 OFFSET $4`,
		eventID, statusFilter, limit, offset)
	if err != nil {
		utils.LogError("registrations list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load registrations"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var regID, regUserID uuid.UUID
		var username, email, firstName, lastName, status, paymentStatus string
		var guests int
		var registeredAt time.Time
		var institution, degree, dietary, tshirt *string
		var gradYear *int
		var customResponses []byte
		var checkIn *time.Time
		var qrCode *uuid.UUID

		if err := rows.Scan(&regID, &regUserID, &username, &email, &firstName, &lastName,
			&status, &paymentStatus, &guests, &registeredAt,
			&institution, &degree, &gradYear, &dietary, &tshirt, &customResponses,
			&checkIn, &qrCode); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":               regID,
			"user_id":          regUserID,
			"username":         username,
			"email":            email,
			"first_name":       firstName,
			"last_name":        lastName,
			"status":           status,
			"payment_status":   paymentStatus,
			"guests_count":     guests,
			"registered_at":    registeredAt,
			"institution":      institution,
			"degree":           degree,
			"graduation_year":  gradYear,
			"dietary":          dietary,
			"tshirt_size":      tshirt,
			"custom_responses": json.RawMessage(orEmptyJSON(customResponses, "{}")),
			"checked_in":       checkIn != nil,
			"check_in":         checkIn,
			"qr_code":          qrCode,
		})
	}

	return c.JSON(fiber.Map{
		"count":   total,
		"results": results,
		"limit":   limit,
		"offset":  offset,
	})
}

// UpdateRegistrationStatus lets a manager move a registration between
// pending, approved, waitlisted and rejected
func (h *RegistrationsHandler) UpdateRegistrationStatus(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}
	registrationID, err := uuid.Parse(c.Params("regId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid registration ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var req UpdateRegistrationStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}
	if !settableRegistrationStatuses[req.Status] {
		return c.Status(400).JSON(fiber.Map{"error": "Status must be pending, approved, waitlisted or rejected"})
	}

	var currentStatus string
	var regUserID uuid.UUID
	err = h.db.QueryRow(ctx, `
        SELECT status, user_id FROM event_registrations
        WHERE id = $1 AND event_id = $2`,
		registrationID, eventID).Scan(&currentStatus, &regUserID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
	}
	if currentStatus == "attended" {
		return c.Status(400).JSON(fiber.Map{"error": "Checked-in registrations cannot be changed"})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE event_registrations SET status = $1 WHERE id = $2`,
		req.Status, registrationID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update registration"})
	}

	if req.Status == "approved" {
		// Approval guarantees a scannable QR attendance row
		if _, err := h.db.Exec(ctx, `
            INSERT INTO event_attendance (registration_id)
            VALUES ($1)
            ON CONFLICT (registration_id) DO NOTHING`,
			registrationID); err != nil {
			utils.LogError("attendance ensure", err, "registration_id", registrationID)
		}
		_ = h.activity.Notify(ctx, regUserID, "event",
			"Registration approved",
			"Your event registration has been approved.", &eventID)
	}
	if req.Status == "rejected" {
		h.promoteFromWaitlist(ctx, eventID)
	}

	return c.JSON(fiber.Map{"id": registrationID, "status": req.Status})
}

// ExportRegistrationsCSV streams the registration sheet as CSV
func (h *RegistrationsHandler) ExportRegistrationsCSV(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT u.username, u.email, u.first_name, u.last_name,
               r.status, r.payment_status, r.guests_count, r.registered_at,
               r.snapshot_institution, r.snapshot_degree, r.snapshot_graduation_year,
               r.snapshot_dietary, r.snapshot_tshirt_size,
               r.snapshot_emergency_contact, r.snapshot_emergency_phone,
               a.check_in
        FROM event_registrations r
        JOIN users u ON u.id = r.user_id
        LEFT JOIN event_attendance a ON a.registration_id = r.id
        WHERE r.event_id = $1 AND r.status != 'canceled'
        ORDER BY r.registered_at ASC`,
		eventID)
	if err != nil {
		utils.LogError("registrations export", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to export registrations"})
	}
	defer rows.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"username", "email", "first_name", "last_name", "status",
		"payment_status", "guests_count", "registered_at", "institution", "degree",
		"graduation_year", "dietary", "tshirt_size", "emergency_contact",
		"emergency_phone", "checked_in_at"})

	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	for rows.Next() {
		var username, email, firstName, lastName, status, paymentStatus string
		var guests int
		var registeredAt time.Time
		var institution, degree, dietary, tshirt, contact, phone *string
		var gradYear *int
		var checkIn *time.Time

		if err := rows.Scan(&username, &email, &firstName, &lastName,
			&status, &paymentStatus, &guests, &registeredAt,
			&institution, &degree, &gradYear, &dietary, &tshirt,
			&contact, &phone, &checkIn); err != nil {
			continue
		}

		gradYearStr := ""
		if gradYear != nil {
			gradYearStr = fmt.Sprintf("%d", *gradYear)
		}
		checkInStr := ""
		if checkIn != nil {
			checkInStr = checkIn.Format(time.RFC3339)
		}

		_ = w.Write([]string{
			username, email, firstName, lastName, status, paymentStatus,
			fmt.Sprintf("%d", guests), registeredAt.Format(time.RFC3339),
			str(institution), str(degree), gradYearStr, str(dietary), str(tshirt),
			str(contact), str(phone), checkInStr,
		})
	}
	w.Flush()

	c.Set("Content-Type", "text/csv; charset=utf-8")
	c.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="registrations_%s.csv"`, eventID))
	return c.Send(buf.Bytes())
}
