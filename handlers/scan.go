package handlers

import (
	"context"
	"strconv"
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
	"cos-backend/websocket"
)

// Scanning opens one hour before the event and closes four hours after it
// ends, covering late arrivals and wrap-up
const (
	scanWindowBefore = 1 * time.Hour
	scanWindowAfter  = 4 * time.Hour

	// Dynamic ticket signatures go stale after this long; bare QR UUIDs
	// (printed tickets) never expire
	ticketSignatureWindow = 5 * time.Minute
)

// ScanHandler handles tickets, QR scanning and live attendance
type ScanHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	tickets  *services.TicketService
	activity *services.ActivityService
	jobs     *river.Client[pgx.Tx]
	hub      *websocket.Hub
}

// NewScanHandler creates a new scan handler
func NewScanHandler(db database.Database, redis *redis.Client, cfg *config.Config, tickets *services.TicketService, activity *services.ActivityService, jobClient *river.Client[pgx.Tx], hub *websocket.Hub) *ScanHandler {
	return &ScanHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		tickets:  tickets,
		activity: activity,
		jobs:     jobClient,
		hub:      hub,
	}
}

// ScanRequest carries either a bare QR UUID or a signed full payload
type ScanRequest struct {
	QRCode string `json:"qr_code" validate:"required"`
}

// GetTicket godoc
// @Summary Get own ticket for an event
// @Description Returns the signed QR payload. Only the registrant can fetch their ticket.
// @Tags Attendance
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Ticket payload"
// @Failure 404 {object} map[string]interface{} "Registration not found"
// @Router /events/{id}/ticket [get]
func (h *ScanHandler) GetTicket(c *fiber.Ctx) error {
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
        WHERE event_id = $1 AND user_id = $2`,
		eventID, userID).Scan(&registrationID, &status)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
	}
	if status == "canceled" || status == "rejected" {
		return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
	}

	// The attendance row normally exists from registration time; recreate
	// it here for rows that predate that guarantee
	var qrCode uuid.UUID
	err = h.db.QueryRow(ctx, `
        SELECT qr_code FROM event_attendance WHERE registration_id = $1`,
		registrationID).Scan(&qrCode)
	if err != nil {
		if _, err := h.db.Exec(ctx, `
            INSERT INTO event_attendance (registration_id)
            VALUES ($1)
            ON CONFLICT (registration_id) DO NOTHING`,
			registrationID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to issue ticket"})
		}
		if err := h.db.QueryRow(ctx, `
            SELECT qr_code FROM event_attendance WHERE registration_id = $1`,
			registrationID).Scan(&qrCode); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "Failed to issue ticket"})
		}
	}

	ticket := h.tickets.IssueTicket(qrCode.String())

	return c.JSON(fiber.Map{
		"registration_id": registrationID,
		"qr_uuid":         ticket.QRUUID,
		"timestamp":       ticket.Timestamp,
		"signature":       ticket.Signature,
		"full_payload":    ticket.FullPayload,
		"image_url":       "/api/v1/qr/" + ticket.QRUUID + "/image",
	})
}

// QRImage renders the QR code as a PNG. Public: the image exposes only an
// opaque UUID, and scanning still requires staff permissions.
func (h *ScanHandler) QRImage(c *fiber.Ctx) error {
	qrCode, err := uuid.Parse(c.Params("qr"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Not found"})
	}

	size := c.QueryInt("size", 256)
	if size < 64 {
		size = 64
	}
	if size > 1024 {
		size = 1024
	}

	png, err := h.tickets.TicketPNG(qrCode.String(), size)
	if err != nil {
		utils.LogError("qr image render", err, "qr_code", qrCode)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to render QR code"})
	}

	c.Set("Content-Type", "image/png")
	c.Set("Cache-Control", "no-store")
	return c.Send(png)
}

// parseScanPayload splits a scanned value into its QR UUID, verifying the
// signature when a full dynamic payload was scanned
func (h *ScanHandler) parseScanPayload(raw string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, ":") {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return uuid.Nil, false
		}
		qrUUID, err := uuid.Parse(parts[0])
		if err != nil {
			return uuid.Nil, false
		}
		timestamp, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return uuid.Nil, false
		}
		if time.Since(time.Unix(timestamp, 0)) > ticketSignatureWindow {
			return uuid.Nil, false
		}
		if !h.tickets.VerifyTicket(parts[0], timestamp, parts[2]) {
			return uuid.Nil, false
		}
		return qrUUID, true
	}

	qrUUID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return qrUUID, true
}

func (h *ScanHandler) logScan(ctx context.Context, eventID uuid.UUID, registrationID *uuid.UUID, scannedBy uuid.UUID, qrCode, ip, action string) {
	if len(qrCode) > 128 {
		qrCode = qrCode[:128]
	}
	if _, err := h.db.Exec(ctx, `
        INSERT INTO scan_logs (event_id, registration_id, scanned_by, qr_code, ip_address, action)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, registrationID, scannedBy, qrCode, ip, action); err != nil {
		utils.LogError("scan log write", err, "event_id", eventID, "action", action)
	}
	metrics.IncrementScan(action)
}

// ScanQR godoc
// @Summary Scan an attendee QR code
// @Description Checks the attendee in. Once checked in, always checked in.
// @Tags Attendance
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body ScanRequest true "Scanned value"
// @Success 200 {object} map[string]interface{} "Check-in result"
// @Failure 403 {object} map[string]interface{} "Not authorized or outside event hours"
// @Failure 404 {object} map[string]interface{} "Invalid QR code"
// @Router /events/{id}/scan [post]
func (h *ScanHandler) ScanQR(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req ScanRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.QRCode) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "qr_code is required"})
	}

	ctx := context.Background()
	clientIP := utils.ClientIP(c)

	var startTime, endTime time.Time
	var eventStatus string
	err = h.db.QueryRow(ctx, `
        SELECT start_time, end_time, status FROM events WHERE id = $1`,
		eventID).Scan(&startTime, &endTime, &eventStatus)
	if err != nil || eventStatus != "approved" {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}

	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		h.logScan(ctx, eventID, nil, userID, req.QRCode, clientIP, "unauthorized")
		return c.Status(403).JSON(fiber.Map{"error": "Not authorized to scan for this event."})
	}

	now := time.Now()
	if now.Before(startTime.Add(-scanWindowBefore)) || now.After(endTime.Add(scanWindowAfter)) {
		return c.Status(403).JSON(fiber.Map{"error": "Scanning allowed only during event hours."})
	}

	qrUUID, ok := h.parseScanPayload(req.QRCode)
	if !ok {
		h.logScan(ctx, eventID, nil, userID, req.QRCode, clientIP, "invalid_qr")
		return c.Status(404).JSON(fiber.Map{"error": "Invalid QR code"})
	}

	var attendanceID, registrationID, attendeeID uuid.UUID
	var regStatus, attendeeUsername, attendeeFirst, attendeeLast string
	var guestsCount int
	var checkIn *time.Time
	err = h.db.QueryRow(ctx, `
        SELECT a.id, r.id, r.user_id, r.status, r.guests_count, a.check_in,
               u.username, u.first_name, u.last_name
        FROM event_attendance a
        JOIN event_registrations r ON r.id = a.registration_id
        JOIN users u ON u.id = r.user_id
        WHERE a.qr_code = $1 AND r.event_id = $2`,
		qrUUID, eventID).Scan(&attendanceID, &registrationID, &attendeeID, &regStatus,
		&guestsCount, &checkIn, &attendeeUsername, &attendeeFirst, &attendeeLast)
	if err != nil {
		h.logScan(ctx, eventID, nil, userID, req.QRCode, clientIP, "invalid_qr")
		return c.Status(404).JSON(fiber.Map{"error": "Invalid QR code"})
	}
	if regStatus == "canceled" || regStatus == "rejected" {
		h.logScan(ctx, eventID, &registrationID, userID, req.QRCode, clientIP, "invalid_qr")
		return c.Status(404).JSON(fiber.Map{"error": "Invalid QR code"})
	}

	attendeeName := strings.TrimSpace(attendeeFirst + " " + attendeeLast)
	if attendeeName == "" {
		attendeeName = attendeeUsername
	}

	if checkIn != nil {
		h.logScan(ctx, eventID, &registrationID, userID, req.QRCode, clientIP, "already_completed")
		return c.JSON(fiber.Map{
			"status":          "already_checked_in",
			"message":         "Already checked in",
			"attendee":        attendeeName,
			"guests_count":    guestsCount,
			"check_in_time":   checkIn,
			"registration_id": registrationID,
		})
	}

	// The WHERE guard makes concurrent scans of the same code settle on
	// exactly one winner
	var checkInTime time.Time
	err = h.db.QueryRow(ctx, `
        UPDATE event_attendance SET check_in = NOW()
        WHERE id = $1 AND check_in IS NULL
        RETURNING check_in`,
		attendanceID).Scan(&checkInTime)
	if err != nil {
		h.logScan(ctx, eventID, &registrationID, userID, req.QRCode, clientIP, "already_completed")
		return c.JSON(fiber.Map{
			"status":          "already_checked_in",
			"message":         "Already checked in",
			"attendee":        attendeeName,
			"registration_id": registrationID,
		})
	}

	if _, err := h.db.Exec(ctx, `
        UPDATE event_registrations SET status = 'attended' WHERE id = $1`,
		registrationID); err != nil {
		utils.LogError("registration attended update", err, "registration_id", registrationID)
	}

	h.logScan(ctx, eventID, &registrationID, userID, req.QRCode, clientIP, "check_in")

	var communityID *uuid.UUID
	_ = h.db.QueryRow(ctx, `SELECT community_id FROM events WHERE id = $1`, eventID).Scan(&communityID)
	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     attendeeID,
		Verb:        services.VerbEventAttended,
		SubjectType: "event",
		SubjectID:   eventID,
		CommunityID: communityID,
	}); err != nil {
		utils.LogError("event.attended activity", err, "event_id", eventID)
	}

	// Certificate generation runs out of band a short while after check-in
	jobs.EnqueueCertificate(ctx, h.jobs, attendanceID)

	if err := h.tickets.InvalidateAttendanceSnapshot(ctx, eventID.String()); err != nil {
		utils.LogError("attendance snapshot invalidate", err, "event_id", eventID)
	}

	var scannerUsername string
	_ = h.db.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&scannerUsername)

	totals := h.attendanceTotals(ctx, eventID, now.After(startTime))
	h.hub.BroadcastCheckIn(eventID, websocket.CheckInMessage{
		RegistrationID: registrationID.String(),
		AttendeeName:   attendeeName,
		Username:       attendeeUsername,
		GuestsCount:    guestsCount,
		TotalHeadcount: 1 + guestsCount,
		CheckInTime:    &checkInTime,
		ScannedBy:      scannerUsername,
	})
	h.hub.BroadcastCounters(eventID, websocket.CountersMessage{
		TotalRegistered: totals.Registered,
		TotalGuests:     totals.Guests,
		TotalHeadcount:  totals.Headcount,
		CheckedIn:       totals.CheckedIn,
		NoShows:         totals.NoShows,
	})

	utils.LogInfo("✅ Check-in", "event_id", eventID, "registration_id", registrationID, "scanned_by", scannerUsername)

	return c.JSON(fiber.Map{
		"status":          "checked_in",
		"message":         "Check-in successful",
		"attendee":        attendeeName,
		"guests_count":    guestsCount,
		"total_headcount": 1 + guestsCount,
		"check_in_time":   checkInTime,
		"registration_id": registrationID,
	})
}

type attendanceTotals struct {
	Registered int
	Guests     int
	Headcount  int
	CheckedIn  int
	CheckedOut int
	NoShows    int
}

func (h *ScanHandler) attendanceTotals(ctx context.Context, eventID uuid.UUID, started bool) attendanceTotals {
	var t attendanceTotals
	var guestsSum int64
	err := h.db.QueryRow(ctx, `
        SELECT COUNT(*), COALESCE(SUM(r.guests_count), 0),
               COUNT(*) FILTER (WHERE a.check_in IS NOT NULL),
               COUNT(*) FILTER (WHERE a.check_out IS NOT NULL)
        FROM event_registrations r
        LEFT JOIN event_attendance a ON a.registration_id = r.id
        WHERE r.event_id = $1 AND r.status NOT IN ('canceled', 'rejected')`,
		eventID).Scan(&t.Registered, &guestsSum, &t.CheckedIn, &t.CheckedOut)
	if err != nil {
		utils.LogError("attendance counters", err, "event_id", eventID)
		return attendanceTotals{}
	}
	t.Guests = int(guestsSum)
	t.Headcount = t.Registered + t.Guests

	// No-shows only mean something once the event has started
	if started {
		t.NoShows = utils.Max(0, t.Registered-t.CheckedIn)
	}
	return t
}

// LiveAttendance godoc
// @Summary Live attendance dashboard
// @Description Counters plus the checked-in list. Counters are cached for ten seconds.
// @Tags Attendance
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Attendance state"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/attendance/live [get]
func (h *ScanHandler) LiveAttendance(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	var startTime time.Time
	if err := h.db.QueryRow(ctx, `SELECT start_time FROM events WHERE id = $1`, eventID).Scan(&startTime); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	started := time.Now().After(startTime)

	var totals attendanceTotals
	snap, err := h.tickets.GetAttendanceSnapshot(ctx, eventID.String())
	if err != nil {
		utils.LogError("attendance snapshot read", err, "event_id", eventID)
	}
	if snap != nil {
		totals.Registered = snap.Registered
		totals.CheckedIn = snap.CheckedIn
		totals.CheckedOut = snap.CheckedOut
		var guestsSum int64
		_ = h.db.QueryRow(ctx, `
            SELECT COALESCE(SUM(guests_count), 0) FROM event_registrations
            WHERE event_id = $1 AND status NOT IN ('canceled', 'rejected')`,
			eventID).Scan(&guestsSum)
		totals.Guests = int(guestsSum)
		totals.Headcount = totals.Registered + totals.Guests
		if started {
			totals.NoShows = utils.Max(0, totals.Registered-totals.CheckedIn)
		}
	} else {
		totals = h.attendanceTotals(ctx, eventID, started)
		if err := h.tickets.CacheAttendanceSnapshot(ctx, eventID.String(), services.AttendanceSnapshot{
			Registered: totals.Registered,
			CheckedIn:  totals.CheckedIn,
			CheckedOut: totals.CheckedOut,
			UpdatedAt:  time.Now(),
		}); err != nil {
			utils.LogError("attendance snapshot cache", err, "event_id", eventID)
		}
	}

	rows, err := h.db.Query(ctx, `
        SELECT r.id, u.username, u.first_name, u.last_name, r.guests_count,
               a.check_in, a.check_out
        FROM event_attendance a
        JOIN event_registrations r ON r.id = a.registration_id
        JOIN users u ON u.id = r.user_id
        WHERE r.event_id = $1 AND a.check_in IS NOT NULL
        ORDER BY a.check_in DESC
        LIMIT 200`,
		eventID)
	if err != nil {
		utils.LogError("live attendance list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load attendance"})
	}
	defer rows.Close()

	attendees := []fiber.Map{}
	for rows.Next() {
		var regID uuid.UUID
		var username, firstName, lastName string
		var guestsCount int
		var checkInAt time.Time
		var checkOutAt *time.Time

		if err := rows.Scan(&regID, &username, &firstName, &lastName, &guestsCount,
			&checkInAt, &checkOutAt); err != nil {
			continue
		}
		name := strings.TrimSpace(firstName + " " + lastName)
		if name == "" {
			name = username
		}
		attendees = append(attendees, fiber.Map{
			"registration_id": regID,
			"username":        username,
			"name":            name,
			"guests_count":    guestsCount,
			"check_in_time":   checkInAt,
			"check_out_time":  checkOutAt,
		})
	}

	return c.JSON(fiber.Map{
		"counters": fiber.Map{
			"total_registered": totals.Registered,
			"total_guests":     totals.Guests,
			"total_headcount":  totals.Headcount,
			"checked_in":       totals.CheckedIn,
			"checked_out":      totals.CheckedOut,
			"no_shows":         totals.NoShows,
		},
		"attendees": attendees,
	})
}
