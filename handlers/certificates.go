package handlers

import (
	"context"
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

// CertificatesHandler handles certificate issuance, listing, verification
// and revocation
type CertificatesHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	issuer   *services.CertificateIssuer
	activity *services.ActivityService
	jobs     *river.Client[pgx.Tx]
}

// NewCertificatesHandler creates a new certificates handler
func NewCertificatesHandler(db database.Database, redis *redis.Client, cfg *config.Config, issuer *services.CertificateIssuer, activity *services.ActivityService, jobClient *river.Client[pgx.Tx]) *CertificatesHandler {
	return &CertificatesHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		issuer:   issuer,
		activity: activity,
		jobs:     jobClient,
	}
}

// RevokeCertificateRequest carries the reason recorded with a revocation
type RevokeCertificateRequest struct {
	Reason string `json:"reason"`
}

func (h *CertificatesHandler) pdfURL(pdfPath string) interface{} {
	if pdfPath == "" {
		return nil
	}
	return strings.TrimRight(h.config.SiteURL, "/") + "/media/" + pdfPath
}

// IssueCertificate godoc
// @Summary Issue a certificate for a registration
// @Description Manual issue by event staff. Safe to repeat: an existing certificate is returned, a missing PDF is re-rendered.
// @Tags Certificates
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Param regID path string true "Registration ID"
// @Success 201 {object} map[string]interface{} "Certificate issued"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Failure 404 {object} map[string]interface{} "Registration not found"
// @Router /events/{id}/registrations/{regId}/certificate [post]
func (h *CertificatesHandler) IssueCertificate(c *fiber.Ctx) error {
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

	var regStatus string
	err = h.db.QueryRow(ctx, `
        SELECT status FROM event_registrations WHERE id = $1 AND event_id = $2`,
		registrationID, eventID).Scan(&regStatus)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
	}
	if regStatus == "canceled" || regStatus == "rejected" {
		return c.Status(400).JSON(fiber.Map{"error": "Canceled registrations cannot receive certificates"})
	}

	cert, err := h.issuer.Issue(ctx, registrationID)
	if err != nil {
		if err == services.ErrRegistrationNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "Registration not found"})
		}
		utils.LogError("manual certificate issue", err, "registration_id", registrationID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to issue certificate"})
	}

	status := 200
	if cert.Created {
		status = 201
		jobs.FinishIssue(ctx, jobs.Deps{
			DB:       h.db,
			Activity: h.activity,
			Issuer:   h.issuer,
			SiteURL:  h.config.SiteURL,
		}, h.jobs, cert)
		utils.LogInfo("📜 Certificate issued", "certificate_id", cert.ID, "event_id", eventID, "issued_by", userID)
	}

	return c.Status(status).JSON(fiber.Map{
		"certificate_id": cert.ID,
		"credential_id":  cert.CredentialID,
		"cert_token":     cert.CertToken,
		"verify_url":     cert.VerifyURL(h.config.SiteURL),
		"pdf_url":        h.pdfURL(cert.PDFPath),
		"issued_at":      cert.IssuedAt,
		"created":        cert.Created,
	})
}

// MyCertificates godoc
// @Summary List own certificates
// @Tags Certificates
// @Security BearerAuth
// @Produce json
// @Param community_id query string false "Filter by community"
// @Success 200 {object} map[string]interface{} "Certificates"
// @Router /users/me/certificates [get]
func (h *CertificatesHandler) MyCertificates(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	ctx := context.Background()

	query := `
        SELECT c.id, c.credential_id, c.cert_token, COALESCE(c.pdf, ''), c.issued_at, c.revoked_at,
               e.id, e.title, e.start_time, e.community_id, COALESCE(cm.name, '')
        FROM certificates c
        JOIN event_registrations r ON r.id = c.registration_id
        JOIN events e ON e.id = r.event_id
        LEFT JOIN communities cm ON cm.id = e.community_id
        WHERE r.user_id = $1`
	args := []interface{}{userID}

	if communityParam := c.Query("community_id"); communityParam != "" {
		communityID, err := uuid.Parse(communityParam)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid community ID"})
		}
		args = append(args, communityID)
		query += ` AND e.community_id = $2`
	}
	query += ` ORDER BY c.issued_at DESC`

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		utils.LogError("my certificates list", err, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch certificates"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var certID, credentialID, evID uuid.UUID
		var certToken, pdfPath, eventTitle, communityName string
		var issuedAt time.Time
		var revokedAt *time.Time
		var communityID *uuid.UUID
		var startTime time.Time

		if err := rows.Scan(&certID, &credentialID, &certToken, &pdfPath, &issuedAt, &revokedAt,
			&evID, &eventTitle, &startTime, &communityID, &communityName); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":            certID,
			"credential_id": credentialID,
			"event": fiber.Map{
				"id":         evID,
				"title":      eventTitle,
				"start_time": startTime,
			},
			"community_id":   communityID,
			"community_name": communityName,
			"pdf_url":        h.pdfURL(pdfPath),
			"verify_url":     strings.TrimRight(h.config.SiteURL, "/") + "/api/v1/events/" + evID.String() + "/certificate/verify/" + certToken + "/",
			"issued_at":      issuedAt,
			"is_revoked":     revokedAt != nil,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// VerifyCertificate godoc
// @Summary Verify a certificate token
// @Description Public endpoint used by the QR link on printed certificates.
// @Tags Certificates
// @Produce json
// @Param id path string true "Event ID"
// @Param token path string true "Certificate token"
// @Success 200 {object} map[string]interface{} "Verification result"
// @Failure 404 {object} map[string]interface{} "Certificate not found"
// @Router /events/{id}/certificate/verify/{token} [get]
func (h *CertificatesHandler) VerifyCertificate(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"valid": false, "error": "Certificate not found"})
	}
	token := c.Params("token")
	if token == "" || len(token) > 128 {
		return c.Status(404).JSON(fiber.Map{"valid": false, "error": "Certificate not found"})
	}

	ctx := context.Background()

	var certID, credentialID uuid.UUID
	var pdfPath, eventTitle, username, firstName, lastName, revocationReason string
	var issuedAt time.Time
	var revokedAt *time.Time
	err = h.db.QueryRow(ctx, `
        SELECT c.id, c.credential_id, COALESCE(c.pdf, ''), c.issued_at, c.revoked_at,
               COALESCE(c.revocation_reason, ''),
               e.title, u.username, u.first_name, u.last_name
        FROM certificates c
        JOIN event_registrations r ON r.id = c.registration_id
        JOIN users u ON u.id = r.user_id
        JOIN events e ON e.id = r.event_id
        WHERE c.cert_token = $1 AND e.id = $2`,
		token, eventID).Scan(&certID, &credentialID, &pdfPath, &issuedAt, &revokedAt,
		&revocationReason, &eventTitle, &username, &firstName, &lastName)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"valid": false, "error": "Certificate not found"})
	}

	if revokedAt != nil {
		reason := revocationReason
		if reason == "" {
			reason = "This certificate has been revoked."
		}
		return c.JSON(fiber.Map{
			"valid":      false,
			"reason":     reason,
			"revoked_at": revokedAt,
		})
	}

	fullName := strings.TrimSpace(firstName + " " + lastName)
	if fullName == "" {
		fullName = username
	}

	return c.JSON(fiber.Map{
		"valid":                     true,
		"certificate_id":            certID,
		"credential_id":             credentialID,
		"event_id":                  eventID,
		"event":                     eventTitle,
		"user":                      fullName,
		"issued_at":                 issuedAt,
		"pdf_url":                   h.pdfURL(pdfPath),
		"signed_url_expiry_seconds": nil,
	})
}

// RevokeCertificate godoc
// @Summary Revoke a certificate
// @Description Event staff only. The public verify endpoint reports the certificate as invalid afterwards.
// @Tags Certificates
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} map[string]interface{} "Revoked"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Failure 409 {object} map[string]interface{} "Already revoked"
// @Router /certificates/{id}/revoke [post]
func (h *CertificatesHandler) RevokeCertificate(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	certID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid certificate ID"})
	}

	var req RevokeCertificateRequest
	_ = c.BodyParser(&req)

	ctx := context.Background()

	var eventID, holderID uuid.UUID
	var communityID *uuid.UUID
	var eventTitle string
	var revokedAt *time.Time
	err = h.db.QueryRow(ctx, `
        SELECT e.id, e.community_id, e.title, r.user_id, c.revoked_at
        FROM certificates c
        JOIN event_registrations r ON r.id = c.registration_id
        JOIN events e ON e.id = r.event_id
        WHERE c.id = $1`,
		certID).Scan(&eventID, &communityID, &eventTitle, &holderID, &revokedAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Certificate not found"})
	}

	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}
	if revokedAt != nil {
		return c.Status(409).JSON(fiber.Map{"error": "Certificate already revoked"})
	}

	reason := strings.TrimSpace(req.Reason)
	tag, err := h.db.Exec(ctx, `
        UPDATE certificates
        SET revoked_at = NOW(), revocation_reason = NULLIF($2, '')
        WHERE id = $1 AND revoked_at IS NULL`,
		certID, reason)
	if err != nil || tag.RowsAffected() == 0 {
		return c.Status(409).JSON(fiber.Map{"error": "Certificate already revoked"})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbCertificateRevoked,
		SubjectType: "certificate",
		SubjectID:   certID,
		CommunityID: communityID,
		Visibility:  services.VisibilityPrivate,
		Metadata: map[string]interface{}{
			"event_title": eventTitle,
			"reason":      reason,
		},
	}); err != nil {
		utils.LogError("certificate.revoked activity", err, "certificate_id", certID)
	}

	if err := h.activity.Notify(ctx, holderID, "certificate_revoked",
		"Certificate revoked for "+eventTitle,
		"Your certificate for this event is no longer valid. Contact the organizers for details.",
		&eventID); err != nil {
		utils.LogError("certificate revoke notification", err, "certificate_id", certID)
	}

	utils.LogInfo("🚫 Certificate revoked", "certificate_id", certID, "revoked_by", userID)

	return c.JSON(fiber.Map{"status": "revoked", "certificate_id": certID})
}
