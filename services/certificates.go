package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cos-backend/crypto"
)

// ErrRegistrationNotFound is returned when a certificate is requested for
// an event/user pair with no registration row.
var ErrRegistrationNotFound = errors.New("registration not found")

// IssuedCertificate carries the certificate row plus the recipient and
// event context callers need for notifications and emails.
type IssuedCertificate struct {
	ID             uuid.UUID
	RegistrationID uuid.UUID
	CertToken      string
	CredentialID   uuid.UUID
	PDFPath        string
	IssuedAt       time.Time
	Created        bool

	UserID            uuid.UUID
	Username          string
	Email             string
	FullName          string
	EventID           uuid.UUID
	EventTitle        string
	OrganizerUsername string
	CommunityID       *uuid.UUID
	CommunityName     string
}

// VerifyURL returns the public verification link for this certificate.
func (c *IssuedCertificate) VerifyURL(siteURL string) string {
	return fmt.Sprintf("%s/api/v1/events/%s/certificate/verify/%s/", siteURL, c.EventID, c.CertToken)
}

// CertificateIssuer creates certificate rows and renders their PDFs into
// the media root. Issue is idempotent per registration.
type CertificateIssuer struct {
	db        Database
	mediaRoot string
}

// NewCertificateIssuer creates a certificate issuer writing PDFs under mediaRoot
func NewCertificateIssuer(db Database, mediaRoot string) *CertificateIssuer {
	return &CertificateIssuer{db: db, mediaRoot: mediaRoot}
}

// Issue creates or reuses the certificate for a registration. Issuer
// branding is snapshotted on first issue, the verification token is
// backfilled when missing, and the PDF is rendered whenever absent, so
// the operation is safe to call repeatedly.
func (ci *CertificateIssuer) Issue(ctx context.Context, registrationID uuid.UUID) (*IssuedCertificate, error) {
	cert := &IssuedCertificate{RegistrationID: registrationID}

	var (
		firstName, lastName string
		communityName       *string
		communityLogo       *string
		communityColor      *string
		communityTemplate   *string
	)
	err := ci.db.QueryRow(ctx, `
		SELECT r.user_id, u.username, u.email, u.first_name, u.last_name,
		       e.id, e.title, org.username, e.community_id,
		       c.name, c.logo, c.primary_color, c.certificate_template
		FROM event_registrations r
		JOIN users u ON u.id = r.user_id
		JOIN events e ON e.id = r.event_id
		JOIN users org ON org.id = e.organizer_id
		LEFT JOIN communities c ON c.id = e.community_id
		WHERE r.id = $1
	`, registrationID).Scan(
		&cert.UserID, &cert.Username, &cert.Email, &firstName, &lastName,
		&cert.EventID, &cert.EventTitle, &cert.OrganizerUsername, &cert.CommunityID,
		&communityName, &communityLogo, &communityColor, &communityTemplate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration %s: %w", registrationID, err)
	}

	cert.FullName = strings.TrimSpace(firstName + " " + lastName)
	if cert.FullName == "" {
		cert.FullName = cert.Username
	}
	cert.CommunityName = derefStr(communityName)

	snapshot, err := json.Marshal(map[string]interface{}{
		"name":          derefStr(communityName),
		"logo":          derefStr(communityLogo),
		"primary_color": derefStr(communityColor),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build issuer snapshot: %w", err)
	}

	// Get-or-create: the token only wins for brand new rows, the snapshot
	// keeps whatever branding was current at first issue. Revocation state
	// is deliberately left untouched.
	err = ci.db.QueryRow(ctx, `
		INSERT INTO certificates (registration_id, subject_type, subject_id, cert_token, issuer_snapshot)
		VALUES ($1, 'event', $2, $3, $4)
		ON CONFLICT (registration_id) DO UPDATE
		SET cert_token = COALESCE(certificates.cert_token, EXCLUDED.cert_token)
		RETURNING id, cert_token, credential_id, COALESCE(pdf, ''), issued_at, (xmax = 0)
	`, registrationID, cert.EventID, crypto.NewCertToken(), snapshot).Scan(
		&cert.ID, &cert.CertToken, &cert.CredentialID, &cert.PDFPath, &cert.IssuedAt, &cert.Created,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert certificate: %w", err)
	}

	if cert.PDFPath == "" {
		data := CertificateData{
			RecipientName:     cert.FullName,
			EventTitle:        cert.EventTitle,
			OrganizerUsername: cert.OrganizerUsername,
			CommunityName:     cert.CommunityName,
			AccentHex:         derefStr(communityColor),
		}
		if t := derefStr(communityTemplate); t != "" {
			data.BackgroundPath = filepath.Join(ci.mediaRoot, t)
		}
		if l := derefStr(communityLogo); l != "" {
			data.LogoPath = filepath.Join(ci.mediaRoot, l)
		}

		pdfBytes, err := GenerateCertificatePDF(data)
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate PDF: %w", err)
		}
		relPath, err := SaveCertificatePDF(ci.mediaRoot, cert.ID.String(), pdfBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to save certificate PDF: %w", err)
		}
		if _, err := ci.db.Exec(ctx, `UPDATE certificates SET pdf = $1 WHERE id = $2`, relPath, cert.ID); err != nil {
			return nil, fmt.Errorf("failed to store certificate PDF path: %w", err)
		}
		cert.PDFPath = relPath
	}

	return cert, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
