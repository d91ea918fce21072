package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"cos-backend/metrics"
	"cos-backend/services"
)

// CertificateIssueDelay is the grace period between a verified check-in
// and the automatic certificate issue, leaving room for scan corrections.
const CertificateIssueDelay = 30 * time.Second

// CertificateArgs asks for a certificate after a verified check-in.
type CertificateArgs struct {
	AttendanceID uuid.UUID `json:"attendance_id" river:"unique"`
}

func (CertificateArgs) Kind() string { return "certificate.issue" }

func (CertificateArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		// At most one in-flight issue per attendance; a finished job does
		// not block a later reissue.
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// EnqueueCertificate schedules the automatic issue for an attendance row.
// Errors are logged and swallowed so a failed enqueue never blocks a scan.
func EnqueueCertificate(ctx context.Context, client *river.Client[pgx.Tx], attendanceID uuid.UUID) {
	if client == nil {
		return
	}
	_, err := client.Insert(ctx, CertificateArgs{AttendanceID: attendanceID}, &river.InsertOpts{
		ScheduledAt: time.Now().Add(CertificateIssueDelay),
	})
	if err != nil {
		log.Printf("⚠️ Could not queue certificate for attendance %s: %v", attendanceID, err)
	}
}

// CertificateWorker issues participation certificates for checked-in
// attendees: certificate row, PDF, activity, feed item, notification
// and confirmation email.
type CertificateWorker struct {
	river.WorkerDefaults[CertificateArgs]
	deps Deps
}

func (w *CertificateWorker) Work(ctx context.Context, job *river.Job[CertificateArgs]) error {
	var (
		registrationID uuid.UUID
		checkIn        *time.Time
	)
	err := w.deps.DB.QueryRow(ctx, `
		SELECT r.id, a.check_in
		FROM event_attendance a
		JOIN event_registrations r ON r.id = a.registration_id
		WHERE a.id = $1
	`, job.Args.AttendanceID).Scan(&registrationID, &checkIn)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Printf("⚠️ Attendance %s no longer exists, skipping certificate", job.Args.AttendanceID)
		return nil
	}
	if err != nil {
		metrics.IncrementJobProcessed("certificate.issue", "failure")
		return fmt.Errorf("could not load attendance %s: %w", job.Args.AttendanceID, err)
	}
	if checkIn == nil {
		log.Printf("⚠️ Attendance %s has no check-in, skipping certificate", job.Args.AttendanceID)
		return nil
	}

	cert, err := w.deps.Issuer.Issue(ctx, registrationID)
	if err != nil {
		if errors.Is(err, services.ErrRegistrationNotFound) {
			return nil
		}
		metrics.IncrementJobProcessed("certificate.issue", "failure")
		return fmt.Errorf("could not issue certificate for registration %s: %w", registrationID, err)
	}

	metrics.IncrementJobProcessed("certificate.issue", "success")

	if cert.Created {
		client, _ := river.ClientFromContextSafely[pgx.Tx](ctx)
		FinishIssue(ctx, w.deps, client, cert)
	}
	return nil
}

// FinishIssue performs the side effects of a fresh issuance: activity
// plus reputation, feed item, notification, and confirmation email.
// Everything here is best-effort; the certificate itself is already
// durable by the time this runs.
func FinishIssue(ctx context.Context, deps Deps, client *river.Client[pgx.Tx], cert *services.IssuedCertificate) {
	metrics.IncrementCertificateIssued()

	activityID, err := deps.Activity.Record(ctx, services.Activity{
		ActorID:     cert.UserID,
		Verb:        services.VerbCertificateIssued,
		SubjectType: "certificate",
		SubjectID:   cert.ID,
		CommunityID: cert.CommunityID,
		Visibility:  services.VisibilityPublic,
		Metadata: map[string]interface{}{
			"event_title":    cert.EventTitle,
			"certificate_id": cert.ID.String(),
		},
	})
	if err != nil {
		log.Printf("⚠️ Could not record certificate activity: %v", err)
	}

	var actPtr *uuid.UUID
	if activityID != uuid.Nil {
		actPtr = &activityID
	}
	if err := deps.Activity.PublishCertificateFeedItem(ctx, cert.ID, actPtr); err != nil {
		log.Printf("⚠️ Could not publish certificate feed item: %v", err)
	}

	eventID := cert.EventID
	if err := deps.Activity.Notify(ctx, cert.UserID, "certificate_issued",
		fmt.Sprintf("Certificate issued for %s", cert.EventTitle),
		"Your certificate has been generated and is now available in your dashboard.",
		&eventID); err != nil {
		log.Printf("⚠️ Could not create certificate notification: %v", err)
	}

	EnqueueEmail(ctx, client, cert.Email, "certificate_issued", services.CertificateEmailData{
		Username:   cert.Username,
		EventTitle: cert.EventTitle,
		VerifyURL:  cert.VerifyURL(deps.SiteURL),
	})
}
