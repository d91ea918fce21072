package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"cos-backend/config"
	"cos-backend/services"
)

type mockDatabase struct {
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type mockRow struct {
	scanFunc func(dest ...interface{}) error
}

func (m mockRow) Scan(dest ...interface{}) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

func (m *mockDatabase) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return mockRow{}
}

func (m *mockDatabase) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDatabase) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("transactions not supported in this test")
}

func makeCertJob(args CertificateArgs) *river.Job[CertificateArgs] {
	return &river.Job[CertificateArgs]{
		JobRow: &rivertype.JobRow{ID: 1},
		Args:   args,
	}
}

func TestCertificateArgs(t *testing.T) {
	if (CertificateArgs{}).Kind() != "certificate.issue" {
		t.Errorf("Unexpected kind: %q", CertificateArgs{}.Kind())
	}

	opts := CertificateArgs{}.InsertOpts()
	if opts.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", opts.MaxAttempts)
	}
	if !opts.UniqueOpts.ByArgs {
		t.Error("Expected uniqueness by attendance")
	}
}

func TestEmailArgs(t *testing.T) {
	if (EmailArgs{}).Kind() != "email.send" {
		t.Errorf("Unexpected kind: %q", EmailArgs{}.Kind())
	}
	if opts := (EmailArgs{}).InsertOpts(); opts.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", opts.MaxAttempts)
	}
}

func TestEmailWorker(t *testing.T) {
	// No SMTP host configured, the mailer logs to console and succeeds
	w := &EmailWorker{mailer: services.NewMailer(&config.Config{})}

	job := &river.Job[EmailArgs]{
		JobRow: &rivertype.JobRow{ID: 1},
		Args:   EmailArgs{To: "user@example.com", Subject: "Hello", Body: "Body"},
	}
	if err := w.Work(context.Background(), job); err != nil {
		t.Errorf("Expected console delivery to succeed, got: %v", err)
	}
}

func TestCertificateWorker(t *testing.T) {
	attendanceID := uuid.New()
	registrationID := uuid.New()
	userID := uuid.New()
	eventID := uuid.New()

	t.Run("missing attendance is skipped", func(t *testing.T) {
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				return mockRow{scanFunc: func(dest ...interface{}) error {
					return pgx.ErrNoRows
				}}
			},
		}
		w := &CertificateWorker{deps: Deps{DB: mockDB}}

		if err := w.Work(context.Background(), makeCertJob(CertificateArgs{AttendanceID: attendanceID})); err != nil {
			t.Errorf("Expected missing attendance to be skipped, got: %v", err)
		}
	})

	t.Run("not checked in is skipped", func(t *testing.T) {
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				if !strings.Contains(sql, "event_attendance") {
					t.Errorf("Unexpected query before check-in gate: %s", sql)
				}
				return mockRow{scanFunc: func(dest ...interface{}) error {
					if id, ok := dest[0].(*uuid.UUID); ok {
						*id = registrationID
					}
					// check_in left NULL
					return nil
				}}
			},
		}
		w := &CertificateWorker{deps: Deps{DB: mockDB}}

		if err := w.Work(context.Background(), makeCertJob(CertificateArgs{AttendanceID: attendanceID})); err != nil {
			t.Errorf("Expected missing check-in to be skipped, got: %v", err)
		}
	})

	t.Run("checked in issues the certificate", func(t *testing.T) {
		mediaRoot := t.TempDir()
		checkIn := time.Now()
		certID := uuid.New()
		credentialID := uuid.New()

		pdfStored := false
		feedPublished := false
		notified := false

		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				switch {
				case strings.Contains(sql, "event_attendance"):
					return mockRow{scanFunc: func(dest ...interface{}) error {
						if id, ok := dest[0].(*uuid.UUID); ok {
							*id = registrationID
						}
						if ci, ok := dest[1].(**time.Time); ok {
							*ci = &checkIn
						}
						return nil
					}}
				case strings.Contains(sql, "FROM event_registrations"):
					return mockRow{scanFunc: func(dest ...interface{}) error {
						*dest[0].(*uuid.UUID) = userID
						*dest[1].(*string) = "asha"
						*dest[2].(*string) = "asha@example.com"
						*dest[3].(*string) = "Asha"
						*dest[4].(*string) = "Kumar"
						*dest[5].(*uuid.UUID) = eventID
						*dest[6].(*string) = "Robotics Workshop"
						*dest[7].(*string) = "mentor1"
						// No community: remaining fields stay NULL
						return nil
					}}
				case strings.Contains(sql, "INSERT INTO certificates"):
					return mockRow{scanFunc: func(dest ...interface{}) error {
						*dest[0].(*uuid.UUID) = certID
						*dest[1].(*string) = "f0e1d2c3b4a5968778695a4b3c2d1e0f"
						*dest[2].(*uuid.UUID) = credentialID
						*dest[3].(*string) = "" // PDF missing, must be rendered
						*dest[4].(*time.Time) = time.Now()
						*dest[5].(*bool) = true // freshly created
						return nil
					}}
				default:
					t.Errorf("Unexpected query: %s", sql)
					return mockRow{}
				}
			},
			execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
				switch {
				case strings.Contains(sql, "SET pdf"):
					pdfStored = true
				case strings.Contains(sql, "feed_items"):
					feedPublished = true
				case strings.Contains(sql, "notifications"):
					notified = true
				}
				return pgconn.NewCommandTag("INSERT 0 1"), nil
			},
		}

		deps := Deps{
			DB:       mockDB,
			Mailer:   services.NewMailer(&config.Config{}),
			Activity: services.NewActivityService(mockDB),
			Issuer:   services.NewCertificateIssuer(mockDB, mediaRoot),
			SiteURL:  "http://localhost:8000",
		}
		w := &CertificateWorker{deps: deps}

		if err := w.Work(context.Background(), makeCertJob(CertificateArgs{AttendanceID: attendanceID})); err != nil {
			t.Fatalf("Expected issue to succeed, got: %v", err)
		}

		if !pdfStored {
			t.Error("Expected PDF path to be stored")
		}
		if !feedPublished {
			t.Error("Expected feed item to be published")
		}
		if !notified {
			t.Error("Expected recipient to be notified")
		}

		entries, err := os.ReadDir(filepath.Join(mediaRoot, "certificates"))
		if err != nil || len(entries) == 0 {
			t.Errorf("Expected a rendered PDF under the media root: %v", err)
		}
	})
}
