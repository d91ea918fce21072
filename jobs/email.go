package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"cos-backend/metrics"
	"cos-backend/services"
)

// EmailArgs is a fully rendered outbound email. Rendering happens at
// enqueue time so retries resend identical content.
type EmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (EmailArgs) Kind() string { return "email.send" }

func (EmailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// EmailWorker delivers queued emails through the configured mailer.
type EmailWorker struct {
	river.WorkerDefaults[EmailArgs]
	mailer *services.Mailer
}

func (w *EmailWorker) Work(ctx context.Context, job *river.Job[EmailArgs]) error {
	if err := w.mailer.Send(ctx, job.Args.To, job.Args.Subject, job.Args.Body); err != nil {
		metrics.IncrementJobProcessed("email.send", "failure")
		return fmt.Errorf("could not send %q to %s: %w", job.Args.Subject, job.Args.To, err)
	}
	metrics.IncrementJobProcessed("email.send", "success")
	return nil
}

// EnqueueEmail renders a template and queues the message for delivery.
// Failures are logged and swallowed: outbound mail never breaks the
// operation that triggered it.
func EnqueueEmail(ctx context.Context, client *river.Client[pgx.Tx], to, templateName string, data interface{}) {
	if client == nil || to == "" {
		return
	}
	subject, body, err := services.RenderEmail(templateName, data)
	if err != nil {
		log.Printf("⚠️ Could not render %s email: %v", templateName, err)
		return
	}
	if _, err := client.Insert(ctx, EmailArgs{To: to, Subject: subject, Body: body}, nil); err != nil {
		log.Printf("⚠️ Could not queue %s email for %s: %v", templateName, to, err)
	}
}
