package services

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// EmailTemplate pairs a subject line with a plain-text body template.
// Bodies are rendered with text/template against the data structs below.
type EmailTemplate struct {
	Name    string
	Subject string
	Body    string
}

// RegistrationEmailData fills the registration confirmation template
type RegistrationEmailData struct {
	Username   string
	EventTitle string
	Venue      string
	StartTime  time.Time
	EventURL   string
}

// CertificateEmailData fills the certificate issued template
type CertificateEmailData struct {
	Username   string
	EventTitle string
	VerifyURL  string
}

// AnnouncementEmailData fills the event announcement template
type AnnouncementEmailData struct {
	Username   string
	EventTitle string
	Title      string
	Body       string
	EventURL   string
}

// emailTemplates contains every outbound email the platform sends
var emailTemplates = []EmailTemplate{
	{
		Name:    "registration_confirmation",
		Subject: "Registered for {{.EventTitle}}",
		Body: `Hi {{.Username}},

You have successfully registered for the event:
  {{.EventTitle}}
  Venue: {{.Venue}}
  Starts: {{.StartTime.Format "2006-01-02 15:04 MST"}}

You can view the event details here:
{{.EventURL}}

Thank you,
COS Events`,
	},
	{
		Name:    "certificate_issued",
		Subject: "Your certificate for {{.EventTitle}} is ready",
		Body: `Hi {{.Username}},

Your participation certificate for the event:
  {{.EventTitle}}
is now issued.

You can verify and access your certificate here:
{{.VerifyURL}}

If this wasn't you, you can ignore this email.

Best,
COS Events`,
	},
	{
		Name:    "event_announcement",
		Subject: "[Update] {{.EventTitle}} - {{.Title}}",
		Body: `Hi {{.Username}},

There is a new announcement for the event:
  {{.EventTitle}}

Title: {{.Title}}
{{.Body}}

You can view the event here:
{{.EventURL}}

Best,
COS Events`,
	},
}

var parsedTemplates = mustParseEmailTemplates()

type parsedEmailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustParseEmailTemplates() map[string]parsedEmailTemplate {
	m := make(map[string]parsedEmailTemplate, len(emailTemplates))
	for _, t := range emailTemplates {
		m[t.Name] = parsedEmailTemplate{
			subject: template.Must(template.New(t.Name + ".subject").Parse(t.Subject)),
			body:    template.Must(template.New(t.Name + ".body").Parse(t.Body)),
		}
	}
	return m
}

// RenderEmail renders a named template with the given data.
// Returns the subject line and body text.
func RenderEmail(name string, data interface{}) (string, string, error) {
	t, ok := parsedTemplates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template: %s", name)
	}

	var subject, body strings.Builder
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to render subject for %s: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render body for %s: %w", name, err)
	}

	return subject.String(), body.String(), nil
}
