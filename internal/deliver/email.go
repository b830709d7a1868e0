package deliver

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/linnemanlabs/beacon/internal/incident"
)

// EmailSink sends a plain-text result notification per completed incident.
// It implements incident.Sink. An empty host makes Deliver a no-op.
type EmailSink struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmailSink creates an SMTP-backed sink.
func NewEmailSink(host string, port int, username, password, from string, to []string) *EmailSink {
	return &EmailSink{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

// Name identifies the sink in delivery logs.
func (e *EmailSink) Name() string { return "email" }

// Deliver sends the incident result to the configured recipients.
func (e *EmailSink) Deliver(_ context.Context, inc *incident.Incident) error {
	if e.host == "" || len(e.to) == 0 {
		return nil
	}

	msg := e.buildMessage(inc)
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	if err := smtp.SendMail(addr, auth, e.from, e.to, msg); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

func (e *EmailSink) buildMessage(inc *incident.Incident) []byte {
	var b strings.Builder

	subject := fmt.Sprintf("Incident %s: %s severity, route %s", inc.ID, inc.SeverityLabel, inc.Route)
	if inc.Status == incident.StatusFailed {
		subject = fmt.Sprintf("Incident %s: analysis failed", inc.ID)
	}

	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Incident: %s\r\n", inc.ID)
	fmt.Fprintf(&b, "Submitter: %s\r\n", inc.Submitter)
	fmt.Fprintf(&b, "Status: %s\r\n", inc.Status)
	fmt.Fprintf(&b, "Severity: %s (%d)\r\n", inc.SeverityLabel, inc.SeverityScore)
	fmt.Fprintf(&b, "Route: %s\r\n", inc.Route)
	fmt.Fprintf(&b, "Urgency: %s\r\n", inc.Urgency)
	if inc.Fields != nil {
		fmt.Fprintf(&b, "Category: %s\r\n", inc.Fields.Category)
	}
	b.WriteString("\r\n")
	if inc.Summary != "" {
		fmt.Fprintf(&b, "Summary:\r\n%s\r\n\r\n", inc.Summary)
	}
	if len(inc.Actions) > 0 {
		b.WriteString("Recommended actions:\r\n")
		for _, a := range inc.Actions {
			fmt.Fprintf(&b, "  - %s\r\n", a)
		}
	}
	if inc.FailureReason != "" {
		fmt.Fprintf(&b, "Failure reason: %s\r\n", inc.FailureReason)
	}

	return []byte(b.String())
}
