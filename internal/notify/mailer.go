// Package notify emails a summary of each run.
package notify

import (
	"context"
	"discuz-signin/internal/checkin"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Config struct {
	Smtp SmtpConfig `json:"smtp"`
	To   []string   `json:"to"`
	// OnlyFailures skips the email for successful runs.
	OnlyFailures bool `json:"only_failures"`
}

func (c Config) Enabled() bool {
	return c.Smtp.Server != "" && len(c.To) > 0
}

// sendFunc matches email.Email.Send, it exists so tests can capture messages.
type sendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

func sendSmtp(mail *email.Email, addr string, auth smtp.Auth) error {
	return mail.Send(addr, auth)
}

type Mailer struct {
	config Config
	send   sendFunc
}

func NewMailer(config Config) Mailer {
	return Mailer{config: config, send: sendSmtp}
}

// Publish lets a Mailer be used as a checkin.Sink.
func (m Mailer) Publish(ctx context.Context, report checkin.Report) error {
	if m.config.OnlyFailures && report.Ok() {
		return nil
	}
	return m.Send(ctx, report)
}

// Send emails the report. The smtp client has no context support, so the
// exchange runs in the background and Send returns ctx.Err() as soon as ctx is
// done, abandoning the connection.
func (m Mailer) Send(ctx context.Context, report checkin.Report) error {
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("discuz-signin <%s>", m.config.Smtp.EmailAddress)
	mail.To = m.config.To
	mail.Subject = Subject(report)
	mail.Text = []byte(Body(report))

	addr := fmt.Sprintf("%s:%d", m.config.Smtp.Server, m.config.Smtp.Port)
	done := make(chan error, 1)
	go func() {
		err := m.send(
			mail,
			addr,
			smtp.PlainAuth("", m.config.Smtp.EmailAddress, m.config.Smtp.Password, m.config.Smtp.Server),
		)
		if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
			err = m.send(mail, addr, nil)
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

func Subject(report checkin.Report) string {
	status := "ok"
	if !report.Ok() {
		status = "failed"
	} else if !report.SigninOk {
		status = "check-in not confirmed"
	}
	return fmt.Sprintf("[discuz-signin] %s on %s: %s", report.Username, report.Host, status)
}

func Body(report checkin.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run:        %s\n", report.RunId)
	fmt.Fprintf(&b, "host:       %s\n", report.Host)
	fmt.Fprintf(&b, "user:       %s\n", report.Username)
	fmt.Fprintf(&b, "started:    %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "duration:   %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "logged in:  %t\n", report.LoggedIn)
	fmt.Fprintf(&b, "check-in:   %d (ok: %t)\n", report.SigninStatus, report.SigninOk)
	fmt.Fprintf(&b, "visits:     %d\n", report.Visits)
	if report.Credit != "" {
		fmt.Fprintf(&b, "credit:     %s\n", report.Credit)
	}
	if report.Coins != "" {
		fmt.Fprintf(&b, "coins:      %s\n", report.Coins)
	}
	if report.Error != "" {
		fmt.Fprintf(&b, "error:      %s\n", report.Error)
	}
	return b.String()
}
