package schedule

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/alo-ngh/iea-scraper/config"
)

// Notifier is told about every finished batch.
type Notifier interface {
	Notify(ctx context.Context, statuses []Status) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, statuses []Status) error

func (f NotifierFunc) Notify(ctx context.Context, statuses []Status) error { return f(ctx, statuses) }

// Mailer mails the batch summary. By default it only writes when a job failed.
type Mailer struct {
	cfg  config.SMTPConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewMailer returns a mailer for the SMTP settings.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, send: (*email.Email).Send}
}

func (m *Mailer) Notify(_ context.Context, statuses []Status) error {
	failed := Failures(statuses)
	if failed == 0 && !m.cfg.Always {
		return nil
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Energy scraper <%s>", m.cfg.From)
	mail.To = m.cfg.To
	mail.Subject = subject(failed, len(statuses))
	mail.Text = []byte(body(statuses))

	addr := fmt.Sprintf("%s:%d", m.cfg.Server, m.cfg.Port)
	err := m.send(mail, addr, smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send summary to %s: %w", addr, err)
	}
	return nil
}

func subject(failed, total int) string {
	if failed == 0 {
		return fmt.Sprintf("[scraper] %d jobs succeeded", total)
	}
	return fmt.Sprintf("[scraper] %d of %d jobs failed", failed, total)
}

func body(statuses []Status) string {
	var b strings.Builder
	b.WriteString(Summary(statuses))
	b.WriteString("\n")
	for _, st := range statuses {
		if !st.Failed() {
			continue
		}
		fmt.Fprintf(&b, "\n%s (run %s)\n%v\n", st.Job, st.RunID, st.Err)
	}
	return b.String()
}
