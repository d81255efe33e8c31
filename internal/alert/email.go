package alert

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier mails alert edges through an SMTP relay.
type EmailNotifier struct {
	cfg  EmailConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("alert email sender and recipients are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	return &EmailNotifier{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}, nil
}

func (n *EmailNotifier) Name() string { return "email" }

// Send ignores ctx cancellation once the SMTP exchange has started; the
// library exposes no context-aware API.
func (n *EmailNotifier) Send(ctx context.Context, event domain.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = n.cfg.To
	e.Subject = subjectFor(event)
	e.Text = []byte(fmt.Sprintf(
		"%s.\n\nAccount: %s\nBalance: %d\nThreshold: %d\nTime: %s\n",
		Summary(event),
		event.AccountID,
		event.Balance,
		event.ThresholdCredits,
		event.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"),
	))

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(e, addr, auth); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

func subjectFor(event domain.AlertEvent) string {
	if event.Kind == domain.AlertCleared {
		return "Notification credits replenished"
	}
	return "Low notification credit balance"
}
