package identity

import (
	"context"
	"fmt"
	"net/smtp"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// NoopNotifier is the explicit "email is not configured" implementation. It
// records nothing and fails nothing, so flows behave identically with and
// without a mail setup.
type NoopNotifier struct{}

var _ Notifier = NoopNotifier{}

func (NoopNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	return nil
}

func (NoopNotifier) SendInvitationEmail(ctx context.Context, email, token, inviterName string) error {
	return nil
}

func (NoopNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	return nil
}

// SMTPConfig carries mail server settings for the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier delivers account emails over plain SMTP. Links embedded in the
// messages are built from the application base URL.
type SMTPNotifier struct {
	cfg     SMTPConfig
	baseURL string
	auth    smtp.Auth
	logger  Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier returns a Notifier backed by net/smtp. baseURL is the
// public application origin the email links point at.
func NewSMTPNotifier(cfg SMTPConfig, baseURL string) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, goerrors.New("SMTP host is required", goerrors.CategoryBadInput)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, goerrors.New("invalid SMTP port", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"port": cfg.Port})
	}
	if cfg.From == "" {
		return nil, goerrors.New("SMTP sender address is required", goerrors.CategoryBadInput)
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPNotifier{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		logger:  defLogger{},
		send:    smtp.SendMail,
	}, nil
}

// WithLogger overrides the logger.
func (n *SMTPNotifier) WithLogger(logger Logger) *SMTPNotifier {
	if logger != nil {
		n.logger = logger
	}
	return n
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := n.link("/verify-email", token)
	body := fmt.Sprintf(
		"Welcome!\r\n\r\nPlease confirm your email address by opening the link below:\r\n\r\n%s\r\n\r\nThe link is valid for 24 hours.\r\n",
		link,
	)
	return n.deliver(ctx, email, "Confirm your email address", body)
}

func (n *SMTPNotifier) SendInvitationEmail(ctx context.Context, email, token, inviterName string) error {
	link := n.link("/accept-invitation", token)
	greeting := "You have been invited to join."
	if inviterName != "" {
		greeting = fmt.Sprintf("%s invited you to join.", inviterName)
	}
	body := fmt.Sprintf(
		"%s\r\n\r\nSet up your account by opening the link below:\r\n\r\n%s\r\n\r\nThe invitation is valid for 7 days.\r\n",
		greeting,
		link,
	)
	return n.deliver(ctx, email, "You have been invited", body)
}

func (n *SMTPNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	link := n.link("/reset-password", token)
	body := fmt.Sprintf(
		"A password reset was requested for your account.\r\n\r\nChoose a new password by opening the link below:\r\n\r\n%s\r\n\r\nThe link is valid for 1 hour. If you did not request this, ignore this email.\r\n",
		link,
	)
	return n.deliver(ctx, email, "Reset your password", body)
}

func (n *SMTPNotifier) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", n.baseURL, path, url.QueryEscape(token))
}

func (n *SMTPNotifier) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled before email delivery")
	}

	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, n.auth, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "SMTP delivery failed").
			WithMetadata(map[string]any{"to": to, "subject": subject})
	}

	return nil
}
