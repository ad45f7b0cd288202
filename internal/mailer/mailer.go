// Package mailer delivers verification and password reset messages.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"boardauth/internal/config"

	"go.uber.org/zap"
)

// Notifier composes and delivers account messages. Callers treat delivery as
// best effort.
type Notifier interface {
	SendVerification(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

var (
	verificationTmpl = template.Must(template.New("verify").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Confirm your email address</h2>
  <p>Thanks for signing up to the board.</p>
  <p>Click the button below to confirm your email address:</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #1976d2; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; display: inline-block;">Confirm email</a>
  </div>
  <p>This link is valid for 24 hours.</p>
  <p>If you did not sign up, you can ignore this message.</p>
</div>`))

	resetTmpl = template.Must(template.New("reset").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Password reset</h2>
  <p>We received a request to reset your password.</p>
  <p>Click the button below to choose a new password:</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #1976d2; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; display: inline-block;">Reset password</a>
  </div>
  <p>This link is valid for 1 hour.</p>
  <p>If you did not request this, you can ignore this message.</p>
</div>`))
)

// sendTimeout bounds a whole SMTP exchange when the caller sets no earlier deadline.
const sendTimeout = 10 * time.Second

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SMTP sends HTML mail through an SMTP relay.
type SMTP struct {
	cfg     config.SMTPConfig
	appURL  string
	timeout time.Duration
	dial    dialFunc
	send    sendFunc
	logger  *zap.Logger
}

// NewSMTP returns an SMTP notifier building links against appURL.
func NewSMTP(cfg config.SMTPConfig, appURL string, logger *zap.Logger) *SMTP {
	s := &SMTP{
		cfg:     cfg,
		appURL:  strings.TrimRight(appURL, "/"),
		timeout: sendTimeout,
		dial:    (&net.Dialer{}).DialContext,
		logger:  logger,
	}
	s.send = s.sendMail
	return s
}

func (s *SMTP) SendVerification(ctx context.Context, to, token string) error {
	link := s.link("/auth/verify-email", token)
	return s.deliver(ctx, to, "Confirm your email address", verificationTmpl, link)
}

func (s *SMTP) SendPasswordReset(ctx context.Context, to, token string) error {
	link := s.link("/auth/reset-password", token)
	return s.deliver(ctx, to, "Password reset", resetTmpl, link)
}

func (s *SMTP) link(path, token string) string {
	return s.appURL + path + "?token=" + url.QueryEscape(token)
}

func (s *SMTP) deliver(ctx context.Context, to, subject string, tmpl *template.Template, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body bytes.Buffer
	if err := tmpl.Execute(&body, struct{ Link string }{Link: link}); err != nil {
		return fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	msg := buildMessage(s.cfg.From, to, subject, body.String())
	if err := s.send(ctx, addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email via %s: %w", addr, err)
	}
	s.logger.Info("email sent", zap.String("template", tmpl.Name()))
	return nil
}

// sendMail runs the SMTP exchange on a connection bound to ctx, so a relay
// that stalls at any step cannot hold the caller past its deadline.
func (s *SMTP) sendMail(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Log is a Notifier for environments without a mail server. It records that
// a message would have been sent and never fails.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SendVerification(_ context.Context, to, _ string) error {
	l.logger.Info("smtp disabled, verification email not sent", zap.String("to", to))
	return nil
}

func (l *Log) SendPasswordReset(_ context.Context, to, _ string) error {
	l.logger.Info("smtp disabled, password reset email not sent", zap.String("to", to))
	return nil
}

// New picks the SMTP notifier when a server is configured and the log notifier otherwise.
func New(cfg *config.Config, logger *zap.Logger) Notifier {
	if cfg.SMTP.Enabled() {
		return NewSMTP(cfg.SMTP, cfg.AppURL, logger)
	}
	return NewLog(logger)
}
