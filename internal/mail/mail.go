package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/config"
)

const defaultSendTimeout = 30 * time.Second

// ErrNotConfigured is returned by Send when SMTP settings are incomplete.
var ErrNotConfigured = errors.New("SMTP is not configured")

type Sender struct {
	cfg     config.SMTP
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func New(cfg config.SMTP, log *slog.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		timeout: defaultSendTimeout,
		now:     time.Now,
		log:     log,
	}
}

func (s *Sender) Configured() bool {
	return s != nil && s.cfg.Configured()
}

// Recipient is the configured digest address.
func (s *Sender) Recipient() string {
	if s == nil {
		return ""
	}

	return s.cfg.DigestTo
}

// Send makes exactly one delivery attempt.
func (s *Sender) Send(ctx context.Context, to string, subject string, html string) error {
	if !s.Configured() {
		return ErrNotConfigured
	}

	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("recipient is empty")
	}

	msg, err := buildMessage(s.cfg.From, to, subject, html, s.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if err = s.deliver(ctx, to, msg); err != nil {
		s.log.ErrorContext(ctx, "Failed to send email",
			"error", err,
			"to", to,
			"subject", subject)

		return err
	}

	s.log.InfoContext(ctx, "Email is sent",
		"to", to,
		"subject", subject,
		"bytes", len(msg))

	return nil
}

func (s *Sender) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial SMTP server (addr = %s): %w", addr, err)
	}

	deadline := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err = conn.SetDeadline(deadline); err != nil {
		return errors.Join(fmt.Errorf("set deadline: %w", err), conn.Close())
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return errors.Join(fmt.Errorf("create SMTP client: %w", err), conn.Close())
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			s.log.DebugContext(ctx, "Failed to close SMTP client",
				"error", closeErr)
		}
	}()

	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("SMTP server does not support STARTTLS")
		}
		if err = c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}

	if err = c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if err = c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err = c.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return errors.Join(fmt.Errorf("write data: %w", err), w.Close())
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}

	// The message is accepted once DATA is closed.
	if err = c.Quit(); err != nil {
		s.log.WarnContext(ctx, "Failed to quit SMTP session after message is accepted",
			"error", err,
			"host", s.cfg.Host)
	}

	return nil
}

func buildMessage(from string, to string, subject string, html string, now time.Time) ([]byte, error) {
	var msg bytes.Buffer

	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	msg.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&msg)
	if _, err := qp.Write([]byte(html)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	return msg.Bytes(), nil
}
