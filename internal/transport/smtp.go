package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"mailbot/internal/identity"
	"mailbot/pkg/logx"
)

const defaultDialTimeout = 30 * time.Second

// SMTP delivers messages over a fresh STARTTLS connection per send.
//
// One connection per message is deliberate: sends are paced seconds apart and
// rotate across identities, so a pooled connection would mostly sit idle and
// go stale.
type SMTP struct {
	dialTimeout time.Duration
	log         logx.Logger
}

func NewSMTP(dialTimeout time.Duration, log logx.Logger) *SMTP {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTP{dialTimeout: dialTimeout, log: log}
}

func (s *SMTP) Send(ctx context.Context, from identity.Identity, to, subject, body string) error {
	addr := net.JoinHostPort(from.Host, strconv.Itoa(from.Port))

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, from.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: from.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	auth := smtp.PlainAuth("", from.ID, from.Credential, from.Host)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth %s: %w", from.ID, err)
	}
	if err := c.Mail(from.ID); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMessage(from.ID, to, subject, body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

// buildMessage assembles a minimal UTF-8 text/plain message.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
