package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
)

// ErrStartTLSUnsupported is returned when STARTTLS is required but the server does not offer it.
var ErrStartTLSUnsupported = errors.New("smtp server does not offer STARTTLS")

// SMTPTransport sends mail through a single SMTP relay. Every delivery opens its own
// connection and is bounded by the context deadline.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	startTLS bool
	from     string
	dialer   *net.Dialer
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewSMTPTransport(cfg config.SMTPConfig, from string, log logrus.FieldLogger) *SMTPTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SMTPTransport{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		startTLS: cfg.StartTLS,
		from:     from,
		dialer:   &net.Dialer{},
		now:      time.Now,
		log:      log,
	}
}

func (t *SMTPTransport) Deliver(ctx context.Context, to, subject, body string) error {
	if err := validateHeaders(to, subject); err != nil {
		return err
	}

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "smtp dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "smtp greeting")
	}
	defer c.Close()

	if t.startTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return ErrStartTLSUnsupported
		}
		if err := c.StartTLS(&tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}); err != nil {
			return errors.Wrap(err, "smtp starttls")
		}
	}

	if t.username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}

	if err := c.Mail(t.from); err != nil {
		return errors.Wrap(err, "smtp MAIL FROM")
	}
	if err := c.Rcpt(to); err != nil {
		return errors.Wrap(err, "smtp RCPT TO")
	}

	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp DATA")
	}
	if _, err := w.Write(t.message(to, subject, body)); err != nil {
		return errors.Wrap(err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "smtp end of data")
	}

	// The message is accepted once end of DATA is acknowledged.
	if err := c.Quit(); err != nil {
		t.log.WithError(err).WithField("to", to).Warn("smtp QUIT failed after the message was accepted")
	}
	return nil
}

func (t *SMTPTransport) message(to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", t.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
