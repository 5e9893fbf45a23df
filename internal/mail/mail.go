// Package mail holds the outbound mail transports used to deliver invoices.
package mail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
)

// Transport delivers one plain-text message to one recipient.
type Transport interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// temporaryError marks a failure that the remote end reported as retryable.
type temporaryError struct {
	err error
}

func (e temporaryError) Error() string   { return e.err.Error() }
func (e temporaryError) Unwrap() error   { return e.err }
func (e temporaryError) Temporary() bool { return true }

// Temporary wraps err so that callers checking for a Temporary() method see it as retryable.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return temporaryError{err: err}
}

// New builds the transport selected by cfg.Transport.
func New(ctx context.Context, cfg config.MailConfig, log logrus.FieldLogger) (Transport, error) {
	switch cfg.Transport {
	case "", "log":
		return NewLogTransport(log), nil
	case "smtp":
		return NewSMTPTransport(cfg.SMTP, cfg.From, log), nil
	case "ses":
		return NewSESTransport(ctx, cfg.SES.Region, cfg.From)
	default:
		return nil, fmt.Errorf("unsupported mail transport: %s", cfg.Transport)
	}
}

// validateHeaders rejects recipients and subjects that would break the message headers.
func validateHeaders(to, subject string) error {
	if _, err := mail.ParseAddress(to); err != nil {
		return errors.Wrapf(err, "invalid recipient %q", to)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return errors.New("subject must not contain line breaks")
	}
	return nil
}
