package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogTransport writes messages to the log instead of sending them. Meant for local development.
type LogTransport struct {
	log logrus.FieldLogger
}

func NewLogTransport(log logrus.FieldLogger) *LogTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogTransport{log: log}
}

func (t *LogTransport) Deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateHeaders(to, subject); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("mail delivered to log\n" + body)
	return nil
}
