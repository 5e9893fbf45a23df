/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package artisan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMailTimeout bounds a single delivery when no timeout is configured.
const DefaultMailTimeout = 5 * time.Second

// MailTransport delivers one plain-text message to one recipient.
type MailTransport interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// FailureKind says whether retrying a failed delivery can help.
type FailureKind int

const (
	FailurePermanent FailureKind = iota
	FailureTransient
)

func (k FailureKind) String() string {
	if k == FailureTransient {
		return "transient"
	}
	return "permanent"
}

// DeliveryError is returned by Notifier.Send. Kind carries the classification so callers
// never need to inspect the transport error themselves.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failure: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a delivery failure worth retrying.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == FailureTransient
}

// IsPermanent reports whether err is a delivery failure that retrying cannot fix.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == FailurePermanent
}

// ClassifyTransportError maps a raw transport error to a FailureKind. Connection-level
// failures, timeouts, dropped connections, SMTP 4xx replies and errors that declare
// themselves temporary are transient. Everything else is permanent.
func ClassifyTransportError(err error) FailureKind {
	if err == nil {
		return FailurePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return FailureTransient
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return FailureTransient
		}
		return FailurePermanent
	}

	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && tmp.Temporary() {
		return FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	return FailurePermanent
}

// Notifier sends rendered documents through a MailTransport, bounding each send with a timeout.
type Notifier struct {
	transport MailTransport
	timeout   time.Duration
	log       logrus.FieldLogger
}

func NewNotifier(transport MailTransport, timeout time.Duration, log logrus.FieldLogger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultMailTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{transport: transport, timeout: timeout, log: log}
}

// Send delivers body to recipient. A failure is always a *DeliveryError.
func (n *Notifier) Send(ctx context.Context, recipient, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.transport.Deliver(ctx, recipient, subject, body)
	if err == nil {
		n.log.WithField("recipient", recipient).Info("email sent")
		return nil
	}

	// A transport that ignores ctx can still report a generic error after the deadline.
	if ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	kind := ClassifyTransportError(err)
	n.log.WithError(err).WithFields(logrus.Fields{
		"recipient": recipient,
		"failure":   kind.String(),
	}).Error("email delivery failed")
	return &DeliveryError{Kind: kind, Err: err}
}
