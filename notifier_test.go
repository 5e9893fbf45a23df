package artisan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type temporaryErr struct{ temp bool }

func (e temporaryErr) Error() string   { return "throttled" }
func (e temporaryErr) Temporary() bool { return e.temp }

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil", err: nil, want: FailurePermanent},
		{name: "deadline", err: context.DeadlineExceeded, want: FailureTransient},
		{name: "wrapped deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: FailureTransient},
		{name: "eof", err: io.EOF, want: FailureTransient},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, want: FailureTransient},
		{name: "connection reset", err: pkgerrors.Wrap(syscall.ECONNRESET, "smtp data"), want: FailureTransient},
		{name: "broken pipe", err: syscall.EPIPE, want: FailureTransient},
		{name: "dns timeout", err: &net.DNSError{Err: "timeout", Name: "mail.example.com", IsTimeout: true}, want: FailureTransient},
		{name: "smtp 421", err: &textproto.Error{Code: 421, Msg: "closing channel"}, want: FailureTransient},
		{name: "smtp 452", err: pkgerrors.Wrap(&textproto.Error{Code: 452, Msg: "mailbox full"}, "smtp rcpt"), want: FailureTransient},
		{name: "smtp 550", err: &textproto.Error{Code: 550, Msg: "no such user"}, want: FailurePermanent},
		{name: "smtp 535", err: &textproto.Error{Code: 535, Msg: "auth failed"}, want: FailurePermanent},
		{name: "temporary", err: temporaryErr{temp: true}, want: FailureTransient},
		{name: "not temporary", err: temporaryErr{temp: false}, want: FailurePermanent},
		{name: "invalid address", err: errors.New("mail: missing '@' or angle-addr"), want: FailurePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTransportError(tt.err))
		})
	}
}

func TestFailureKind_String(t *testing.T) {
	assert.Equal(t, "transient", FailureTransient.String())
	assert.Equal(t, "permanent", FailurePermanent.String())
}

func TestNotifier_SendSuccess(t *testing.T) {
	transport := &scriptedTransport{}
	n := NewNotifier(transport, 0, quietLogger())

	err := n.Send(context.Background(), "jane@example.com", "Hello", "body")
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, sentMail{to: "jane@example.com", subject: "Hello", body: "body"}, transport.sent[0])
	assert.Equal(t, DefaultMailTimeout, n.timeout)
}

func TestNotifier_SendWrapsFailures(t *testing.T) {
	n := NewNotifier(&scriptedTransport{errs: []error{&textproto.Error{Code: 550, Msg: "rejected"}}}, time.Second, quietLogger())

	err := n.Send(context.Background(), "jane@example.com", "Hello", "body")
	require.Error(t, err)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, FailurePermanent, de.Kind)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "permanent delivery failure")
}

type blockingTransport struct{}

func (blockingTransport) Deliver(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// stubbornTransport ignores the context and reports a generic error after the deadline.
type stubbornTransport struct{ wait time.Duration }

func (s stubbornTransport) Deliver(context.Context, string, string, string) error {
	time.Sleep(s.wait)
	return errors.New("server went away")
}

func TestNotifier_TimeoutIsTransient(t *testing.T) {
	n := NewNotifier(blockingTransport{}, 20*time.Millisecond, quietLogger())
	start := time.Now()
	err := n.Send(context.Background(), "jane@example.com", "Hello", "body")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	n = NewNotifier(stubbornTransport{wait: 50 * time.Millisecond}, 10*time.Millisecond, quietLogger())
	err = n.Send(context.Background(), "jane@example.com", "Hello", "body")
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "server went away")
}
