package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"nhooyr.io/websocket"
)

// Kind classifies a failed remote operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientTransport
	KindServerUnavailable
	KindNotFound
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransientTransport:
		return "transient_transport"
	case KindServerUnavailable:
		return "server_unavailable"
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindTransientTransport || k == KindServerUnavailable
}

// Error is a classified failure of a remote operation.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotReady reports whether the server answered that it has not finished starting.
func (e *Error) NotReady() bool {
	return e.Kind == KindServerUnavailable && strings.Contains(strings.ToLower(e.Message), "not ready")
}

// KindOf returns the kind of err, classifying unwrapped errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return Classify("", err).Kind
}

// IsNotFound reports whether err means the remote no longer knows the target.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// Retryable is the default retry condition: network failures and 5xx answers.
func Retryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

// Classify wraps a transport-level error into an *Error. Errors that are
// already classified pass through unchanged.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}

	if kind, ok := classifyChannel(err); ok {
		return &Error{Kind: kind, Op: op, Err: err}
	}

	kind := KindUnknown
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTransientTransport
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		kind = KindTransientTransport
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		kind = KindTransientTransport
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTransientTransport
	case strings.Contains(err.Error(), "EOF"):
		kind = KindTransientTransport
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyChannel recognizes failures reported by the push channels and by
// gRPC peers.
func classifyChannel(err error) (Kind, bool) {
	var aerr *amqp.Error
	if errors.As(err, &aerr) {
		switch {
		case aerr.Code == amqp.NotFound:
			return KindNotFound, true
		case aerr.Code == amqp.AccessRefused:
			return KindRejected, true
		case aerr.Recover, aerr == amqp.ErrClosed:
			return KindTransientTransport, true
		case aerr.Code == amqp.ConnectionForced, aerr.Server:
			return KindServerUnavailable, true
		}
		return KindUnknown, true
	}

	switch websocket.CloseStatus(err) {
	case -1:
	case websocket.StatusPolicyViolation, websocket.StatusUnsupportedData:
		return KindRejected, true
	case websocket.StatusInternalError, websocket.StatusServiceRestart, websocket.StatusTryAgainLater:
		return KindServerUnavailable, true
	default:
		return KindTransientTransport, true
	}

	if st, ok := grpcstatus.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted:
			return KindServerUnavailable, true
		case codes.DeadlineExceeded, codes.Aborted:
			return KindTransientTransport, true
		case codes.NotFound:
			return KindNotFound, true
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
			codes.FailedPrecondition, codes.AlreadyExists:
			return KindRejected, true
		}
		return KindUnknown, true
	}
	return KindUnknown, false
}

// FromStatus classifies an HTTP error answer.
func FromStatus(op string, code int, message string) *Error {
	kind := KindRejected
	switch {
	case code == http.StatusNotFound, code == http.StatusGone:
		kind = KindNotFound
	case code == http.StatusRequestTimeout:
		kind = KindTransientTransport
	case code == http.StatusTooManyRequests, code >= 500:
		kind = KindServerUnavailable
	case code < 400:
		kind = KindUnknown
	}
	return &Error{Kind: kind, Op: op, StatusCode: code, Message: message}
}
