package mutation

import (
	"errors"
	"fmt"

	"github.com/matheus3301/canteiro/internal/remote"
)

// ErrDeleteInProgress is returned when a delete for the same conversation is already running.
var ErrDeleteInProgress = errors.New("delete already in progress")

// ErrEmptyMessage is returned for a send without body or media.
var ErrEmptyMessage = errors.New("message has no body or media")

// UserErrorKind groups failures by what the user can do about them.
type UserErrorKind int

const (
	UserErrorUnexpected UserErrorKind = iota
	UserErrorNetwork
	UserErrorNotReady
	UserErrorServer
	UserErrorRejected
	UserErrorNotFound
	UserErrorBusy
	UserErrorInvalid
)

func (k UserErrorKind) String() string {
	switch k {
	case UserErrorNetwork:
		return "network"
	case UserErrorNotReady:
		return "not_ready"
	case UserErrorServer:
		return "server"
	case UserErrorRejected:
		return "rejected"
	case UserErrorNotFound:
		return "not_found"
	case UserErrorBusy:
		return "busy"
	case UserErrorInvalid:
		return "invalid"
	default:
		return "unexpected"
	}
}

// UserError is a failed user action translated into something displayable.
type UserError struct {
	Kind    UserErrorKind
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Translate maps an internal failure to a UserError. nil stays nil.
func Translate(err error) *UserError {
	if err == nil {
		return nil
	}
	var uerr *UserError
	if errors.As(err, &uerr) {
		return uerr
	}
	switch {
	case errors.Is(err, ErrDeleteInProgress):
		return &UserError{Kind: UserErrorBusy, Message: "a delete for this conversation is already in progress", Err: err}
	case errors.Is(err, ErrEmptyMessage):
		return &UserError{Kind: UserErrorInvalid, Message: "cannot send an empty message", Err: err}
	}

	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		rerr = remote.Classify("", err)
	}
	switch rerr.Kind {
	case remote.KindTransientTransport:
		return &UserError{Kind: UserErrorNetwork, Message: "could not reach the server, check your connection", Err: err}
	case remote.KindServerUnavailable:
		if rerr.NotReady() {
			return &UserError{Kind: UserErrorNotReady, Message: "the service is not ready yet, try again shortly", Err: err}
		}
		return &UserError{Kind: UserErrorServer, Message: "the server is unavailable, try again shortly", Err: err}
	case remote.KindNotFound:
		return &UserError{Kind: UserErrorNotFound, Message: "the conversation no longer exists", Err: err}
	case remote.KindRejected:
		msg := "the server rejected the request"
		if rerr.Message != "" {
			msg += ": " + rerr.Message
		}
		return &UserError{Kind: UserErrorRejected, Message: msg, Err: err}
	}
	return &UserError{Kind: UserErrorUnexpected, Message: "unexpected error", Err: err}
}
