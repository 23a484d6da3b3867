package api

import (
	"github.com/matheus3301/canteiro/internal/mutation"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a failed user action to a gRPC status carrying the
// user-facing message. Raw transport errors never reach the client.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	uerr := mutation.Translate(err)
	return grpcstatus.Error(userCode(uerr.Kind), uerr.Message)
}

func userCode(k mutation.UserErrorKind) codes.Code {
	switch k {
	case mutation.UserErrorNetwork, mutation.UserErrorNotReady, mutation.UserErrorServer:
		return codes.Unavailable
	case mutation.UserErrorNotFound:
		return codes.NotFound
	case mutation.UserErrorRejected, mutation.UserErrorInvalid:
		return codes.InvalidArgument
	case mutation.UserErrorBusy:
		return codes.Aborted
	default:
		return codes.Internal
	}
}
