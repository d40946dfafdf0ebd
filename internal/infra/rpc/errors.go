package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domainchat "marketchat/internal/domain/chat"
)

var ErrUnavailable = errors.New("rpc: conversation store unavailable")

var invalidArguments = []error{
	domainchat.ErrInvalidParticipant,
	domainchat.ErrInvalidListingKind,
	domainchat.ErrSelfConversation,
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domainchat.ErrConversationNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	for _, sentinel := range invalidArguments {
		if errors.Is(err, sentinel) {
			return status.Error(codes.InvalidArgument, sentinel.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return domainchat.ErrConversationNotFound
	case codes.InvalidArgument:
		for _, sentinel := range invalidArguments {
			if st.Message() == sentinel.Error() {
				return sentinel
			}
		}
		return fmt.Errorf("rpc: invalid argument: %s", st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
