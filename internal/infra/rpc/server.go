package rpc

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domainchat "marketchat/internal/domain/chat"
)

// eventBuffer bounds the events queued for one slow subscriber; overflow is dropped.
const eventBuffer = 64

// ConversationStoreServer is the contract served under ServiceName.
type ConversationStoreServer interface {
	InsertConversation(ctx context.Context, req *InsertConversationRequest) (*InsertConversationResponse, error)
	InsertParticipant(ctx context.Context, req *InsertParticipantRequest) (*Empty, error)
	ListConversationIDsForUser(ctx context.Context, req *ListConversationIDsRequest) (*ListConversationIDsResponse, error)
	InsertMessage(ctx context.Context, req *InsertMessageRequest) (*MessageResponse, error)
	ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error)
	GetConversationDetails(ctx context.Context, req *GetConversationDetailsRequest) (*ConversationDetailsResponse, error)
	SubscribeInserts(req *SubscribeInsertsRequest, stream grpc.ServerStream) error
}

// Server exposes any conversation store over gRPC.
type Server struct {
	Store  domainchat.Store
	Logger *slog.Logger
}

var _ ConversationStoreServer = (*Server)(nil)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodInsertConversation, ConversationStoreServer.InsertConversation),
		unary(methodInsertParticipant, ConversationStoreServer.InsertParticipant),
		unary(methodListConversationIDs, ConversationStoreServer.ListConversationIDsForUser),
		unary(methodInsertMessage, ConversationStoreServer.InsertMessage),
		unary(methodListMessages, ConversationStoreServer.ListMessages),
		unary(methodGetConversationDetails, ConversationStoreServer.GetConversationDetails),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    streamSubscribeInserts,
		Handler:       subscribeInsertsHandler,
		ServerStreams: true,
	}},
}

var subscribeStreamDesc = grpc.StreamDesc{StreamName: streamSubscribeInserts, ServerStreams: true}

// Register adds the conversation store service to s.
func Register(s grpc.ServiceRegistrar, srv ConversationStoreServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unary[Req, Resp any](name string, call func(ConversationStoreServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(ConversationStoreServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(*Req))
			})
		},
	}
}

func subscribeInsertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeInsertsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConversationStoreServer).SubscribeInserts(in, stream)
}

func (s *Server) InsertConversation(ctx context.Context, req *InsertConversationRequest) (*InsertConversationResponse, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	kind, err := domainchat.ParseListingKind(req.ListingKind)
	if err != nil {
		return nil, toStatus(err)
	}
	listing := domainchat.ListingContext{ListingID: req.ListingID, ListingKind: kind, Title: req.Title}.Normalized()
	id, err := s.Store.InsertConversation(ctx, listing)
	if err != nil {
		return nil, s.fail("insert conversation", err)
	}
	return &InsertConversationResponse{ConversationID: id}, nil
}

func (s *Server) InsertParticipant(ctx context.Context, req *InsertParticipantRequest) (*Empty, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	userID := strings.TrimSpace(req.UserID)
	if conversationID == "" || userID == "" {
		return nil, status.Error(codes.InvalidArgument, domainchat.ErrInvalidParticipant.Error())
	}
	if err := s.Store.InsertParticipant(ctx, conversationID, userID); err != nil {
		return nil, s.fail("insert participant", err)
	}
	return &Empty{}, nil
}

func (s *Server) ListConversationIDsForUser(ctx context.Context, req *ListConversationIDsRequest) (*ListConversationIDsResponse, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, domainchat.ErrInvalidParticipant.Error())
	}
	ids, err := s.Store.ListConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, s.fail("list conversations", err)
	}
	return &ListConversationIDsResponse{ConversationIDs: ids}, nil
}

func (s *Server) InsertMessage(ctx context.Context, req *InsertMessageRequest) (*MessageResponse, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	senderID := strings.TrimSpace(req.SenderID)
	if conversationID == "" || senderID == "" || strings.TrimSpace(req.Content) == "" {
		return nil, status.Error(codes.InvalidArgument, "conversation_id, sender_id and content are required")
	}
	msg, err := s.Store.InsertMessage(ctx, conversationID, senderID, req.Content)
	if err != nil {
		return nil, s.fail("insert message", err)
	}
	return &MessageResponse{Message: toWireMessage(msg)}, nil
}

func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return nil, status.Error(codes.InvalidArgument, "conversation_id is required")
	}
	if req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	msgs, err := s.Store.ListMessages(ctx, conversationID, req.Limit, req.Offset)
	if err != nil {
		return nil, s.fail("list messages", err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	return &ListMessagesResponse{Messages: out}, nil
}

func (s *Server) GetConversationDetails(ctx context.Context, req *GetConversationDetailsRequest) (*ConversationDetailsResponse, error) {
	if s.Store == nil {
		return nil, status.Error(codes.Unavailable, "store unavailable")
	}
	details, err := s.Store.GetConversationDetails(ctx, strings.TrimSpace(req.ConversationID))
	if err != nil {
		return nil, s.fail("get conversation details", err)
	}
	resp := &ConversationDetailsResponse{
		ConversationID: details.ConversationID,
		Title:          details.Title,
		ListingID:      details.ListingID,
		ListingKind:    string(details.ListingKind),
		Participants:   make([]string, 0, len(details.Participants)),
	}
	for _, p := range details.Participants {
		resp.Participants = append(resp.Participants, p.UserID)
	}
	return resp, nil
}

// SubscribeInserts acknowledges the subscription with a Ready frame, then streams every
// inserted message of the conversation until the client goes away or the store loses its
// feed, which ends the stream with Unavailable.
func (s *Server) SubscribeInserts(req *SubscribeInsertsRequest, stream grpc.ServerStream) error {
	if s.Store == nil {
		return status.Error(codes.Unavailable, "store unavailable")
	}
	ctx := stream.Context()
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return status.Error(codes.InvalidArgument, "conversation_id is required")
	}

	events := make(chan domainchat.Message, eventBuffer)
	handle, err := s.Store.SubscribeInserts(ctx, conversationID, func(m domainchat.Message) {
		select {
		case events <- m:
		default:
			if s.Logger != nil {
				s.Logger.Warn("insert event dropped for slow subscriber", "conversation_id", m.ConversationID, "message_id", m.ID)
			}
		}
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("insert subscription refused", "conversation_id", conversationID, "error", err)
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	defer func() {
		if err := s.Store.CloseChannel(handle); err != nil && s.Logger != nil {
			s.Logger.Warn("insert channel close failed", "channel_id", handle.ID, "error", err)
		}
	}()

	if err := stream.SendMsg(&InsertEvent{Ready: true, ChannelID: handle.ID}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-handle.Lost:
			if s.Logger != nil {
				s.Logger.Warn("insert feed lost", "conversation_id", conversationID, "channel_id", handle.ID, "error", err)
			}
			return status.Error(codes.Unavailable, err.Error())
		case m := <-events:
			wire := toWireMessage(m)
			if err := stream.SendMsg(&InsertEvent{Message: &wire}); err != nil {
				return err
			}
		}
	}
}

func (s *Server) fail(op string, err error) error {
	st := toStatus(err)
	if s.Logger != nil && status.Code(st) == codes.Internal {
		s.Logger.Error("conversation store call failed", "op", op, "error", err)
	}
	return st
}
