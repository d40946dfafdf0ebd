package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	domainchat "marketchat/internal/domain/chat"
)

// Client is a domainchat.Store backed by a remote messaging-service.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	streams map[string]context.CancelFunc
	closed  bool
}

var _ domainchat.Store = (*Client)(nil)

// NewClient dials addr without transport security.
func NewClient(addr string, callTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial messaging service: %w", err)
	}
	return NewClientConn(conn, callTimeout, logger), nil
}

// NewClientConn wraps an existing connection. The client owns conn from now on.
func NewClientConn(conn *grpc.ClientConn, callTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		conn:        conn,
		callTimeout: callTimeout,
		logger:      logger,
		streams:     make(map[string]context.CancelFunc),
	}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	err := c.conn.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(codecName))
	return fromStatus(err)
}

func (c *Client) InsertConversation(ctx context.Context, listing domainchat.ListingContext) (string, error) {
	listing = listing.Normalized()
	var resp InsertConversationResponse
	err := c.invoke(ctx, methodInsertConversation, &InsertConversationRequest{
		ListingID:   listing.ListingID,
		ListingKind: string(listing.ListingKind),
		Title:       listing.Title,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ConversationID, nil
}

func (c *Client) InsertParticipant(ctx context.Context, conversationID, userID string) error {
	return c.invoke(ctx, methodInsertParticipant, &InsertParticipantRequest{ConversationID: conversationID, UserID: userID}, &Empty{})
}

func (c *Client) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var resp ListConversationIDsResponse
	if err := c.invoke(ctx, methodListConversationIDs, &ListConversationIDsRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return resp.ConversationIDs, nil
}

func (c *Client) InsertMessage(ctx context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	var resp MessageResponse
	err := c.invoke(ctx, methodInsertMessage, &InsertMessageRequest{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}, &resp)
	if err != nil {
		return domainchat.Message{}, err
	}
	return resp.Message.domain(), nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	var resp ListMessagesResponse
	err := c.invoke(ctx, methodListMessages, &ListMessagesRequest{ConversationID: conversationID, Limit: limit, Offset: offset}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]domainchat.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, m.domain())
	}
	return out, nil
}

func (c *Client) GetConversationDetails(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	var resp ConversationDetailsResponse
	if err := c.invoke(ctx, methodGetConversationDetails, &GetConversationDetailsRequest{ConversationID: conversationID}, &resp); err != nil {
		return domainchat.ConversationDetails{}, err
	}
	details := domainchat.ConversationDetails{
		ConversationID: resp.ConversationID,
		Title:          resp.Title,
		ListingID:      resp.ListingID,
		ListingKind:    domainchat.ListingKind(resp.ListingKind),
		Participants:   make([]domainchat.ParticipantProfile, 0, len(resp.Participants)),
	}
	for _, id := range resp.Participants {
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: id})
	}
	return details, nil
}

// SubscribeInserts opens a server stream and returns once the server has acknowledged
// it, waiting at most the call timeout. The stream outlives ctx and ends with
// CloseChannel or Close; any other end is reported on the handle's Lost channel.
func (c *Client) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domainchat.ChannelHandle{}, ErrUnavailable
	}
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())
	var setupTimer *time.Timer
	if c.callTimeout > 0 {
		setupTimer = time.AfterFunc(c.callTimeout, cancel)
	}
	timedOut := func() bool { return setupTimer != nil && !setupTimer.Stop() }

	stream, err := c.conn.NewStream(streamCtx, &subscribeStreamDesc, fullMethod(streamSubscribeInserts), grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		return domainchat.ChannelHandle{}, fromStatus(err)
	}
	if err := stream.SendMsg(&SubscribeInsertsRequest{ConversationID: conversationID}); err != nil {
		cancel()
		return domainchat.ChannelHandle{}, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return domainchat.ChannelHandle{}, fromStatus(err)
	}

	ready := make(chan error, 1)
	go func() {
		var first InsertEvent
		if err := stream.RecvMsg(&first); err != nil {
			ready <- fromStatus(err)
			return
		}
		if !first.Ready {
			ready <- errors.New("rpc: subscription stream started without acknowledgement")
			return
		}
		ready <- nil
	}()

	select {
	case <-ctx.Done():
		cancel()
		return domainchat.ChannelHandle{}, ctx.Err()
	case err := <-ready:
		if timedOut() {
			cancel()
			return domainchat.ChannelHandle{}, fmt.Errorf("%w: insert stream setup timed out", ErrUnavailable)
		}
		if err != nil {
			cancel()
			return domainchat.ChannelHandle{}, err
		}
	}

	lost := make(chan error, 1)
	handle := domainchat.ChannelHandle{ID: uuid.NewString(), ConversationID: conversationID, Lost: lost}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return domainchat.ChannelHandle{}, ErrUnavailable
	}
	c.streams[handle.ID] = cancel
	c.mu.Unlock()

	go c.pump(streamCtx, stream, handle, lost, onInsert)
	return handle, nil
}

func (c *Client) pump(ctx context.Context, stream grpc.ClientStream, handle domainchat.ChannelHandle, lost chan<- error, onInsert func(domainchat.Message)) {
	for {
		var ev InsertEvent
		err := stream.RecvMsg(&ev)
		if err != nil {
			if ctx.Err() == nil {
				// the server or the connection ended the stream, not CloseChannel
				if errors.Is(err, io.EOF) {
					err = errors.New("insert stream closed by server")
				}
				if c.logger != nil {
					c.logger.Warn("insert stream ended", "conversation_id", handle.ConversationID, "channel_id", handle.ID, "error", err)
				}
				lost <- fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			c.forget(handle.ID)
			return
		}
		if ev.Message != nil && onInsert != nil {
			onInsert(ev.Message.domain())
		}
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	cancel, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// CloseChannel ends the stream behind handle. Unknown handles are ignored.
func (c *Client) CloseChannel(handle domainchat.ChannelHandle) error {
	c.forget(handle.ID)
	return nil
}

// Streams reports how many insert streams are open.
func (c *Client) Streams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Ready asks the remote health service whether the conversation store is serving.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("messaging service health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("messaging service health: %s", resp.GetStatus())
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range streams {
		cancel()
	}
	return c.conn.Close()
}
