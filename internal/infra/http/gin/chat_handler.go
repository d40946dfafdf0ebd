package ginserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"marketchat/internal/app/chat"
	"marketchat/internal/app/dto"
	"marketchat/internal/app/identity"
	domainchat "marketchat/internal/domain/chat"
)

const (
	preloadTimeout = 30 * time.Second
	defaultIdleTTL = 10 * time.Minute
)

// ChatHandler bridges HTTP with the per-user chat coordinators.
type ChatHandler struct {
	Registry *identity.Registry
	Logger   *slog.Logger
	// IdleTTL is how long a session may go without an event stream or request before
	// SweepIdle closes it. Zero means defaultIdleTTL.
	IdleTTL time.Duration

	events *sessionEvents
}

func NewChatHandler(registry *identity.Registry, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{Registry: registry, Logger: logger, events: newSessionEvents()}
}

var _ ChatHTTP = (*ChatHandler)(nil)

func (h *ChatHandler) coordinator(c *gin.Context) (*chat.Coordinator, string, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, "", false
	}
	if h.Registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return nil, "", false
	}
	coord, err := h.Registry.For(userID)
	if err != nil {
		h.respondChatError(c, err, "resolve coordinator", "user_id", userID)
		return nil, "", false
	}
	return coord, userID, true
}

func (h *ChatHandler) session(c *gin.Context) (*chat.Session, string, bool) {
	coord, userID, ok := h.coordinator(c)
	if !ok {
		return nil, "", false
	}
	s, err := coord.Session(c.Param("id"))
	if err != nil {
		h.respondChatError(c, err, "lookup session", "session_id", c.Param("id"), "user_id", userID)
		return nil, "", false
	}
	h.events.touch(s.ID(), time.Now())
	return s, userID, true
}

func bindStart(c *gin.Context) (dto.StartConversation, domainchat.ListingContext, bool) {
	var req dto.StartConversation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "other_user_id is required"})
		return req, domainchat.ListingContext{}, false
	}
	kind, err := domainchat.ParseListingKind(req.ListingKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, domainchat.ListingContext{}, false
	}
	listing := domainchat.ListingContext{ListingID: req.ListingID, ListingKind: kind, Title: req.Title}
	return req, listing, true
}

// StartConversation resolves (or creates) the conversation with another user.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	coord, userID, ok := h.coordinator(c)
	if !ok {
		return
	}
	req, listing, ok := bindStart(c)
	if !ok {
		return
	}
	id, err := coord.Conversation(c.Request.Context(), req.OtherUserID, listing)
	if err != nil {
		h.respondChatError(c, err, "resolve conversation", "user_id", userID, "other_user_id", req.OtherUserID)
		return
	}
	c.JSON(http.StatusOK, dto.ConversationRef{ID: id})
}

// PreloadConversation warms the conversation cache and answers before resolution completes.
func (h *ChatHandler) PreloadConversation(c *gin.Context) {
	coord, _, ok := h.coordinator(c)
	if !ok {
		return
	}
	req, listing, ok := bindStart(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), preloadTimeout)
	done := coord.Preload(ctx, req.OtherUserID, listing)
	go func() {
		defer cancel()
		<-done
	}()
	c.Status(http.StatusAccepted)
}

func (h *ChatHandler) Inbox(c *gin.Context) {
	coord, userID, ok := h.coordinator(c)
	if !ok {
		return
	}
	items, err := coord.Inbox(c.Request.Context())
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", userID)
		return
	}
	out := dto.ConversationList{Items: make([]dto.Conversation, 0, len(items))}
	for _, d := range items {
		out.Items = append(out.Items, dto.FromDetails(d))
	}
	c.JSON(http.StatusOK, out)
}

// Conversation returns the header of a conversation the caller takes part in.
func (h *ChatHandler) Conversation(c *gin.Context) {
	coord, userID, ok := h.coordinator(c)
	if !ok {
		return
	}
	details, err := coord.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", c.Param("id"), "user_id", userID)
		return
	}
	if !isParticipant(details, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return
	}
	c.JSON(http.StatusOK, dto.FromDetails(details))
}

func (h *ChatHandler) OpenSession(c *gin.Context) {
	coord, userID, ok := h.coordinator(c)
	if !ok {
		return
	}
	var req dto.OpenSession
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ConversationID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	details, err := coord.Details(c.Request.Context(), conversationID)
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", conversationID, "user_id", userID)
		return
	}
	if !isParticipant(details, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return
	}

	t := newTopic()
	s, err := coord.Open(c.Request.Context(), conversationID, t.observe)
	if err != nil {
		h.respondChatError(c, err, "open session", "conversation_id", conversationID, "user_id", userID)
		return
	}
	h.events.register(userID, s, t)
	c.JSON(http.StatusCreated, dto.FromSession(s))
}

func (h *ChatHandler) Snapshot(c *gin.Context) {
	s, _, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromSession(s))
}

// Events streams session changes as server-sent events. The first event is a snapshot;
// a closed event ends the stream when the session goes away.
func (h *ChatHandler) Events(c *gin.Context) {
	s, _, ok := h.session(c)
	if !ok {
		return
	}
	t, ok := h.events.lookup(s.ID())
	if !ok {
		c.JSON(http.StatusGone, gin.H{"error": chat.ErrSessionClosed.Error()})
		return
	}
	events, cancel := t.subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", dto.FromSession(s))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				c.SSEvent("closed", gin.H{"id": s.ID()})
				return false
			}
			c.SSEvent(ev.Kind, ev)
			return true
		}
	})
}

func (h *ChatHandler) Send(c *gin.Context) {
	s, userID, ok := h.session(c)
	if !ok {
		return
	}
	var req dto.SendMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	msg, err := s.Send(c.Request.Context(), req.Text)
	if err != nil {
		h.respondChatError(c, err, "send message", "session_id", s.ID(), "user_id", userID)
		return
	}
	c.JSON(http.StatusCreated, dto.ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Content,
		CreatedAt:      msg.CreatedAt,
		State:          chat.Confirmed.String(),
		IsSelf:         true,
	})
}

func (h *ChatHandler) Refresh(c *gin.Context) {
	s, userID, ok := h.session(c)
	if !ok {
		return
	}
	added, err := s.Refresh(c.Request.Context())
	if err != nil {
		h.respondChatError(c, err, "refresh session", "session_id", s.ID(), "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, dto.Refreshed{Added: added})
}

// Resubscribe retries the realtime channel of a fetch-only session.
func (h *ChatHandler) Resubscribe(c *gin.Context) {
	s, userID, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Resubscribe(c.Request.Context()); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("chat resubscribe failed", "session_id", s.ID(), "user_id", userID, "error", err)
		}
		if errors.Is(err, chat.ErrSessionClosed) {
			h.respondChatError(c, err, "resubscribe", "session_id", s.ID())
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime updates unavailable", "mode": s.Mode().String()})
		return
	}
	c.JSON(http.StatusOK, dto.FromSession(s))
}

func (h *ChatHandler) CloseSession(c *gin.Context) {
	s, userID, ok := h.session(c)
	if !ok {
		return
	}
	s.Close()
	h.events.closeSession(userID, s.ID())
	c.Status(http.StatusNoContent)
}

// Logout drops the caller's coordinator together with its sessions and cached conversations.
func (h *ChatHandler) Logout(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Registry != nil {
		h.Registry.Drop(userID)
	}
	h.events.closeOwner(userID)
	c.Status(http.StatusNoContent)
}

// SweepIdle closes the sessions whose clients went away without closing them.
func (h *ChatHandler) SweepIdle(now time.Time) int {
	ttl := h.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	expired := h.events.expire(now.Add(-ttl))
	for _, s := range expired {
		s.Close()
		if h.Logger != nil {
			h.Logger.Info("idle chat session closed", "session_id", s.ID(), "conversation_id", s.ConversationID())
		}
	}
	return len(expired)
}

// RunIdleSweep calls SweepIdle every interval until ctx ends.
func (h *ChatHandler) RunIdleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.SweepIdle(now)
		}
	}
}

func (h *ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	code, msg := chatErrorStatus(err)
	if h.Logger != nil {
		level := slog.LevelDebug
		if code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.Logger.Log(c.Request.Context(), level, "chat request failed", append([]any{"action", action, "status", code, "error", err}, attrs...)...)
	}
	c.JSON(code, gin.H{"error": msg})
}

func chatErrorStatus(err error) (int, string) {
	var pe *chat.PersistenceError
	switch {
	case errors.Is(err, domainchat.ErrNotAuthenticated):
		return http.StatusUnauthorized, "auth required"
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, domainchat.ErrConversationNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrInvalidParticipant),
		errors.Is(err, domainchat.ErrInvalidListingKind):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrSendInFlight), errors.Is(err, chat.ErrSessionClosed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "conversation store timeout"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "conversation store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func isParticipant(details domainchat.ConversationDetails, userID string) bool {
	for _, p := range details.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
