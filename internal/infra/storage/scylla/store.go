package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	domainchat "marketchat/internal/domain/chat"
)

var errNoSession = errors.New("scylla session not initialized")

// InsertFeed announces stored messages to every messaging-service instance and delivers
// the announcements back to local subscribers.
type InsertFeed interface {
	Announce(ctx context.Context, msg domainchat.Message) error
	SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error)
	CloseChannel(handle domainchat.ChannelHandle) error
}

// Store keeps conversations and messages in Scylla.
type Store struct {
	session *gocql.Session
	feed    InsertFeed
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(session *gocql.Session, feed InsertFeed, logger *slog.Logger) *Store {
	return &Store{session: session, feed: feed, logger: logger, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.session == nil {
		return errNoSession
	}
	return s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

func (s *Store) InsertConversation(ctx context.Context, listing domainchat.ListingContext) (string, error) {
	if s.session == nil {
		return "", errNoSession
	}
	id := gocql.TimeUUID()
	now := s.now().UTC()
	if err := s.session.
		Query(`INSERT INTO conversations (id, listing_id, listing_kind, title, status, participants, created_at, last_message_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, listing.ListingID, string(listing.ListingKind), listing.Title, string(domainchat.StatusActive), []string{}, now, now).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id.String(), nil
}

func (s *Store) InsertParticipant(ctx context.Context, conversationID, userID string) error {
	if s.session == nil {
		return errNoSession
	}
	convID, err := parseConversationID(conversationID)
	if err != nil {
		return err
	}
	participants, err := s.participants(ctx, convID)
	if err != nil {
		return err
	}
	for _, existing := range participants {
		if existing == userID {
			return nil
		}
	}
	if err := s.session.
		Query(`UPDATE conversations SET participants = participants + ? WHERE id = ?`, []string{userID}, convID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if err := s.session.
		Query(`INSERT INTO conversations_by_user (user_id, joined_at, conversation_id) VALUES (?, ?, ?)`,
			userID, gocql.TimeUUID(), convID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return fmt.Errorf("index participant: %w", err)
	}
	return nil
}

func (s *Store) participants(ctx context.Context, convID gocql.UUID) ([]string, error) {
	var participants []string
	err := s.session.
		Query(`SELECT participants FROM conversations WHERE id = ? LIMIT 1`, convID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&participants)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return participants, nil
}

func (s *Store) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT conversation_id FROM conversations_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		ids  []string
		conv gocql.UUID
	)
	seen := make(map[gocql.UUID]struct{})
	for iter.Scan(&conv) {
		if _, ok := seen[conv]; ok {
			continue
		}
		seen[conv] = struct{}{}
		ids = append(ids, conv.String())
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

// InsertMessage stores the message and announces it. A failed announcement is logged; the
// message stays stored.
func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	if s.session == nil {
		return domainchat.Message{}, errNoSession
	}
	convID, err := parseConversationID(conversationID)
	if err != nil {
		return domainchat.Message{}, err
	}
	if _, err := s.participants(ctx, convID); err != nil {
		return domainchat.Message{}, err
	}
	at := s.now().UTC().Truncate(time.Millisecond)
	messageID := gocql.UUIDFromTime(at)
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, message_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			convID, messageID, senderID, content, at).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return domainchat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	// best-effort update of last message meta
	if err := s.session.
		Query(`UPDATE conversations SET last_message_at = ?, last_message_text = ? WHERE id = ?`,
			at, trimSnippet(content, 500), convID).
		WithContext(ctx).
		Consistency(gocql.One).
		Exec(); err != nil && s.logger != nil {
		s.logger.Warn("failed to update last message meta", "error", err, "conversation_id", conversationID)
	}

	msg := domainchat.Message{
		ID:             messageID.String(),
		ConversationID: convID.String(),
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	}
	if s.feed != nil {
		if err := s.feed.Announce(ctx, msg); err != nil && s.logger != nil {
			s.logger.Warn("message stored but not announced", "message_id", msg.ID, "conversation_id", msg.ConversationID, "error", err)
		}
	}
	return msg, nil
}

// ListMessages returns messages newest first. CQL has no OFFSET, so limit+offset rows are
// read and the first offset dropped.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	convID, err := parseConversationID(conversationID)
	if err != nil {
		return []domainchat.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var q *gocql.Query
	if limit > 0 {
		q = s.session.Query(`SELECT message_id, sender_id, text, created_at FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT ?`,
			convID, limit+offset)
	} else {
		q = s.session.Query(`SELECT message_id, sender_id, text, created_at FROM messages WHERE conversation_id = ? ORDER BY message_id DESC`, convID)
	}
	iter := q.WithContext(ctx).Consistency(gocql.One).Iter()

	var (
		messages  []domainchat.Message
		messageID gocql.UUID
		sender    string
		text      string
		createdAt time.Time
	)
	for iter.Scan(&messageID, &sender, &text, &createdAt) {
		messages = append(messages, domainchat.Message{
			ID:             messageID.String(),
			ConversationID: convID.String(),
			SenderID:       sender,
			Content:        text,
			CreatedAt:      createdAt.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return page(messages, offset), nil
}

func page(messages []domainchat.Message, offset int) []domainchat.Message {
	if offset >= len(messages) {
		return []domainchat.Message{}
	}
	return messages[offset:]
}

func (s *Store) GetConversationDetails(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	if s.session == nil {
		return domainchat.ConversationDetails{}, errNoSession
	}
	convID, err := parseConversationID(conversationID)
	if err != nil {
		return domainchat.ConversationDetails{}, err
	}
	var (
		listingID, listingKind, title string
		participants                  []string
	)
	err = s.session.
		Query(`SELECT listing_id, listing_kind, title, participants FROM conversations WHERE id = ? LIMIT 1`, convID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&listingID, &listingKind, &title, &participants)
	if errors.Is(err, gocql.ErrNotFound) {
		return domainchat.ConversationDetails{}, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("get conversation: %w", err)
	}
	details := domainchat.ConversationDetails{
		ConversationID: convID.String(),
		Title:          title,
		ListingID:      listingID,
		ListingKind:    domainchat.ListingKind(listingKind),
	}
	for _, u := range participants {
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: u})
	}
	return details, nil
}

func (s *Store) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if s.feed == nil {
		return domainchat.ChannelHandle{}, errors.New("scylla: no insert feed configured")
	}
	return s.feed.SubscribeInserts(ctx, conversationID, onInsert)
}

func (s *Store) CloseChannel(handle domainchat.ChannelHandle) error {
	if s.feed == nil {
		return nil
	}
	return s.feed.CloseChannel(handle)
}

func parseConversationID(raw string) (gocql.UUID, error) {
	id, err := gocql.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		return gocql.UUID{}, domainchat.ErrConversationNotFound
	}
	return id, nil
}

func trimSnippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
