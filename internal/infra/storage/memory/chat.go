package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/feed"
)

// ChatStore keeps conversations and messages in memory. Not suitable for production.
type ChatStore struct {
	mu            sync.RWMutex
	conversations map[string]domainchat.Conversation
	participants  map[string][]string
	byUser        map[string][]string
	messages      map[string][]domainchat.Message

	hub *feed.Hub
	now func() time.Time
}

func NewChatStore(hub *feed.Hub) *ChatStore {
	if hub == nil {
		hub = feed.NewHub(nil)
	}
	return &ChatStore{
		conversations: make(map[string]domainchat.Conversation),
		participants:  make(map[string][]string),
		byUser:        make(map[string][]string),
		messages:      make(map[string][]domainchat.Message),
		hub:           hub,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatStore) InsertConversation(ctx context.Context, listing domainchat.ListingContext) (string, error) {
	conv := domainchat.Conversation{
		ID:          uuid.NewString(),
		ListingID:   listing.ListingID,
		ListingKind: listing.ListingKind,
		Title:       listing.Title,
		Status:      domainchat.StatusActive,
		CreatedAt:   s.now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return conv.ID, nil
}

func (s *ChatStore) InsertParticipant(ctx context.Context, conversationID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domainchat.ErrInvalidParticipant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return domainchat.ErrConversationNotFound
	}
	for _, existing := range s.participants[conversationID] {
		if existing == userID {
			return nil
		}
	}
	s.participants[conversationID] = append(s.participants[conversationID], userID)
	s.byUser[userID] = append(s.byUser[userID], conversationID)
	return nil
}

// ListConversationIDsForUser returns ids in the order the user joined them.
func (s *ChatStore) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.byUser[userID]...), nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		return domainchat.Message{}, domainchat.ErrConversationNotFound
	}
	msg := domainchat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.mu.Unlock()

	s.hub.Publish(msg)
	return msg, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if offset < 0 {
		offset = 0
	}
	end := len(all) - offset
	if end <= 0 {
		return []domainchat.Message{}, nil
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]domainchat.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *ChatStore) GetConversationDetails(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return domainchat.ConversationDetails{}, domainchat.ErrConversationNotFound
	}
	details := domainchat.ConversationDetails{
		ConversationID: conv.ID,
		Title:          conv.Title,
		ListingID:      conv.ListingID,
		ListingKind:    conv.ListingKind,
	}
	for _, userID := range s.participants[conversationID] {
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: userID})
	}
	return details, nil
}

func (s *ChatStore) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return domainchat.ChannelHandle{}, err
	}
	return s.hub.Subscribe(conversationID, onInsert), nil
}

func (s *ChatStore) CloseChannel(handle domainchat.ChannelHandle) error {
	s.hub.Close(handle)
	return nil
}

// Channels reports the number of open insert subscriptions.
func (s *ChatStore) Channels() int { return s.hub.Size() }
