package chat

import (
	"context"
	"time"
)

// Message is immutable once stored.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// ChannelHandle identifies one live insert subscription opened on a Store.
type ChannelHandle struct {
	ID             string
	ConversationID string
	// Lost receives the error that ended the channel when the feed drops it on its own,
	// e.g. a remote stream breaking. It is never signalled after CloseChannel. Nil for
	// feeds whose channels only end through CloseChannel.
	Lost <-chan error
}

// Repository persists conversations, participants and messages.
type Repository interface {
	InsertConversation(ctx context.Context, listing ListingContext) (string, error)
	InsertParticipant(ctx context.Context, conversationID, userID string) error
	ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	InsertMessage(ctx context.Context, conversationID, senderID, content string) (Message, error)
	// ListMessages returns messages newest first.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	GetConversationDetails(ctx context.Context, conversationID string) (ConversationDetails, error)
}

// Feed emits message insert events per conversation.
type Feed interface {
	SubscribeInserts(ctx context.Context, conversationID string, onInsert func(Message)) (ChannelHandle, error)
	CloseChannel(handle ChannelHandle) error
}

// Store is the conversation store collaborator the chat core talks to.
type Store interface {
	Repository
	Feed
}

// ProfileDirectory resolves display data for user ids. Missing users are simply absent from the result.
type ProfileDirectory interface {
	Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
}
