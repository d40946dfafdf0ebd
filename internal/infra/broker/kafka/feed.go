package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/feed"
)

const EventMessageInserted = "chat.message_inserted"

// Publisher is satisfied by *Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Feed announces inserted messages on a topic and delivers the records this instance
// consumes to local subscribers.
type Feed struct {
	publisher Publisher
	topic     string
	hub       *feed.Hub
	logger    *slog.Logger
}

type messageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewFeed(publisher Publisher, topic string, logger *slog.Logger) *Feed {
	return &Feed{publisher: publisher, topic: topic, hub: feed.NewHub(logger), logger: logger}
}

// GroupID returns a consumer group unique to this process, so every instance sees every record.
func GroupID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func (f *Feed) Topic() string { return f.topic }

func (f *Feed) Announce(ctx context.Context, msg domainchat.Message) error {
	payload, err := json.Marshal(messageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	headers := map[string]string{"event_type": EventMessageInserted, "message_id": msg.ID}
	return f.publisher.Publish(ctx, f.topic, msg.ConversationID, payload, headers)
}

// Handle implements MessageHandler.
func (f *Feed) Handle(ctx context.Context, record *sarama.ConsumerMessage) error {
	var evt messageEvent
	if err := json.Unmarshal(record.Value, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", EventMessageInserted, err)
	}
	if evt.ID == "" || evt.ConversationID == "" {
		return fmt.Errorf("decode %s: missing ids", EventMessageInserted)
	}
	f.hub.Publish(domainchat.Message{
		ID:             evt.ID,
		ConversationID: evt.ConversationID,
		SenderID:       evt.SenderID,
		Content:        evt.Content,
		CreatedAt:      evt.CreatedAt,
	})
	return nil
}

func (f *Feed) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return domainchat.ChannelHandle{}, err
	}
	return f.hub.Subscribe(conversationID, onInsert), nil
}

func (f *Feed) CloseChannel(handle domainchat.ChannelHandle) error {
	f.hub.Close(handle)
	return nil
}
