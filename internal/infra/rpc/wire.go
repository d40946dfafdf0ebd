package rpc

import (
	"time"

	domainchat "marketchat/internal/domain/chat"
)

const ServiceName = "marketchat.messaging.v1.ConversationStore"

const (
	methodInsertConversation     = "InsertConversation"
	methodInsertParticipant      = "InsertParticipant"
	methodListConversationIDs    = "ListConversationIDsForUser"
	methodInsertMessage          = "InsertMessage"
	methodListMessages           = "ListMessages"
	methodGetConversationDetails = "GetConversationDetails"
	streamSubscribeInserts       = "SubscribeInserts"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

type InsertConversationRequest struct {
	ListingID   string `json:"listing_id,omitempty"`
	ListingKind string `json:"listing_kind,omitempty"`
	Title       string `json:"title,omitempty"`
}

type InsertConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type InsertParticipantRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type Empty struct{}

type ListConversationIDsRequest struct {
	UserID string `json:"user_id"`
}

type ListConversationIDsResponse struct {
	ConversationIDs []string `json:"conversation_ids"`
}

type InsertMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type GetConversationDetailsRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationDetailsResponse struct {
	ConversationID string   `json:"conversation_id"`
	Title          string   `json:"title,omitempty"`
	ListingID      string   `json:"listing_id,omitempty"`
	ListingKind    string   `json:"listing_kind,omitempty"`
	Participants   []string `json:"participants"`
}

type SubscribeInsertsRequest struct {
	ConversationID string `json:"conversation_id"`
}

// InsertEvent is one frame of the SubscribeInserts stream. The first frame only carries
// Ready; later frames carry a Message.
type InsertEvent struct {
	Ready     bool     `json:"ready,omitempty"`
	ChannelID string   `json:"channel_id,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func toWireMessage(m domainchat.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func (m Message) domain() domainchat.Message {
	return domainchat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
