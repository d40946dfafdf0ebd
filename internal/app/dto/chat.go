package dto

import (
	"time"

	"marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// StartConversation is the body of POST /conversations and /conversations/preload.
type StartConversation struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
	ListingID   string `json:"listing_id,omitempty"`
	ListingKind string `json:"listing_kind,omitempty"`
	Title       string `json:"title,omitempty"`
}

type ConversationRef struct {
	ID string `json:"id"`
}

type Participant struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation describes chat metadata.
type Conversation struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	ListingID    string        `json:"listing_id,omitempty"`
	ListingKind  string        `json:"listing_kind,omitempty"`
	Participants []Participant `json:"participants"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

type OpenSession struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

type SendMessage struct {
	Text string `json:"text"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id,omitempty"`
	LocalID        string    `json:"local_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	State          string    `json:"state"`
	IsSelf         bool      `json:"is_self"`
}

// Session is a snapshot of an open chat.
type Session struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Mode           string        `json:"mode"`
	Messages       []ChatMessage `json:"messages"`
}

type Refreshed struct {
	Added int `json:"added"`
}

// SessionEvent is the payload of one server-sent event.
type SessionEvent struct {
	Kind    string       `json:"kind"`
	Message *ChatMessage `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func FromDetails(d domainchat.ConversationDetails) Conversation {
	out := Conversation{
		ID:           d.ConversationID,
		Title:        d.Title,
		ListingID:    d.ListingID,
		ListingKind:  string(d.ListingKind),
		Participants: make([]Participant, 0, len(d.Participants)),
	}
	for _, p := range d.Participants {
		out.Participants = append(out.Participants, Participant{UserID: p.UserID, Name: p.Name, AvatarURL: p.AvatarURL})
	}
	return out
}

func FromEntry(e chat.Entry) ChatMessage {
	return ChatMessage{
		ID:             e.Message.ID,
		LocalID:        e.LocalID,
		ConversationID: e.Message.ConversationID,
		SenderID:       e.Message.SenderID,
		Text:           e.Message.Content,
		CreatedAt:      e.Message.CreatedAt,
		State:          e.State.String(),
		IsSelf:         e.IsSelf,
	}
}

func FromSession(s *chat.Session) Session {
	entries := s.Messages()
	out := Session{
		ID:             s.ID(),
		ConversationID: s.ConversationID(),
		Mode:           s.Mode().String(),
		Messages:       make([]ChatMessage, 0, len(entries)),
	}
	for _, e := range entries {
		out.Messages = append(out.Messages, FromEntry(e))
	}
	return out
}

func FromChange(c chat.Change) SessionEvent {
	if c.Kind == chat.ChangeDegraded {
		ev := SessionEvent{Kind: c.Kind.String()}
		if c.Err != nil {
			ev.Error = c.Err.Error()
		}
		return ev
	}
	msg := FromEntry(c.Entry)
	return SessionEvent{Kind: c.Kind.String(), Message: &msg}
}
