package chat

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrSelfConversation     = errors.New("chat: cannot start a conversation with yourself")
	ErrNotAuthenticated     = errors.New("chat: not authenticated")
	ErrInvalidParticipant   = errors.New("chat: participant id is required")
	ErrInvalidListingKind   = errors.New("chat: unknown listing kind")
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

// ListingKind tells which marketplace catalogue a listing belongs to.
type ListingKind string

const (
	ListingFoodExperience ListingKind = "food_experience"
	ListingStay           ListingKind = "stay"
)

// ParseListingKind accepts an empty value (no listing attached) or one of the known kinds.
func ParseListingKind(raw string) (ListingKind, error) {
	switch kind := ListingKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case "", ListingFoodExperience, ListingStay:
		return kind, nil
	default:
		return "", ErrInvalidListingKind
	}
}

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ListingContext is the optional marketplace context a conversation is started from.
type ListingContext struct {
	ListingID   string
	ListingKind ListingKind
	Title       string
}

// Normalized trims the context and drops the kind when no listing is referenced.
func (l ListingContext) Normalized() ListingContext {
	out := ListingContext{
		ListingID:   strings.TrimSpace(l.ListingID),
		ListingKind: l.ListingKind,
		Title:       strings.TrimSpace(l.Title),
	}
	if out.ListingID == "" {
		out.ListingKind = ""
	}
	return out
}

type Conversation struct {
	ID          string
	ListingID   string
	ListingKind ListingKind
	Title       string
	Status      Status
	CreatedAt   time.Time
}

// ParticipantProfile is a participant as shown in a conversation header.
type ParticipantProfile struct {
	UserID    string
	Name      string
	AvatarURL string
}

type ConversationDetails struct {
	ConversationID string
	Title          string
	ListingID      string
	ListingKind    ListingKind
	Participants   []ParticipantProfile
}

// Profile is a directory entry used to decorate participants.
type Profile struct {
	UserID    string
	Name      string
	AvatarURL string
}

const pairSeparator = "::"

// PairKey derives the order-independent key of a two-party conversation.
func PairKey(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return ids[0] + pairSeparator + ids[1]
}
