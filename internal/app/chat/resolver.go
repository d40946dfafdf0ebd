package chat

import (
	"context"
	"log/slog"
	"strings"

	domainchat "marketchat/internal/domain/chat"
)

// Resolver finds or creates the single conversation between two users.
type Resolver struct {
	Store  domainchat.Repository
	Logger *slog.Logger
}

// Resolve returns the existing conversation shared by selfID and otherID, creating one
// with the supplied listing context when none exists.
//
// Creation is read-before-write: two clients resolving the same pair at the same time
// may both create a conversation. A failure after the conversation row is written
// leaves it without its participants; nothing is rolled back.
func (r *Resolver) Resolve(ctx context.Context, selfID, otherID string, listing domainchat.ListingContext) (string, error) {
	selfID = strings.TrimSpace(selfID)
	otherID = strings.TrimSpace(otherID)
	if selfID == "" || otherID == "" {
		return "", domainchat.ErrInvalidParticipant
	}
	if selfID == otherID {
		return "", domainchat.ErrSelfConversation
	}
	if _, err := domainchat.ParseListingKind(string(listing.ListingKind)); err != nil {
		return "", err
	}

	mine, err := r.Store.ListConversationIDsForUser(ctx, selfID)
	if err != nil {
		return "", persistence("list conversations", err)
	}
	theirs, err := r.Store.ListConversationIDsForUser(ctx, otherID)
	if err != nil {
		return "", persistence("list conversations", err)
	}
	if shared := intersect(mine, theirs); len(shared) > 0 {
		return shared[0], nil
	}

	listing = listing.Normalized()
	conversationID, err := r.Store.InsertConversation(ctx, listing)
	if err != nil {
		return "", persistence("create conversation", err)
	}
	for _, userID := range []string{selfID, otherID} {
		if err := r.Store.InsertParticipant(ctx, conversationID, userID); err != nil {
			if r.Logger != nil {
				r.Logger.Error("conversation left without participants", "conversation_id", conversationID, "user_id", userID, "error", err)
			}
			return "", persistence("add participant", err)
		}
	}
	if r.Logger != nil {
		r.Logger.Info("conversation created", "conversation_id", conversationID, "listing_id", listing.ListingID, "listing_kind", listing.ListingKind)
	}
	return conversationID, nil
}

// intersect keeps the order of a.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
