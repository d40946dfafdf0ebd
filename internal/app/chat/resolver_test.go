package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

func TestResolver_CreatesOnceThenReuses(t *testing.T) {
	store := newFakeStore()
	r := &Resolver{Store: store}
	ctx := context.Background()
	listing := domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay, Title: "Lake house"}

	first, err := r.Resolve(ctx, "u1", "u2", listing)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "u2", "u1", domainchat.ListingContext{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.insertConversationCalls)
	assert.Equal(t, 2, store.insertParticipantCalls)
	assert.Equal(t, []string{"u1", "u2"}, store.participants[first])
	assert.Equal(t, listing, store.conversations[first])
}

func TestResolver_SelfConversationRejectedWithoutStoreCalls(t *testing.T) {
	store := newFakeStore()
	r := &Resolver{Store: store}

	_, err := r.Resolve(context.Background(), "u1", " u1 ", domainchat.ListingContext{})
	require.ErrorIs(t, err, domainchat.ErrSelfConversation)
	assert.Zero(t, store.writes())
}

func TestResolver_Validation(t *testing.T) {
	r := &Resolver{Store: newFakeStore()}
	ctx := context.Background()

	_, err := r.Resolve(ctx, "", "u2", domainchat.ListingContext{})
	assert.ErrorIs(t, err, domainchat.ErrInvalidParticipant)

	_, err = r.Resolve(ctx, "u1", "u2", domainchat.ListingContext{ListingID: "L1", ListingKind: "castle"})
	assert.ErrorIs(t, err, domainchat.ErrInvalidListingKind)
}

func TestResolver_PartialCreationIsNotCompensated(t *testing.T) {
	store := newFakeStore()
	store.failParticipantOf = "u2"
	r := &Resolver{Store: store}

	_, err := r.Resolve(context.Background(), "u1", "u2", domainchat.ListingContext{})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "add participant", pe.Op)
	assert.ErrorIs(t, err, errStoreDown)

	assert.Len(t, store.conversations, 1)
	for id := range store.conversations {
		assert.Equal(t, []string{"u1"}, store.participants[id])
	}
}

func TestResolver_ListFailureWrapped(t *testing.T) {
	store := newFakeStore()
	store.failListConversations = errStoreDown
	r := &Resolver{Store: store}

	_, err := r.Resolve(context.Background(), "u1", "u2", domainchat.ListingContext{})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "list conversations", pe.Op)
	assert.Zero(t, store.writes())
}

func TestIntersectKeepsFirstOrder(t *testing.T) {
	assert.Equal(t, []string{"c3", "c1"}, intersect([]string{"c3", "c2", "c1"}, []string{"c1", "c3"}))
	assert.Nil(t, intersect(nil, []string{"c1"}))
}
