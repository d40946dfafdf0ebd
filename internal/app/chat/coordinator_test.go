package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

type staticProfiles struct {
	profiles map[string]domainchat.Profile
	err      error
}

func (p staticProfiles) Profiles(_ context.Context, ids []string) (map[string]domainchat.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]domainchat.Profile, len(ids))
	for _, id := range ids {
		if profile, ok := p.profiles[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

func TestNewCoordinator_RequiresUser(t *testing.T) {
	_, err := NewCoordinator("  ", newFakeStore(), Options{})
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
}

func TestCoordinator_ConversationIsCached(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(t, "u1", store)
	ctx := context.Background()

	id1, err := c.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	store.failListConversations = errStoreDown
	id2, err := c.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, c.CachedConversations())
	assert.Equal(t, 1, store.insertConversationCalls)
}

func TestCoordinator_SelfConversation(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(t, "u1", store)

	_, err := c.Conversation(context.Background(), "u1", domainchat.ListingContext{})
	assert.ErrorIs(t, err, domainchat.ErrSelfConversation)
	assert.Zero(t, store.writes())
	assert.Zero(t, c.CachedConversations())
}

func TestCoordinator_ConcurrentResolutionShared(t *testing.T) {
	store := newFakeStore()
	store.slowResolve = 20 * time.Millisecond
	c := newTestCoordinator(t, "u1", store)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Conversation(context.Background(), "u2", domainchat.ListingContext{})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.insertConversationCalls)
}

func TestCoordinator_CancelledCallerDoesNotFailSharedResolution(t *testing.T) {
	store := newFakeStore()
	store.listGate = make(chan struct{})
	c := newTestCoordinator(t, "u1", store)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Conversation(first, "u2", domainchat.ListingContext{})
		firstErr <- err
	}()
	type result struct {
		id  string
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := c.Conversation(context.Background(), "u2", domainchat.ListingContext{})
		second <- result{id, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(store.listGate)

	got := <-second
	require.NoError(t, got.err)
	assert.NotEmpty(t, got.id)
	cached, ok := c.cache.Get("u1", "u2")
	assert.True(t, ok)
	assert.Equal(t, got.id, cached)
	assert.Equal(t, 1, store.insertConversationCalls)
}

func TestCoordinator_FailedResolutionNotCached(t *testing.T) {
	store := newFakeStore()
	store.failListConversations = errStoreDown
	c := newTestCoordinator(t, "u1", store)

	_, err := c.Conversation(context.Background(), "u2", domainchat.ListingContext{})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, c.CachedConversations())

	store.mu.Lock()
	store.failListConversations = nil
	store.mu.Unlock()
	_, err = c.Conversation(context.Background(), "u2", domainchat.ListingContext{})
	require.NoError(t, err)
}

func TestCoordinator_Preload(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(t, "u1", store)

	require.NoError(t, <-c.Preload(context.Background(), "u2", domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay}))
	assert.Equal(t, 1, c.CachedConversations())

	_, err := c.Conversation(context.Background(), "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.insertConversationCalls)

	assert.ErrorIs(t, <-c.Preload(context.Background(), "u1", domainchat.ListingContext{}), domainchat.ErrSelfConversation)
}

func TestCoordinator_CloseClearsEverything(t *testing.T) {
	store := newFakeStore()
	c, err := NewCoordinator("u1", store, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := c.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	s, err := c.Open(ctx, id, nil)
	require.NoError(t, err)
	require.Equal(t, 1, store.openChannels())

	c.Close()
	c.Close()

	assert.Zero(t, c.CachedConversations())
	assert.Zero(t, store.openChannels())
	assert.Equal(t, Mode(0), s.Mode())

	_, err = c.Conversation(ctx, "u2", domainchat.ListingContext{})
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
	_, err = c.Open(ctx, id, nil)
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
	_, err = c.Session(s.ID())
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
	_, err = c.Details(ctx, id)
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
	_, err = c.Inbox(ctx)
	assert.ErrorIs(t, err, domainchat.ErrNotAuthenticated)
}

func TestCoordinator_DetailsEnriched(t *testing.T) {
	store := newFakeStore()
	c, err := NewCoordinator("u1", store, Options{Profiles: staticProfiles{profiles: map[string]domainchat.Profile{
		"u2": {UserID: "u2", Name: "Grace", AvatarURL: "https://cdn.example/u2.png"},
	}}})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	id, err := c.Conversation(ctx, "u2", domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay, Title: "Cabin"})
	require.NoError(t, err)

	details, err := c.Details(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Cabin", details.Title)
	assert.Equal(t, domainchat.ListingStay, details.ListingKind)
	require.Len(t, details.Participants, 2)
	assert.Equal(t, domainchat.ParticipantProfile{UserID: "u1"}, details.Participants[0])
	assert.Equal(t, "Grace", details.Participants[1].Name)
	assert.Equal(t, "https://cdn.example/u2.png", details.Participants[1].AvatarURL)

	_, err = c.Details(ctx, "missing")
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestCoordinator_DetailsSurviveProfileFailure(t *testing.T) {
	store := newFakeStore()
	c, err := NewCoordinator("u1", store, Options{Profiles: staticProfiles{err: errStoreDown}})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	id, err := c.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	details, err := c.Details(ctx, id)
	require.NoError(t, err)
	assert.Len(t, details.Participants, 2)
}

func TestCoordinator_Inbox(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(t, "u1", store)
	ctx := context.Background()

	_, err := c.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	_, err = c.Conversation(ctx, "u3", domainchat.ListingContext{})
	require.NoError(t, err)

	inbox, err := c.Inbox(ctx)
	require.NoError(t, err)
	assert.Len(t, inbox, 2)
}

// Two users on one store: U1 starts a chat from a stay listing, U2 finds the same
// conversation, and messages travel both ways without duplicates.
func TestTwoUserConversation(t *testing.T) {
	store := newFakeStore()
	store.broadcast = true
	ctx := context.Background()
	u1 := newTestCoordinator(t, "U1", store)
	u2 := newTestCoordinator(t, "U2", store)

	conv, err := u1.Conversation(ctx, "U2", domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay})
	require.NoError(t, err)
	same, err := u2.Conversation(ctx, "U1", domainchat.ListingContext{})
	require.NoError(t, err)
	require.Equal(t, conv, same)
	assert.Equal(t, 1, store.insertConversationCalls)

	s1, err := u1.Open(ctx, conv, nil)
	require.NoError(t, err)
	s2, err := u2.Open(ctx, conv, nil)
	require.NoError(t, err)

	_, err = s1.Send(ctx, "Is the cabin free in May?")
	require.NoError(t, err)
	_, err = s2.Send(ctx, "Yes, from the 3rd.")
	require.NoError(t, err)

	m1, m2 := s1.Messages(), s2.Messages()
	assert.Equal(t, []string{"Is the cabin free in May?", "Yes, from the 3rd."}, contents(m1))
	assert.Equal(t, []string{"Is the cabin free in May?", "Yes, from the 3rd."}, contents(m2))
	assert.True(t, m1[0].IsSelf)
	assert.False(t, m1[1].IsSelf)
	assert.False(t, m2[0].IsSelf)
	assert.True(t, m2[1].IsSelf)
	for _, e := range append(m1, m2...) {
		assert.Equal(t, Confirmed, e.State)
	}

	details, err := u2.Details(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, "L1", details.ListingID)
	assert.Equal(t, domainchat.ListingStay, details.ListingKind)
}
