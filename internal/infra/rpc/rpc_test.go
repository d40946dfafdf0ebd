package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/app/chat"
	"marketchat/internal/infra/feed"
	"marketchat/internal/infra/storage/memory"
)

type testEnv struct {
	client *Client
	store  *memory.ChatStore
	hub    *feed.Hub
	server *grpc.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hub := feed.NewHub(nil)
	store := memory.NewChatStore(hub)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	Register(srv, &Server{Store: store})
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	client := NewClientConn(conn, 2*time.Second, nil)
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
	})
	return &testEnv{client: client, store: store, hub: hub, server: srv}
}

func newTestClient(t *testing.T) (*Client, *memory.ChatStore) {
	env := newTestEnv(t)
	return env.client, env.store
}

func TestClient_RoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Ready(ctx))

	id, err := client.InsertConversation(ctx, domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay, Title: "Cabin"})
	require.NoError(t, err)
	require.NoError(t, client.InsertParticipant(ctx, id, "u1"))
	require.NoError(t, client.InsertParticipant(ctx, id, "u2"))

	ids, err := client.ListConversationIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	first, err := client.InsertMessage(ctx, id, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Content)
	assert.NotEmpty(t, first.ID)
	_, err = client.InsertMessage(ctx, id, "u2", "hi")
	require.NoError(t, err)

	page, err := client.ListMessages(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "hi", page[0].Content)
	assert.Equal(t, first.ID, page[1].ID)

	details, err := client.GetConversationDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Cabin", details.Title)
	assert.Equal(t, domainchat.ListingStay, details.ListingKind)
	assert.Equal(t, []domainchat.ParticipantProfile{{UserID: "u1"}, {UserID: "u2"}}, details.Participants)
}

func TestClient_ErrorMapping(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetConversationDetails(ctx, "missing")
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)

	assert.ErrorIs(t, client.InsertParticipant(ctx, "missing", "u1"), domainchat.ErrConversationNotFound)
	assert.ErrorIs(t, client.InsertParticipant(ctx, "c1", " "), domainchat.ErrInvalidParticipant)

	_, err = client.InsertConversation(ctx, domainchat.ListingContext{ListingID: "L1", ListingKind: "castle"})
	assert.ErrorIs(t, err, domainchat.ErrInvalidListingKind)
}

func TestClient_SubscribeInserts(t *testing.T) {
	client, store := newTestClient(t)
	ctx := context.Background()

	id, err := client.InsertConversation(ctx, domainchat.ListingContext{})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []string
	)
	handle, err := client.SubscribeInserts(ctx, id, func(m domainchat.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.Content)
	})
	require.NoError(t, err)
	assert.Equal(t, id, handle.ConversationID)
	assert.Equal(t, 1, client.Streams())
	require.Eventually(t, func() bool { return store.Channels() == 1 }, time.Second, 5*time.Millisecond)

	_, err = store.InsertMessage(ctx, id, "u2", "ping")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "ping"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.CloseChannel(handle))
	assert.Zero(t, client.Streams())
	require.Eventually(t, func() bool { return store.Channels() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_SubscribeAfterClose(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Close())

	_, err := client.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func openRemoteSession(t *testing.T, env *testEnv) (*chat.Session, string) {
	t.Helper()
	coord, err := chat.NewCoordinator("u1", env.client, chat.Options{})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	ctx := context.Background()
	id, err := coord.Conversation(ctx, "u2", domainchat.ListingContext{})
	require.NoError(t, err)
	session, err := coord.Open(ctx, id, nil)
	require.NoError(t, err)
	require.Equal(t, chat.ModeLive, session.Mode())
	require.Equal(t, 1, env.client.Streams())
	return session, id
}

func TestSessionDegradesWhenServerGoesAway(t *testing.T) {
	env := newTestEnv(t)
	session, _ := openRemoteSession(t, env)

	env.server.Stop()

	require.Eventually(t, func() bool { return session.Mode() == chat.ModeFetchOnly }, 2*time.Second, 5*time.Millisecond)
	var se *chat.SubscriptionError
	require.ErrorAs(t, session.SubscriptionErr(), &se)
	assert.ErrorIs(t, se, ErrUnavailable)
	assert.Zero(t, env.client.Streams())

	assert.Error(t, session.Resubscribe(context.Background()))
	assert.Equal(t, chat.ModeFetchOnly, session.Mode())
}

func TestSessionRecoversAfterStoreFeedLoss(t *testing.T) {
	env := newTestEnv(t)
	session, id := openRemoteSession(t, env)
	require.Eventually(t, func() bool { return env.store.Channels() == 1 }, time.Second, 5*time.Millisecond)

	// the store's own feed breaks; the server ends the stream and the session notices
	env.hub.Drop(errors.New("feed source gone"))
	require.Eventually(t, func() bool { return session.Mode() == chat.ModeFetchOnly }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, session.SubscriptionErr(), ErrUnavailable)

	require.NoError(t, session.Resubscribe(context.Background()))
	assert.Equal(t, chat.ModeLive, session.Mode())
	assert.Equal(t, 1, env.client.Streams())
	require.Eventually(t, func() bool { return env.store.Channels() == 1 }, time.Second, 5*time.Millisecond)

	_, err := env.store.InsertMessage(context.Background(), id, "u2", "still here")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(session.Messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestToStatusRoundTrip(t *testing.T) {
	for _, err := range []error{
		domainchat.ErrConversationNotFound,
		domainchat.ErrInvalidParticipant,
		domainchat.ErrInvalidListingKind,
		context.DeadlineExceeded,
	} {
		assert.ErrorIs(t, fromStatus(toStatus(err)), err)
	}
	assert.Nil(t, toStatus(nil))
}
