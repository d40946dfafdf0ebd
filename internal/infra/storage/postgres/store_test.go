package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

func TestSubscribeRefusedWhileListenerDown(t *testing.T) {
	s := NewStore(nil, nil)

	_, err := s.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	assert.ErrorIs(t, err, ErrListenerDown)

	s.listener.connected.Store(true)
	handle, err := s.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	require.NoError(t, err)
	assert.Equal(t, "c1", handle.ConversationID)
	require.NoError(t, s.CloseChannel(handle))
}

func TestListenerDisconnectDropsSubscriptions(t *testing.T) {
	s := NewStore(nil, nil)
	s.listener.connected.Store(true)
	handle, err := s.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	require.NoError(t, err)

	s.listener.disconnected(assert.AnError)

	assert.False(t, s.listener.Connected())
	assert.ErrorIs(t, <-handle.Lost, ErrListenerDown)
	_, err = s.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	assert.ErrorIs(t, err, ErrListenerDown)
}

func TestListenerIgnoresMalformedPayload(t *testing.T) {
	s := NewStore(nil, nil)
	assert.NotPanics(t, func() { s.listener.handle(context.Background(), "{not json") })
}

func TestIsForeignKeyViolation(t *testing.T) {
	assert.True(t, isForeignKeyViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23503"})))
	assert.False(t, isForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isForeignKeyViolation(assert.AnError))
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable("  "))
	require.NotNil(t, nullable("L1"))
	assert.Equal(t, "L1", *nullable("L1"))
	assert.Equal(t, "", deref(nil))
}

// Runs against a real database when POSTGRES_TEST_URL is set.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, EnsureSchema(ctx, pool))

	s := NewStore(pool, nil)
	listenCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.Listener().Run(listenCtx)
	require.Eventually(t, s.Listener().Connected, 5*time.Second, 20*time.Millisecond)

	id, err := s.InsertConversation(ctx, domainchat.ListingContext{ListingID: "L1", ListingKind: domainchat.ListingStay})
	require.NoError(t, err)
	require.NoError(t, s.InsertParticipant(ctx, id, "u1"))
	require.NoError(t, s.InsertParticipant(ctx, id, "u2"))

	got := make(chan domainchat.Message, 1)
	handle, err := s.SubscribeInserts(ctx, id, func(m domainchat.Message) { got <- m })
	require.NoError(t, err)
	defer s.CloseChannel(handle)

	sent, err := s.InsertMessage(ctx, id, "u1", "hello")
	require.NoError(t, err)
	select {
	case m := <-got:
		assert.Equal(t, sent.ID, m.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("insert notification not received")
	}

	page, err := s.ListMessages(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	details, err := s.GetConversationDetails(ctx, id)
	require.NoError(t, err)
	assert.Len(t, details.Participants, 2)
}
