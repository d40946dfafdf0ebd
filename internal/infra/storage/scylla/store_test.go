package scylla

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

func TestPageSkipsOffset(t *testing.T) {
	msgs := []domainchat.Message{{ID: "m3"}, {ID: "m2"}, {ID: "m1"}}
	assert.Equal(t, []domainchat.Message{{ID: "m2"}, {ID: "m1"}}, page(msgs, 1))
	assert.Empty(t, page(msgs, 3))
	assert.Len(t, page(msgs, 0), 3)
}

func TestParseConversationID(t *testing.T) {
	_, err := parseConversationID("not-a-uuid")
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)

	id, err := parseConversationID(" 4d4b5f5e-8a8e-11ee-b9d1-0242ac120002 ")
	require.NoError(t, err)
	assert.Equal(t, "4d4b5f5e-8a8e-11ee-b9d1-0242ac120002", id.String())
}

func TestTrimSnippet(t *testing.T) {
	assert.Equal(t, "héll", trimSnippet("  héllo ", 4))
	assert.Equal(t, "hi", trimSnippet("hi", 10))
	assert.Empty(t, trimSnippet("hi", 0))
}

func TestTableStatementsUseKeyspace(t *testing.T) {
	for _, stmt := range tableStatements("chat_ks") {
		assert.True(t, strings.Contains(stmt, "chat_ks."), stmt)
	}
}

func TestStoreWithoutSession(t *testing.T) {
	s := NewStore(nil, nil, nil)
	_, err := s.InsertConversation(context.Background(), domainchat.ListingContext{})
	assert.ErrorIs(t, err, errNoSession)
	_, err = s.SubscribeInserts(context.Background(), "c1", func(domainchat.Message) {})
	assert.Error(t, err)
	assert.NoError(t, s.CloseChannel(domainchat.ChannelHandle{}))
}
