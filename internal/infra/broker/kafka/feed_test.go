package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

type loopback struct {
	feed    *Feed
	topic   string
	key     string
	headers map[string]string
}

func (l *loopback) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	l.topic, l.key, l.headers = topic, key, headers
	return l.feed.Handle(ctx, &sarama.ConsumerMessage{Topic: topic, Key: []byte(key), Value: payload})
}

func TestFeed_AnnounceReachesLocalSubscribers(t *testing.T) {
	lb := &loopback{}
	f := NewFeed(lb, "chat.inserts", nil)
	lb.feed = f

	var got []domainchat.Message
	handle, err := f.SubscribeInserts(context.Background(), "c1", func(m domainchat.Message) { got = append(got, m) })
	require.NoError(t, err)

	sent := domainchat.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi", CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, f.Announce(context.Background(), sent))

	assert.Equal(t, []domainchat.Message{sent}, got)
	assert.Equal(t, "chat.inserts", lb.topic)
	assert.Equal(t, "c1", lb.key)
	assert.Equal(t, EventMessageInserted, lb.headers["event_type"])

	require.NoError(t, f.CloseChannel(handle))
	require.NoError(t, f.Announce(context.Background(), sent))
	assert.Len(t, got, 1)
}

func TestFeed_HandleRejectsMalformedRecords(t *testing.T) {
	f := NewFeed(nil, "chat.inserts", nil)
	assert.Error(t, f.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}))

	payload, err := json.Marshal(messageEvent{Content: "no ids"})
	require.NoError(t, err)
	assert.Error(t, f.Handle(context.Background(), &sarama.ConsumerMessage{Value: payload}))
}

func TestGroupIDUniquePerInstance(t *testing.T) {
	a, b := GroupID("marketchat-feed"), GroupID("marketchat-feed")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "marketchat-feed-"))
}

func TestProducerConfig(t *testing.T) {
	cfg := ProducerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "marketchat-messaging", cfg.ClientID)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.CompressionSnappy, cfg.Producer.Compression)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)

	// one conversation always lands on one partition
	part := cfg.Producer.Partitioner("chat.inserts")
	first, err := part.Partition(&sarama.ProducerMessage{Key: sarama.StringEncoder("c1")}, 12)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := part.Partition(&sarama.ProducerMessage{Key: sarama.StringEncoder("c1")}, 12)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestProducer_Publish(t *testing.T) {
	sync := mocks.NewSyncProducer(t, ProducerConfig())
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		if msg.Topic != "chat.inserts" || string(key) != "c1" || string(value) != `{"ok":true}` {
			return assert.AnError
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "event_type" || string(msg.Headers[0].Value) != EventMessageInserted {
			return assert.AnError
		}
		return nil
	})
	p := newProducer(sync, nil)

	require.NoError(t, p.Publish(context.Background(), "chat.inserts", "c1", []byte(`{"ok":true}`), map[string]string{"event_type": EventMessageInserted}))
	require.NoError(t, p.Close())
}

func TestProducer_PublishFailure(t *testing.T) {
	sync := mocks.NewSyncProducer(t, ProducerConfig())
	sync.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := newProducer(sync, nil)

	err := p.Publish(context.Background(), "chat.inserts", "c1", []byte("{}"), nil)
	require.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "chat.inserts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "chat.inserts", "c1", []byte("{}"), nil), context.Canceled)
	require.NoError(t, p.Close())
}
