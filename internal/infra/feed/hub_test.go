package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	domainchat "marketchat/internal/domain/chat"
)

func TestHub_PublishToConversationOnly(t *testing.T) {
	h := NewHub(nil)
	var a, b []string
	h.Subscribe("c1", func(m domainchat.Message) { a = append(a, m.ID) })
	h.Subscribe("c2", func(m domainchat.Message) { b = append(b, m.ID) })

	h.Publish(domainchat.Message{ID: "m1", ConversationID: "c1"})

	assert.Equal(t, []string{"m1"}, a)
	assert.Empty(t, b)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	handle := h.Subscribe("c1", func(domainchat.Message) { calls++ })
	assert.Equal(t, 1, h.Size())

	h.Close(handle)
	h.Close(handle)
	h.Close(domainchat.ChannelHandle{ID: "nope", ConversationID: "c9"})
	h.Publish(domainchat.Message{ID: "m1", ConversationID: "c1"})

	assert.Zero(t, calls)
	assert.Zero(t, h.Size())
}

func TestHub_SubscriberPanicRecovered(t *testing.T) {
	h := NewHub(nil)
	got := 0
	h.Subscribe("c1", func(domainchat.Message) { panic("boom") })
	h.Subscribe("c1", func(domainchat.Message) { got++ })

	assert.NotPanics(t, func() { h.Publish(domainchat.Message{ID: "m1", ConversationID: "c1"}) })
	assert.Equal(t, 1, got)
}

func TestHub_DropReportsLoss(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	first := h.Subscribe("c1", func(domainchat.Message) { calls++ })
	second := h.Subscribe("c2", func(domainchat.Message) { calls++ })
	closed := h.Subscribe("c1", func(domainchat.Message) {})
	h.Close(closed)

	down := errors.New("source gone")
	assert.Equal(t, 2, h.Drop(down))
	assert.Zero(t, h.Size())
	assert.ErrorIs(t, <-first.Lost, down)
	assert.ErrorIs(t, <-second.Lost, down)
	assert.Empty(t, closed.Lost)

	h.Publish(domainchat.Message{ID: "m1", ConversationID: "c1"})
	assert.Zero(t, calls)
	assert.Zero(t, h.Drop(down))
}
