package feed

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	domainchat "marketchat/internal/domain/chat"
)

// Hub is an in-process insert feed. Store adapters publish every inserted message and
// the hub calls the subscribers of its conversation synchronously.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byConv map[string]map[string]subscriber
}

type subscriber struct {
	onInsert func(domainchat.Message)
	lost     chan error
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, byConv: make(map[string]map[string]subscriber)}
}

func (h *Hub) Subscribe(conversationID string, onInsert func(domainchat.Message)) domainchat.ChannelHandle {
	lost := make(chan error, 1)
	handle := domainchat.ChannelHandle{ID: uuid.NewString(), ConversationID: conversationID, Lost: lost}
	h.mu.Lock()
	subs, ok := h.byConv[conversationID]
	if !ok {
		subs = make(map[string]subscriber)
		h.byConv[conversationID] = subs
	}
	subs[handle.ID] = subscriber{onInsert: onInsert, lost: lost}
	h.mu.Unlock()
	return handle
}

// Close removes the subscription. Unknown handles are ignored.
func (h *Hub) Close(handle domainchat.ChannelHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.byConv[handle.ConversationID]
	if !ok {
		return
	}
	delete(subs, handle.ID)
	if len(subs) == 0 {
		delete(h.byConv, handle.ConversationID)
	}
}

// Drop ends every subscription and reports err on their Lost channels. Used when the
// source feeding the hub goes away.
func (h *Hub) Drop(err error) int {
	h.mu.Lock()
	dropped := h.byConv
	h.byConv = make(map[string]map[string]subscriber)
	h.mu.Unlock()

	n := 0
	for _, subs := range dropped {
		for _, sub := range subs {
			sub.lost <- err
			n++
		}
	}
	if n > 0 && h.logger != nil {
		h.logger.Warn("insert subscriptions dropped", "subscriptions", n, "error", err)
	}
	return n
}

func (h *Hub) Publish(msg domainchat.Message) {
	h.mu.RLock()
	subs := h.byConv[msg.ConversationID]
	targets := make([]func(domainchat.Message), 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub.onInsert)
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		h.deliver(fn, msg)
	}
}

func (h *Hub) deliver(fn func(domainchat.Message), msg domainchat.Message) {
	defer func() {
		if r := recover(); r != nil && h.logger != nil {
			h.logger.Error("insert subscriber panicked", "conversation_id", msg.ConversationID, "message_id", msg.ID, "panic", r)
		}
	}()
	fn(msg)
}

// Size reports the number of open subscriptions.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.byConv {
		n += len(subs)
	}
	return n
}
