package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Listener holds a dedicated connection on LISTEN chat_message_inserts and republishes
// every inserted message to the store's subscribers.
type Listener struct {
	store     *Store
	logger    *slog.Logger
	retry     time.Duration
	connected atomic.Bool
}

type insertNotification struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

func (l *Listener) Connected() bool { return l.connected.Load() }

// Run listens until ctx is cancelled, reconnecting after failures. While disconnected new
// subscriptions are refused, and the subscriptions open when the connection broke are
// dropped with ErrListenerDown so their owners can fall back to fetching.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.connected.Store(false)
			return nil
		}
		l.disconnected(err)
		if l.logger != nil {
			l.logger.Warn("postgres insert listener disconnected", "error", err, "retry_in", l.retry)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) disconnected(err error) {
	l.connected.Store(false)
	l.store.hub.Drop(fmt.Errorf("%w: %v", ErrListenerDown, err))
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	l.connected.Store(true)
	if l.logger != nil {
		l.logger.Info("postgres insert listener connected", "channel", notifyChannel)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var note insertNotification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		if l.logger != nil {
			l.logger.Warn("malformed insert notification", "payload", payload, "error", err)
		}
		return
	}
	msg, err := l.store.messageByID(ctx, note.ID)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("inserted message not loaded", "message_id", note.ID, "conversation_id", note.ConversationID, "error", err)
		}
		return
	}
	l.store.hub.Publish(msg)
}
