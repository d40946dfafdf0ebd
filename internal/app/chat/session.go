package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	domainchat "marketchat/internal/domain/chat"
)

type Mode int

const (
	// ModeLive sessions receive the other party's messages in realtime.
	ModeLive Mode = iota + 1
	// ModeFetchOnly sessions have no realtime channel; Refresh or Resubscribe bring them up to date.
	ModeFetchOnly
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeFetchOnly:
		return "fetch_only"
	default:
		return "closed"
	}
}

type ChangeKind int

const (
	ChangeAppended ChangeKind = iota + 1
	ChangeRemoved
	ChangeConfirmed
	// ChangeDegraded reports that the realtime channel was lost and the session is now
	// fetch-only. Entry is empty and Err holds the *SubscriptionError.
	ChangeDegraded
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAppended:
		return "appended"
	case ChangeRemoved:
		return "removed"
	case ChangeConfirmed:
		return "confirmed"
	case ChangeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Change struct {
	Kind  ChangeKind
	Entry Entry
	Err   error
}

// Observer is called with the session lock held and must not call back into the Session.
type Observer func(Change)

// Session is the message list of one open chat.
type Session struct {
	id             string
	conversationID string
	selfID         string

	store        domainchat.Repository
	mux          *Multiplexer
	logger       *slog.Logger
	now          func() time.Time
	newLocalID   func() string
	historyLimit int
	observer     Observer
	onClose      func(*Session)

	mu          sync.Mutex
	entries     []Entry
	sending     bool
	closed      bool
	unsubscribe func()
	current     *attempt
	subErr      error
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ConversationID() string { return s.conversationID }

// Messages returns a copy of the visible list, oldest first.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return 0
	case s.unsubscribe != nil:
		return ModeLive
	default:
		return ModeFetchOnly
	}
}

// SubscriptionErr is the last realtime setup failure or channel loss, nil in live mode.
func (s *Session) SubscriptionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subErr
}

func (s *Session) open(ctx context.Context) error {
	history, err := s.store.ListMessages(ctx, s.conversationID, s.historyLimit, 0)
	if err != nil {
		return persistence("list messages", err)
	}
	entries := make([]Entry, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		entries = append(entries, confirmedEntry(history[i], s.selfID))
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.subscribe(ctx)
	return nil
}

// attempt ties a channel-loss callback to the subscription it belongs to.
type attempt struct {
	lost error
}

func (s *Session) subscribe(ctx context.Context) {
	a := &attempt{}
	unsubscribe, err := s.mux.Subscribe(ctx, s.conversationID, s.handleIncoming, func(err error) { s.handleLost(a, err) })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	if err == nil && a.lost != nil {
		// dropped before this session took it over
		err = a.lost
	}
	if err != nil {
		s.subErr = err
		s.mu.Unlock()
		s.logger.Warn("chat session running without realtime updates", "session_id", s.id, "conversation_id", s.conversationID, "error", err)
		return
	}
	s.current = a
	s.unsubscribe = unsubscribe
	s.subErr = nil
	s.mu.Unlock()
}

// Resubscribe retries the realtime channel of a fetch-only session. It reports the setup
// error when the retry fails again.
func (s *Session) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.subscribe(ctx)
	return s.SubscriptionErr()
}

// Send appends text optimistically and persists it. On failure the provisional entry is
// removed again and a *PersistenceError is returned.
func (s *Session) Send(ctx context.Context, text string) (domainchat.Message, error) {
	content := norm.NFC.String(strings.TrimSpace(text))
	if content == "" {
		return domainchat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domainchat.Message{}, ErrSessionClosed
	}
	if s.sending {
		s.mu.Unlock()
		return domainchat.Message{}, ErrSendInFlight
	}
	s.sending = true
	entry := Entry{
		State:   Provisional,
		LocalID: s.newLocalID(),
		Message: domainchat.Message{
			ConversationID: s.conversationID,
			SenderID:       s.selfID,
			Content:        content,
			CreatedAt:      s.now(),
		},
		IsSelf: true,
	}
	s.entries = append(s.entries, entry)
	s.notify(ChangeAppended, entry)
	s.mu.Unlock()

	msg, err := s.store.InsertMessage(ctx, s.conversationID, s.selfID, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if err != nil {
		if !s.closed {
			var removed bool
			if s.entries, removed = removeLocal(s.entries, entry.LocalID); removed {
				s.notify(ChangeRemoved, entry)
			}
		}
		s.logger.Warn("chat message not persisted", "session_id", s.id, "conversation_id", s.conversationID, "error", err)
		return domainchat.Message{}, persistence("send message", err)
	}
	if !s.closed {
		s.entries = Reconcile(s.entries, entry.LocalID, msg)
		if i := indexOfMessage(s.entries, msg.ID); i >= 0 {
			s.notify(ChangeConfirmed, s.entries[i])
		}
	}
	return msg, nil
}

// Refresh fetches the latest page and appends messages the session has not seen yet.
func (s *Session) Refresh(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if s.sending {
		s.mu.Unlock()
		return 0, ErrSendInFlight
	}
	s.mu.Unlock()

	latest, err := s.store.ListMessages(ctx, s.conversationID, s.historyLimit, 0)
	if err != nil {
		return 0, persistence("list messages", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil
	}
	added := 0
	for i := len(latest) - 1; i >= 0; i-- {
		if indexOfMessage(s.entries, latest[i].ID) >= 0 {
			continue
		}
		entry := confirmedEntry(latest[i], s.selfID)
		s.entries = append(s.entries, entry)
		s.notify(ChangeAppended, entry)
		added++
	}
	return added, nil
}

func (s *Session) handleIncoming(msg domainchat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if msg.SenderID == s.selfID {
		// already on screen through the optimistic append
		return
	}
	if indexOfMessage(s.entries, msg.ID) >= 0 {
		return
	}
	entry := confirmedEntry(msg, s.selfID)
	s.entries = append(s.entries, entry)
	s.notify(ChangeAppended, entry)
}

// handleLost moves a live session to fetch-only mode once the multiplexer has dropped
// its channel; Resubscribe can bring it back.
func (s *Session) handleLost(a *attempt, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.current != a {
		a.lost = err
		return
	}
	s.current = nil
	s.unsubscribe = nil
	s.subErr = err
	s.logger.Warn("chat session lost realtime updates", "session_id", s.id, "conversation_id", s.conversationID, "error", err)
	if s.observer != nil {
		s.observer(Change{Kind: ChangeDegraded, Err: err})
	}
}

func (s *Session) notify(kind ChangeKind, entry Entry) {
	if s.observer != nil {
		s.observer(Change{Kind: kind, Entry: entry})
	}
}

// Close stops realtime delivery and drops the message list. In-flight calls are not
// aborted; their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.entries = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.current = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}
