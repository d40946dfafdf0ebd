package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domainchat "marketchat/internal/domain/chat"
)

var errStoreDown = errors.New("store down")

// fakeStore is an in-memory store that records calls and lets tests inject failures and
// deliver insert events by hand.
type fakeStore struct {
	mu sync.Mutex

	seq           int
	conversations map[string]domainchat.ListingContext
	participants  map[string][]string // conversation -> users
	messages      map[string][]domainchat.Message
	channels      map[string]func(domainchat.Message)
	channelConv   map[string]string
	channelLost   map[string]chan error

	insertConversationCalls int
	insertParticipantCalls  int
	insertMessageCalls      int
	subscribeCalls          int
	closeCalls              int
	listCalls               int

	failInsertMessage     error
	failSubscribe         error
	failList              error
	failParticipantOf     string
	failListConversations error

	// broadcast delivers inserted messages to open channels from InsertMessage.
	broadcast bool
	// blockInsert, when set, is received from before InsertMessage returns.
	blockInsert chan struct{}
	// slowResolve delays ListConversationIDsForUser.
	slowResolve time.Duration
	// listGate and subscribeGate, when set, hold ListConversationIDsForUser and
	// SubscribeInserts until closed or until the caller's ctx ends.
	listGate      chan struct{}
	subscribeGate chan struct{}
}

func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]domainchat.ListingContext),
		participants:  make(map[string][]string),
		messages:      make(map[string][]domainchat.Message),
		channels:      make(map[string]func(domainchat.Message)),
		channelConv:   make(map[string]string),
		channelLost:   make(map[string]chan error),
	}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *fakeStore) InsertConversation(_ context.Context, listing domainchat.ListingContext) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertConversationCalls++
	id := s.nextID("c")
	s.conversations[id] = listing
	return id, nil
}

func (s *fakeStore) InsertParticipant(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertParticipantCalls++
	if s.failParticipantOf != "" && s.failParticipantOf == userID {
		return errStoreDown
	}
	s.participants[conversationID] = append(s.participants[conversationID], userID)
	return nil
}

func (s *fakeStore) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.slowResolve > 0 {
		time.Sleep(s.slowResolve)
	}
	if err := waitGate(ctx, s.listGate); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListConversations != nil {
		return nil, s.failListConversations
	}
	var ids []string
	for conv, users := range s.participants {
		for _, u := range users {
			if u == userID {
				ids = append(ids, conv)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	if s.blockInsert != nil {
		<-s.blockInsert
	}
	s.mu.Lock()
	s.insertMessageCalls++
	if s.failInsertMessage != nil {
		err := s.failInsertMessage
		s.mu.Unlock()
		return domainchat.Message{}, err
	}
	msg := domainchat.Message{
		ID:             s.nextID("m"),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Unix(int64(s.seq), 0).UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	var targets []func(domainchat.Message)
	if s.broadcast {
		for id, fn := range s.channels {
			if s.channelConv[id] == conversationID {
				targets = append(targets, fn)
			}
		}
	}
	s.mu.Unlock()

	for _, fn := range targets {
		fn(msg)
	}
	return msg, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.failList != nil {
		return nil, s.failList
	}
	all := s.messages[conversationID]
	out := make([]domainchat.Message, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetConversationDetails(_ context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.conversations[conversationID]
	if !ok {
		return domainchat.ConversationDetails{}, domainchat.ErrConversationNotFound
	}
	details := domainchat.ConversationDetails{
		ConversationID: conversationID,
		Title:          listing.Title,
		ListingID:      listing.ListingID,
		ListingKind:    listing.ListingKind,
	}
	for _, u := range s.participants[conversationID] {
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: u})
	}
	return details, nil
}

func (s *fakeStore) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if err := waitGate(ctx, s.subscribeGate); err != nil {
		return domainchat.ChannelHandle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeCalls++
	if s.failSubscribe != nil {
		return domainchat.ChannelHandle{}, s.failSubscribe
	}
	id := s.nextID("ch")
	lost := make(chan error, 1)
	s.channels[id] = onInsert
	s.channelConv[id] = conversationID
	s.channelLost[id] = lost
	return domainchat.ChannelHandle{ID: id, ConversationID: conversationID, Lost: lost}, nil
}

func (s *fakeStore) CloseChannel(handle domainchat.ChannelHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	delete(s.channels, handle.ID)
	delete(s.channelConv, handle.ID)
	delete(s.channelLost, handle.ID)
	return nil
}

// lose drops every open channel of conversationID as a broken feed would.
func (s *fakeStore) lose(conversationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conv := range s.channelConv {
		if conv != conversationID {
			continue
		}
		s.channelLost[id] <- err
		delete(s.channels, id)
		delete(s.channelConv, id)
		delete(s.channelLost, id)
	}
}

// emit delivers msg to every open channel of its conversation.
func (s *fakeStore) emit(msg domainchat.Message) {
	s.mu.Lock()
	var targets []func(domainchat.Message)
	for id, fn := range s.channels {
		if s.channelConv[id] == msg.ConversationID {
			targets = append(targets, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range targets {
		fn(msg)
	}
}

func (s *fakeStore) openChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func (s *fakeStore) calls() (subscribe, closeChannel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls, s.closeCalls
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertConversationCalls + s.insertParticipantCalls + s.insertMessageCalls
}

func (s *fakeStore) seed(conversationID string, msgs ...domainchat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msgs...)
}
