package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	domainchat "marketchat/internal/domain/chat"
)

// Multiplexer keeps at most one store channel per conversation and fans its
// insert events out to every local listener.
type Multiplexer struct {
	feed   domainchat.Feed
	logger *slog.Logger

	mu     sync.Mutex
	regs   map[string]*registration
	nextID uint64
	closed bool
}

var errMultiplexerClosed = errors.New("chat: multiplexer closed")

type registration struct {
	conversationID string
	// ready is closed once the store channel is open or failed.
	ready     chan struct{}
	handle    domainchat.ChannelHandle
	err       error
	listeners []listener
	// waiting counts subscribers blocked on ready.
	waiting int

	stopped  chan struct{}
	stopOnce sync.Once
}

func newRegistration(conversationID string) *registration {
	return &registration{
		conversationID: conversationID,
		ready:          make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

func (r *registration) stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

type listener struct {
	id     uint64
	fn     func(domainchat.Message)
	onLost func(error)
}

func NewMultiplexer(feed domainchat.Feed, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Multiplexer{
		feed:   feed,
		logger: logger,
		regs:   make(map[string]*registration),
	}
}

// Subscribe registers onMessage for conversationID. The first listener of a conversation
// opens the store channel; later ones share it. Channel setup runs detached from ctx, so
// a subscriber giving up does not fail the others waiting on the same channel.
//
// onLost, when not nil, is called with a *SubscriptionError if the store drops the
// channel later on; the listener is gone by then. The returned function removes only this
// listener and is safe to call more than once.
func (m *Multiplexer) Subscribe(ctx context.Context, conversationID string, onMessage func(domainchat.Message), onLost func(error)) (func(), error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, &SubscriptionError{ConversationID: conversationID, Err: errMultiplexerClosed}
		}
		reg, ok := m.regs[conversationID]
		if !ok {
			reg = newRegistration(conversationID)
			m.regs[conversationID] = reg
			go m.connect(context.WithoutCancel(ctx), reg)
		}
		reg.waiting++
		m.mu.Unlock()

		select {
		case <-reg.ready:
		case <-ctx.Done():
			select {
			case <-reg.ready:
			default:
				m.abandon(reg)
				return nil, ctx.Err()
			}
		}

		m.mu.Lock()
		reg.waiting--
		if reg.err != nil {
			m.mu.Unlock()
			return nil, &SubscriptionError{ConversationID: conversationID, Err: reg.err}
		}
		if m.closed {
			m.mu.Unlock()
			return nil, &SubscriptionError{ConversationID: conversationID, Err: errMultiplexerClosed}
		}
		if m.regs[conversationID] != reg {
			// torn down between the channel opening and this listener joining
			m.mu.Unlock()
			continue
		}
		m.nextID++
		l := listener{id: m.nextID, fn: onMessage, onLost: onLost}
		reg.listeners = append(reg.listeners, l)
		m.mu.Unlock()

		var once sync.Once
		return func() {
			once.Do(func() { m.remove(reg, l.id) })
		}, nil
	}
}

func (m *Multiplexer) connect(ctx context.Context, reg *registration) {
	ctx, cancel := context.WithTimeout(ctx, detachedTimeout)
	handle, err := m.feed.SubscribeInserts(ctx, reg.conversationID, func(msg domainchat.Message) {
		m.dispatch(reg, msg)
	})
	cancel()

	m.mu.Lock()
	reg.handle, reg.err = handle, err
	current := m.regs[reg.conversationID] == reg
	if err != nil && current {
		delete(m.regs, reg.conversationID)
	}
	idle := err == nil && current && reg.waiting == 0 && len(reg.listeners) == 0
	if idle {
		delete(m.regs, reg.conversationID)
		reg.stop()
	} else if err == nil && current && handle.Lost != nil {
		go m.watch(reg)
	}
	close(reg.ready)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("realtime channel setup failed", "conversation_id", reg.conversationID, "error", err)
		return
	}
	m.logger.Debug("realtime channel opened", "conversation_id", reg.conversationID, "channel_id", handle.ID)
	if idle {
		// every subscriber gave up while the channel was opening
		m.closeChannel(reg)
	}
}

// abandon is called by a subscriber that stops waiting for reg. The last one out of an
// already open, listener-less registration closes its channel.
func (m *Multiplexer) abandon(reg *registration) {
	m.mu.Lock()
	reg.waiting--
	idle := false
	select {
	case <-reg.ready:
		idle = reg.err == nil && reg.waiting == 0 && len(reg.listeners) == 0 && m.regs[reg.conversationID] == reg
	default:
	}
	if idle {
		delete(m.regs, reg.conversationID)
		reg.stop()
	}
	m.mu.Unlock()

	if idle {
		m.closeChannel(reg)
	}
}

func (m *Multiplexer) watch(reg *registration) {
	select {
	case err := <-reg.handle.Lost:
		m.lose(reg, err)
	case <-reg.stopped:
	}
}

// lose evicts a registration whose channel the store dropped and tells its listeners.
func (m *Multiplexer) lose(reg *registration, err error) {
	m.mu.Lock()
	if m.regs[reg.conversationID] != reg {
		m.mu.Unlock()
		return
	}
	delete(m.regs, reg.conversationID)
	listeners := reg.listeners
	reg.listeners = nil
	m.mu.Unlock()

	m.logger.Warn("realtime channel lost", "conversation_id", reg.conversationID, "channel_id", reg.handle.ID, "listeners", len(listeners), "error", err)
	m.closeChannel(reg)

	lost := &SubscriptionError{ConversationID: reg.conversationID, Err: err}
	for _, l := range listeners {
		if l.onLost != nil {
			m.notifyLost(reg.conversationID, l, lost)
		}
	}
}

func (m *Multiplexer) notifyLost(conversationID string, l listener, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("chat listener panicked on channel loss", "conversation_id", conversationID, "panic", r)
		}
	}()
	l.onLost(err)
}

func (m *Multiplexer) dispatch(reg *registration, msg domainchat.Message) {
	m.mu.Lock()
	if m.regs[reg.conversationID] != reg {
		m.mu.Unlock()
		return
	}
	snapshot := make([]listener, len(reg.listeners))
	copy(snapshot, reg.listeners)
	m.mu.Unlock()

	for _, l := range snapshot {
		m.invoke(reg.conversationID, l, msg)
	}
}

func (m *Multiplexer) invoke(conversationID string, l listener, msg domainchat.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("chat listener panicked", "conversation_id", conversationID, "message_id", msg.ID, "panic", r)
		}
	}()
	l.fn(msg)
}

func (m *Multiplexer) remove(reg *registration, id uint64) {
	m.mu.Lock()
	if m.regs[reg.conversationID] != reg {
		m.mu.Unlock()
		return
	}
	for i, l := range reg.listeners {
		if l.id == id {
			reg.listeners = append(reg.listeners[:i:i], reg.listeners[i+1:]...)
			break
		}
	}
	if len(reg.listeners) > 0 || reg.waiting > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.regs, reg.conversationID)
	reg.stop()
	m.mu.Unlock()

	m.closeChannel(reg)
}

func (m *Multiplexer) closeChannel(reg *registration) {
	if err := m.feed.CloseChannel(reg.handle); err != nil {
		m.logger.Warn("realtime channel close failed", "conversation_id", reg.conversationID, "channel_id", reg.handle.ID, "error", err)
		return
	}
	m.logger.Debug("realtime channel closed", "conversation_id", reg.conversationID, "channel_id", reg.handle.ID)
}

// Close tears down every live channel. Outstanding unsubscribe functions become no-ops.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	live := make([]*registration, 0, len(m.regs))
	for id, reg := range m.regs {
		delete(m.regs, id)
		reg.stop()
		select {
		case <-reg.ready:
			if reg.err == nil {
				live = append(live, reg)
			}
		default:
			// still connecting; the channel is closed once connect returns
			go m.closeWhenReady(reg)
		}
	}
	m.mu.Unlock()

	for _, reg := range live {
		m.closeChannel(reg)
	}
}

func (m *Multiplexer) closeWhenReady(reg *registration) {
	<-reg.ready
	if reg.err == nil {
		m.closeChannel(reg)
	}
}

// Channels reports how many conversations currently hold a store channel.
func (m *Multiplexer) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Listeners reports how many local listeners are registered for conversationID.
func (m *Multiplexer) Listeners(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.regs[conversationID]; ok {
		return len(reg.listeners)
	}
	return 0
}
