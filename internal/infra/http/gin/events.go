package ginserver

import (
	"sync"
	"time"

	"marketchat/internal/app/chat"
	"marketchat/internal/app/dto"
)

// subscriberBuffer bounds the events queued for one stream; a slow client loses events
// and catches up through the snapshot endpoint.
const subscriberBuffer = 32

// topic fans the changes of one session out to its event streams.
type topic struct {
	mu     sync.Mutex
	subs   map[chan dto.SessionEvent]struct{}
	closed bool
	// lastActive is when the session was last used or lost its last stream.
	lastActive time.Time
}

func newTopic() *topic {
	return &topic{subs: make(map[chan dto.SessionEvent]struct{}), lastActive: time.Now()}
}

// observe is installed as the session observer, so it runs under the session lock and never blocks.
func (t *topic) observe(change chat.Change) {
	ev := dto.FromChange(change)
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *topic) subscribe() (<-chan dto.SessionEvent, func()) {
	ch := make(chan dto.SessionEvent, subscriberBuffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subs[ch] = struct{}{}
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
			t.lastActive = time.Now()
		}
	}
}

func (t *topic) touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActive = now
}

// idle reports whether the topic has had no stream since before cutoff.
func (t *topic) idle(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs) == 0 && t.lastActive.Before(cutoff)
}

func (t *topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}

func (t *topic) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// sessionEvents indexes topics by session id and by owner.
type sessionEvents struct {
	mu       sync.Mutex
	topics   map[string]*topic
	byOwner  map[string]map[string]struct{}
	sessions map[string]sessionRef
}

type sessionRef struct {
	owner   string
	session *chat.Session
}

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		topics:   make(map[string]*topic),
		byOwner:  make(map[string]map[string]struct{}),
		sessions: make(map[string]sessionRef),
	}
}

func (e *sessionEvents) register(owner string, s *chat.Session, t *topic) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics[s.ID()] = t
	e.sessions[s.ID()] = sessionRef{owner: owner, session: s}
	if e.byOwner[owner] == nil {
		e.byOwner[owner] = make(map[string]struct{})
	}
	e.byOwner[owner][s.ID()] = struct{}{}
}

func (e *sessionEvents) touch(sessionID string, now time.Time) {
	if t, ok := e.lookup(sessionID); ok {
		t.touch(now)
	}
}

// expire unregisters the sessions idle since before cutoff, closes their topics and
// returns them for the caller to close.
func (e *sessionEvents) expire(cutoff time.Time) []*chat.Session {
	e.mu.Lock()
	var (
		expired []*chat.Session
		closing []*topic
	)
	for id, t := range e.topics {
		if !t.idle(cutoff) {
			continue
		}
		ref := e.sessions[id]
		e.unregisterLocked(ref.owner, id)
		closing = append(closing, t)
		if ref.session != nil {
			expired = append(expired, ref.session)
		}
	}
	e.mu.Unlock()
	for _, t := range closing {
		t.close()
	}
	return expired
}

func (e *sessionEvents) unregisterLocked(owner, sessionID string) {
	delete(e.topics, sessionID)
	delete(e.sessions, sessionID)
	if ids := e.byOwner[owner]; ids != nil {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(e.byOwner, owner)
		}
	}
}

func (e *sessionEvents) lookup(sessionID string) (*topic, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.topics[sessionID]
	return t, ok
}

func (e *sessionEvents) closeSession(owner, sessionID string) {
	e.mu.Lock()
	t, ok := e.topics[sessionID]
	e.unregisterLocked(owner, sessionID)
	e.mu.Unlock()
	if ok {
		t.close()
	}
}

// closeOwner ends every stream of owner's sessions.
func (e *sessionEvents) closeOwner(owner string) {
	e.mu.Lock()
	ids := e.byOwner[owner]
	delete(e.byOwner, owner)
	closing := make([]*topic, 0, len(ids))
	for id := range ids {
		if t, ok := e.topics[id]; ok {
			closing = append(closing, t)
			delete(e.topics, id)
		}
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	for _, t := range closing {
		t.close()
	}
}

func (e *sessionEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.topics)
}
