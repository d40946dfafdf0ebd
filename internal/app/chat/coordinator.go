package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domainchat "marketchat/internal/domain/chat"
)

const DefaultHistoryLimit = 50

// detachedTimeout bounds store work shared by several callers. It runs on a context
// detached from whichever caller started it.
const detachedTimeout = 30 * time.Second

type Options struct {
	Logger       *slog.Logger
	HistoryLimit int
	Now          func() time.Time
	NewLocalID   func() string
	Profiles     domainchat.ProfileDirectory
}

// Coordinator holds the chat state of one authenticated identity: the conversation
// cache, the in-flight resolutions, the realtime multiplexer and the open sessions.
type Coordinator struct {
	userID   string
	store    domainchat.Store
	profiles domainchat.ProfileDirectory
	logger   *slog.Logger

	historyLimit int
	now          func() time.Time
	newLocalID   func() string

	resolver *Resolver
	cache    *Cache
	inflight singleflight.Group
	mux      *Multiplexer

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewCoordinator(userID string, store domainchat.Store, opts Options) (*Coordinator, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.ErrNotAuthenticated
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("user_id", userID)
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewLocalID == nil {
		opts.NewLocalID = func() string { return "local-" + uuid.NewString() }
	}
	return &Coordinator{
		userID:       userID,
		store:        store,
		profiles:     opts.Profiles,
		logger:       logger,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
		newLocalID:   opts.NewLocalID,
		resolver:     &Resolver{Store: store, Logger: logger},
		cache:        NewCache(),
		mux:          NewMultiplexer(store, logger),
		sessions:     make(map[string]*Session),
	}, nil
}

func (c *Coordinator) UserID() string { return c.userID }

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conversation returns the conversation between the current user and otherID, resolving
// and caching it on first use. Concurrent calls for the same pair share one resolution;
// each caller stops waiting when its own ctx ends without failing the others.
func (c *Coordinator) Conversation(ctx context.Context, otherID string, listing domainchat.ListingContext) (string, error) {
	if c.isClosed() {
		return "", domainchat.ErrNotAuthenticated
	}
	otherID = strings.TrimSpace(otherID)
	if otherID == c.userID {
		return "", domainchat.ErrSelfConversation
	}
	if id, ok := c.cache.Get(c.userID, otherID); ok {
		return id, nil
	}

	key := domainchat.PairKey(c.userID, otherID)
	results := c.inflight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
		defer cancel()
		id, err := c.resolver.Resolve(rctx, c.userID, otherID, listing)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		if !c.closed {
			c.cache.Put(c.userID, otherID, id)
		}
		c.mu.Unlock()
		return id, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("conversation resolution shared", "other_user_id", otherID)
		}
		return res.Val.(string), nil
	}
}

// Preload resolves the conversation in the background. The channel receives the result
// and is closed.
func (c *Coordinator) Preload(ctx context.Context, otherID string, listing domainchat.ListingContext) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := c.Conversation(ctx, otherID, listing)
		if err != nil {
			c.logger.Warn("conversation preload failed", "other_user_id", otherID, "error", err)
		}
		done <- err
	}()
	return done
}

// Open starts a session on conversationID. The session falls back to fetch-only mode when
// its realtime channel cannot be set up.
func (c *Coordinator) Open(ctx context.Context, conversationID string, observer Observer) (*Session, error) {
	if c.isClosed() {
		return nil, domainchat.ErrNotAuthenticated
	}
	s := &Session{
		id:             uuid.NewString(),
		conversationID: conversationID,
		selfID:         c.userID,
		store:          c.store,
		mux:            c.mux,
		logger:         c.logger,
		now:            c.now,
		newLocalID:     c.newLocalID,
		historyLimit:   c.historyLimit,
		observer:       observer,
		onClose:        c.forget,
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Close()
		return nil, domainchat.ErrNotAuthenticated
	}
	c.sessions[s.id] = s
	c.mu.Unlock()

	c.logger.Info("chat session opened", "session_id", s.id, "conversation_id", conversationID, "mode", s.Mode().String())
	return s, nil
}

func (c *Coordinator) Session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domainchat.ErrNotAuthenticated
	}
	s, ok := c.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (c *Coordinator) forget(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}

// Details loads the conversation and fills participant names and avatars from the profile
// directory when one is configured.
func (c *Coordinator) Details(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	if c.isClosed() {
		return domainchat.ConversationDetails{}, domainchat.ErrNotAuthenticated
	}
	details, err := c.store.GetConversationDetails(ctx, conversationID)
	if err != nil {
		return domainchat.ConversationDetails{}, persistence("get conversation details", err)
	}
	c.enrich(ctx, &details)
	return details, nil
}

func (c *Coordinator) enrich(ctx context.Context, details *domainchat.ConversationDetails) {
	if c.profiles == nil || len(details.Participants) == 0 {
		return
	}
	ids := make([]string, 0, len(details.Participants))
	for _, p := range details.Participants {
		ids = append(ids, p.UserID)
	}
	profiles, err := c.profiles.Profiles(ctx, ids)
	if err != nil {
		c.logger.Warn("participant profiles unavailable", "conversation_id", details.ConversationID, "error", err)
		return
	}
	for i, p := range details.Participants {
		profile, ok := profiles[p.UserID]
		if !ok {
			continue
		}
		if profile.Name != "" {
			details.Participants[i].Name = profile.Name
		}
		if profile.AvatarURL != "" {
			details.Participants[i].AvatarURL = profile.AvatarURL
		}
	}
}

// Inbox lists the current user's conversations with their details.
func (c *Coordinator) Inbox(ctx context.Context) ([]domainchat.ConversationDetails, error) {
	if c.isClosed() {
		return nil, domainchat.ErrNotAuthenticated
	}
	ids, err := c.store.ListConversationIDsForUser(ctx, c.userID)
	if err != nil {
		return nil, persistence("list conversations", err)
	}
	out := make([]domainchat.ConversationDetails, 0, len(ids))
	for _, id := range ids {
		details, err := c.Details(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, details)
	}
	return out, nil
}

// Close ends the identity: the cache is cleared, every session and realtime channel is
// closed, and later calls fail with ErrNotAuthenticated.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cache.Clear()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	c.mux.Close()
	c.logger.Info("chat coordinator closed", "sessions", len(sessions))
}

// CachedConversations reports the number of cached pairs.
func (c *Coordinator) CachedConversations() int { return c.cache.Len() }
