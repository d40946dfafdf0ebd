package identity

import (
	"log/slog"
	"strings"
	"sync"

	"marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// Registry keeps one coordinator per user for processes serving many identities.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	mu     sync.Mutex
	byUser map[string]*chat.Coordinator
	closed bool
}

func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{factory: factory, logger: logger, byUser: make(map[string]*chat.Coordinator)}
}

// For returns the coordinator of userID, creating it on first use.
func (r *Registry) For(userID string) (*chat.Coordinator, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainchat.ErrNotAuthenticated
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domainchat.ErrNotAuthenticated
	}
	if c, ok := r.byUser[userID]; ok {
		return c, nil
	}
	c, err := r.factory(userID)
	if err != nil {
		return nil, err
	}
	r.byUser[userID] = c
	r.logger.Debug("chat coordinator created", "user_id", userID)
	return c, nil
}

// Drop closes and forgets the coordinator of userID. It reports whether one existed.
func (r *Registry) Drop(userID string) bool {
	r.mu.Lock()
	c, ok := r.byUser[userID]
	delete(r.byUser, userID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := r.byUser
	r.byUser = make(map[string]*chat.Coordinator)
	r.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
