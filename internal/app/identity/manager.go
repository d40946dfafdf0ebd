package identity

import (
	"log/slog"
	"sync"

	"marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
)

// Factory builds the coordinator of a freshly authenticated user.
type Factory func(userID string) (*chat.Coordinator, error)

// Manager owns the coordinator of the single identity a client process acts as.
type Manager struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	current *chat.Coordinator
}

func NewManager(factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{factory: factory, logger: logger}
}

// Apply moves the manager to the identity described by t. Signing in as the current user
// keeps its coordinator; any other change closes it.
func (m *Manager) Apply(t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Kind == SignedIn && m.current != nil && m.current.UserID() == t.UserID {
		return nil
	}
	if m.current != nil {
		m.logger.Info("identity changed, closing chat state", "previous_user_id", m.current.UserID(), "transition", t.Kind.String())
		m.current.Close()
		m.current = nil
	}
	if t.Kind != SignedIn {
		return nil
	}
	c, err := m.factory(t.UserID)
	if err != nil {
		return err
	}
	m.current = c
	m.logger.Info("identity signed in", "user_id", t.UserID)
	return nil
}

func (m *Manager) Current() (*chat.Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, domainchat.ErrNotAuthenticated
	}
	return m.current, nil
}

func (m *Manager) Close() {
	_ = m.Apply(Transition{Kind: SignedOut})
}
