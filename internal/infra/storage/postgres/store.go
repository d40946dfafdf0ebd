package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/feed"
)

var ErrListenerDown = errors.New("postgres: insert listener not connected")

// Store keeps conversations in Postgres. Realtime delivery comes from the insert trigger
// through a Listener; without a connected listener SubscribeInserts fails.
type Store struct {
	pool     *pgxpool.Pool
	hub      *feed.Hub
	listener *Listener
	logger   *slog.Logger
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	s := &Store{pool: pool, hub: feed.NewHub(logger), logger: logger}
	s.listener = &Listener{store: s, logger: logger, retry: time.Second}
	return s
}

// Listener returns the LISTEN loop feeding this store's subscribers.
func (s *Store) Listener() *Listener { return s.listener }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) InsertConversation(ctx context.Context, listing domainchat.ListingContext) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, listing_id, listing_kind, title, status) VALUES ($1, $2, $3, $4, $5)`,
		id, nullable(listing.ListingID), nullable(string(listing.ListingKind)), nullable(listing.Title), string(domainchat.StatusActive))
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *Store) InsertParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domainchat.ErrConversationNotFound
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *Store) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM conversation_participants WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return ids, nil
}

func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	msg := domainchat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content).Scan(&msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domainchat.Message{}, domainchat.ErrConversationNotFound
		}
		return domainchat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		conversationID, limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domainchat.Message{}
	}
	return msgs, nil
}

func (s *Store) messageByID(ctx context.Context, id string) (domainchat.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at FROM messages WHERE id = $1`, id)
	if err != nil {
		return domainchat.Message{}, err
	}
	return pgx.CollectOneRow(rows, scanMessage)
}

func scanMessage(row pgx.CollectableRow) (domainchat.Message, error) {
	var msg domainchat.Message
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, err
}

func (s *Store) GetConversationDetails(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	var listingID, listingKind, title *string
	err := s.pool.QueryRow(ctx,
		`SELECT listing_id, listing_kind, title FROM conversations WHERE id = $1`, conversationID).
		Scan(&listingID, &listingKind, &title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domainchat.ConversationDetails{}, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("get conversation: %w", err)
	}
	details := domainchat.ConversationDetails{
		ConversationID: conversationID,
		Title:          deref(title),
		ListingID:      deref(listingID),
		ListingKind:    domainchat.ListingKind(deref(listingKind)),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("list participants: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("list participants: %w", err)
	}
	for _, u := range users {
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: u})
	}
	return details, nil
}

func (s *Store) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return domainchat.ChannelHandle{}, err
	}
	if !s.listener.Connected() {
		return domainchat.ChannelHandle{}, ErrListenerDown
	}
	return s.hub.Subscribe(conversationID, onInsert), nil
}

func (s *Store) CloseChannel(handle domainchat.ChannelHandle) error {
	s.hub.Close(handle)
	return nil
}

func nullable(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
