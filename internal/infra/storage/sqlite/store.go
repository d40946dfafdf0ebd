package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/feed"
)

//go:embed schema.sql
var schemaSQL string

// Store persists conversations in a SQLite file. Inserts are announced through an
// in-process hub, so realtime delivery only reaches subscribers of the same process.
type Store struct {
	db  *sql.DB
	hub *feed.Hub
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema. The database runs
// in WAL mode with a single connection.
func Open(path string, hub *feed.Hub) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if hub == nil {
		hub = feed.NewHub(nil)
	}
	return &Store{db: db, hub: hub, now: func() time.Time { return time.Now().UTC() }}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) InsertConversation(ctx context.Context, listing domainchat.ListingContext) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, listing_id, listing_kind, title, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, nullable(listing.ListingID), nullable(string(listing.ListingKind)), nullable(listing.Title),
		string(domainchat.StatusActive), s.now().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *Store) InsertParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM conversation_participants WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, content string) (domainchat.Message, error) {
	msg := domainchat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domainchat.Message{}, domainchat.ErrConversationNotFound
		}
		return domainchat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	s.hub.Publish(msg)
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domainchat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	out := []domainchat.Message{}
	for rows.Next() {
		var msg domainchat.Message
		var created string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &created); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at of message %s: %w", msg.ID, err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) GetConversationDetails(ctx context.Context, conversationID string) (domainchat.ConversationDetails, error) {
	var listingID, listingKind, title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT listing_id, listing_kind, title FROM conversations WHERE id = ?`, conversationID).
		Scan(&listingID, &listingKind, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return domainchat.ConversationDetails{}, domainchat.ErrConversationNotFound
	}
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("get conversation: %w", err)
	}
	details := domainchat.ConversationDetails{
		ConversationID: conversationID,
		Title:          title.String,
		ListingID:      listingID.String,
		ListingKind:    domainchat.ListingKind(listingKind.String),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return domainchat.ConversationDetails{}, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return domainchat.ConversationDetails{}, err
		}
		details.Participants = append(details.Participants, domainchat.ParticipantProfile{UserID: userID})
	}
	return details, rows.Err()
}

func (s *Store) SubscribeInserts(ctx context.Context, conversationID string, onInsert func(domainchat.Message)) (domainchat.ChannelHandle, error) {
	if err := ctx.Err(); err != nil {
		return domainchat.ChannelHandle{}, err
	}
	return s.hub.Subscribe(conversationID, onInsert), nil
}

func (s *Store) CloseChannel(handle domainchat.ChannelHandle) error {
	s.hub.Close(handle)
	return nil
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
