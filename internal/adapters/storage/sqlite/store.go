package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

// Store keeps conversations, messages and token balances in one SQLite database.
// 1 store, implements 3 interfaces.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex // serializes writers, sqlite allows a single one anyway
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	persona_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(user_id, persona_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	author TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS token_balances (
	user_id TEXT PRIMARY KEY,
	balance INTEGER NOT NULL CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS token_debits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	cost INTEGER NOT NULL,
	model_tag TEXT NOT NULL,
	description TEXT NOT NULL,
	conversation_id TEXT,
	created_at INTEGER NOT NULL
);
`

// NewStore opens (or creates) the database at path. ":memory:" is accepted for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" would get its own database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	conv := &domain.Conversation{
		ID:        domain.ConversationID(uuid.NewString()),
		UserID:    in.UserID,
		PersonaID: in.PersonaID,
		Mode:      domain.ModePublic,
		CreatedAt: createdAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, persona_id, mode, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(conv.ID), string(conv.UserID), string(conv.PersonaID), string(conv.Mode), createdAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite CreateConversation: %w", err)
	}
	return conv, nil
}

func (s *Store) FindLatestConversation(ctx context.Context, userID domain.UserID, personaID domain.PersonaID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, persona_id, mode, created_at FROM conversations
		 WHERE user_id = ? AND persona_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		string(userID), string(personaID),
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite FindLatestConversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, persona_id, mode, created_at FROM conversations WHERE id = ?`,
		string(id),
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite GetConversation: %w", err)
	}
	return conv, nil
}

func scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var (
		id, userID, personaID, mode string
		createdAt                   int64
	)
	if err := row.Scan(&id, &userID, &personaID, &mode, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.Conversation{
		ID:        domain.ConversationID(id),
		UserID:    domain.UserID(userID),
		PersonaID: domain.PersonaID(personaID),
		Mode:      domain.Mode(mode),
		CreatedAt: time.Unix(0, createdAt),
	}, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, conversationID domain.ConversationID, in domain.NewMessage) (*domain.Message, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite AppendMessage begin: %w", err)
	}
	defer tx.Rollback()

	// creation time is the ordering key, keep it strictly increasing per conversation
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, string(conversationID),
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("sqlite AppendMessage last: %w", err)
	}
	nanos := createdAt.UnixNano()
	if last.Valid && nanos <= last.Int64 {
		nanos = last.Int64 + 1
	}

	id := domain.MessageID(uuid.NewString())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, author, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(id), string(conversationID), string(in.Author), in.Text, nanos,
	); err != nil {
		return nil, fmt.Errorf("sqlite AppendMessage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite AppendMessage commit: %w", err)
	}

	return &domain.Message{
		Ref:            domain.PersistedRef(id),
		ConversationID: conversationID,
		Author:         in.Author,
		Text:           in.Text,
		CreatedAt:      time.Unix(0, nanos),
	}, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, text, created_at FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		string(conversationID),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListMessages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			id, author, text string
			createdAt        int64
		)
		if err := rows.Scan(&id, &author, &text, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite ListMessages scan: %w", err)
		}
		out = append(out, &domain.Message{
			Ref:            domain.PersistedRef(domain.MessageID(id)),
			ConversationID: conversationID,
			Author:         domain.Role(author),
			Text:           text,
			CreatedAt:      time.Unix(0, createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite ListMessages: %w", err)
	}
	return out, nil
}

// ─────────────────────────────────────────
// TokenLedger implementation
// ─────────────────────────────────────────

// Grant adds amount tokens to the user's balance, creating the row if needed.
func (s *Store) Grant(ctx context.Context, userID domain.UserID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_balances (user_id, balance) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
		string(userID), amount,
	)
	if err != nil {
		return fmt.Errorf("sqlite Grant: %w", err)
	}
	return nil
}

// OpenAccount creates the user's balance row with the opening amount; an existing row is left alone.
func (s *Store) OpenAccount(ctx context.Context, userID domain.UserID, opening int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_balances (user_id, balance) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		string(userID), opening,
	)
	if err != nil {
		return fmt.Errorf("sqlite OpenAccount: %w", err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, userID domain.UserID) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM token_balances WHERE user_id = ?`, string(userID),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite Balance: %w", err)
	}
	return balance, nil
}

func (s *Store) CheckBalance(ctx context.Context, userID domain.UserID) (bool, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

func (s *Store) Debit(ctx context.Context, d domain.Debit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite Debit begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE token_balances SET balance = balance - ? WHERE user_id = ? AND balance >= ?`,
		d.Cost, string(d.UserID), d.Cost,
	)
	if err != nil {
		return fmt.Errorf("sqlite Debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite Debit: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("debit %d from %s: %w", d.Cost, d.UserID, domain.ErrInsufficientTokens)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_debits (user_id, cost, model_tag, description, conversation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(d.UserID), d.Cost, d.ModelTag, d.Description, nullable(string(d.ConversationID)), s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite Debit record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite Debit commit: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
